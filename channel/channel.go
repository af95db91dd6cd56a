// Package channel defines the interface for interactive surfaces
// (Slack, etc.) that drive evaluation sessions alongside the HTTP API.
package channel

import "context"

// Channel is a long-running interactive surface. Run blocks until the
// context is canceled or a fatal error occurs.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}
