// Package store defines the session archive interface. Live sessions are
// owned by the engine's in-memory registry; the store checkpoints sessions,
// turns, and events so terminal sessions survive eviction and can be
// reviewed or exported later.
package store

import "github.com/crucible-edu/crucible/model"

// SessionStore persists sessions, their turn history, and lifecycle events.
type SessionStore interface {
	CreateSession(sess *model.Session) error
	UpdateSession(sess *model.Session) error

	// GetSession returns a session with its full turn history.
	GetSession(id string) (*model.Session, error)
	ListSessions() ([]*model.Session, error)

	// SaveTurn upserts one turn of a session, keyed by sequence index.
	// Called once when the prompt is appended and again when it resolves.
	SaveTurn(sessionID string, turn *model.Turn) error

	AddEvent(event *model.Event) error
	GetEvents(sessionID string, afterID int64) ([]*model.Event, error)

	Close() error
}
