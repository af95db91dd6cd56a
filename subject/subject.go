// Package subject provides read-only lookup of the project under evaluation.
// The engine uses it to build judge context; nothing here is cached beyond
// one session's lifetime.
package subject

import (
	"context"
	"fmt"

	"github.com/crucible-edu/crucible/model"
)

// Subject describes a project under evaluation.
type Subject struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	TechStack []string `json:"tech_stack"`
}

// Directory resolves subject identifiers to project metadata.
type Directory interface {
	Lookup(ctx context.Context, id string) (*Subject, error)
}

// Static is an in-memory directory, used for seeding and tests.
type Static struct {
	subjects map[string]Subject
}

// NewStatic creates a directory from a fixed subject set.
func NewStatic(subjects []Subject) *Static {
	m := make(map[string]Subject, len(subjects))
	for _, s := range subjects {
		m[s.ID] = s
	}
	return &Static{subjects: m}
}

func (d *Static) Lookup(_ context.Context, id string) (*Subject, error) {
	s, ok := d.subjects[id]
	if !ok {
		return nil, fmt.Errorf("%w: subject %q", model.ErrNotFound, id)
	}
	return &s, nil
}
