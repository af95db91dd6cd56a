package engine

import (
	"sync"
	"time"

	"github.com/crucible-edu/crucible/combat"
	"github.com/crucible-edu/crucible/judge"
	"github.com/crucible-edu/crucible/ledger"
	"github.com/crucible-edu/crucible/model"
)

// session is the live state machine for one viva or battle run. All field
// access goes through mu; the engine never touches fields directly without
// holding it. Operations on different sessions proceed in parallel.
type session struct {
	mu sync.Mutex

	id        string
	subjectID string
	mode      model.Mode
	status    model.Status
	subj      judge.Context

	ledger *ledger.Ledger
	combat *combat.State // battle mode only

	// Viva question bank, fixed at session start. next indexes the first
	// question not yet asked.
	bank []string
	next int

	// judging is set while a judge call is in flight; a concurrent submit
	// fails fast instead of queuing.
	judging bool

	// fence is bumped on abandon. A judge response carrying a stale fence
	// is discarded instead of resolving a turn on a dead session.
	fence int

	createdAt time.Time
	updatedAt time.Time
	closedAt  *time.Time
}

// terminate moves the session to a terminal status. Caller holds mu.
func (s *session) terminate(status model.Status) {
	now := time.Now().UTC()
	s.status = status
	s.closedAt = &now
	s.updatedAt = now
}

// snapshot builds a read-only view. Caller holds mu. Turn history comes from
// the ledger's defensive copy, so the caller can never mutate live state
// through the result.
func (s *session) snapshot() *model.Session {
	snap := &model.Session{
		ID:        s.id,
		SubjectID: s.subjectID,
		Mode:      s.mode,
		Status:    s.status,
		Turns:     s.ledger.History(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.combat != nil {
		snap.ParticipantHP = s.combat.ParticipantHP
		snap.JudgeHP = s.combat.JudgeHP
	}
	if s.closedAt != nil {
		ts := *s.closedAt
		snap.ClosedAt = &ts
	}
	return snap
}
