// Package ledger provides the append-only turn record for one session.
//
// The ledger enforces the single-pending-turn invariant: a new prompt may
// only be appended once the previous turn is resolved, and only the single
// pending turn can ever receive a verdict. Sequence indexes are zero-based,
// strictly increasing, and gapless. The ledger is not safe for concurrent
// use; the session state machine serializes access.
package ledger

import (
	"fmt"
	"time"

	"github.com/crucible-edu/crucible/model"
)

// Ledger is the ordered record of turns within one session.
type Ledger struct {
	turns []model.Turn
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Len returns the number of turns, pending or resolved.
func (l *Ledger) Len() int { return len(l.turns) }

// HasPending reports whether an unresolved turn exists.
func (l *Ledger) HasPending() bool {
	return len(l.turns) > 0 && !l.turns[len(l.turns)-1].Resolved()
}

// AppendPrompt creates a new pending turn with the next sequence index.
// It fails with model.ErrConflict if a pending turn already exists.
func (l *Ledger) AppendPrompt(prompt string) (model.Turn, error) {
	if l.HasPending() {
		return model.Turn{}, fmt.Errorf("%w: turn %d is still pending", model.ErrConflict, len(l.turns)-1)
	}
	t := model.Turn{
		Index:   len(l.turns),
		Prompt:  prompt,
		AskedAt: time.Now().UTC(),
	}
	l.turns = append(l.turns, t)
	return t, nil
}

// RecordResponse stores the participant's response on the pending turn.
// The response may be overwritten until the turn resolves, so a retry after
// a judge failure can carry a corrected answer. Fails with model.ErrNotFound
// if no pending turn exists.
func (l *Ledger) RecordResponse(text string) (model.Turn, error) {
	if !l.HasPending() {
		return model.Turn{}, fmt.Errorf("%w: no pending turn", model.ErrNotFound)
	}
	l.turns[len(l.turns)-1].Response = text
	return l.turns[len(l.turns)-1], nil
}

// ResolveCurrent attaches a verdict to the pending turn, making it immutable.
// Range checks depend on mode: viva verdicts must carry a score in
// [0, MaxScore]; battle verdicts must carry both damages in [0, MaxHP].
// Fails with model.ErrNotFound if no pending turn exists and with
// model.ErrValidation if the verdict is out of range.
func (l *Ledger) ResolveCurrent(v model.Verdict, mode model.Mode) (model.Turn, error) {
	if !l.HasPending() {
		return model.Turn{}, fmt.Errorf("%w: no pending turn to resolve", model.ErrNotFound)
	}
	if err := validate(v, mode); err != nil {
		return model.Turn{}, err
	}

	cur := &l.turns[len(l.turns)-1]
	now := time.Now().UTC()
	vc := v
	cur.Verdict = &vc
	cur.ResolvedAt = &now
	return *cur, nil
}

// Current returns a copy of the pending turn, if any.
func (l *Ledger) Current() (model.Turn, bool) {
	if !l.HasPending() {
		return model.Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// History returns the full ordered turn sequence. The slice and its verdicts
// are copies; mutating them does not affect the ledger.
func (l *Ledger) History() []model.Turn {
	out := make([]model.Turn, len(l.turns))
	copy(out, l.turns)
	for i := range out {
		if out[i].Verdict != nil {
			v := *out[i].Verdict
			out[i].Verdict = &v
		}
		if out[i].ResolvedAt != nil {
			ts := *out[i].ResolvedAt
			out[i].ResolvedAt = &ts
		}
	}
	return out
}

func validate(v model.Verdict, mode model.Mode) error {
	switch mode {
	case model.ModeViva:
		if v.Score < 0 || v.Score > model.MaxScore {
			return fmt.Errorf("%w: score %d outside [0,%d]", model.ErrValidation, v.Score, model.MaxScore)
		}
	case model.ModeBattle:
		if v.ParticipantDamage < 0 || v.ParticipantDamage > model.MaxHP {
			return fmt.Errorf("%w: participant damage %d outside [0,%d]", model.ErrValidation, v.ParticipantDamage, model.MaxHP)
		}
		if v.JudgeDamage < 0 || v.JudgeDamage > model.MaxHP {
			return fmt.Errorf("%w: judge damage %d outside [0,%d]", model.ErrValidation, v.JudgeDamage, model.MaxHP)
		}
	default:
		return fmt.Errorf("%w: %q", model.ErrInvalidMode, mode)
	}
	return nil
}
