// Package combat implements the two-sided health-pool model for battle
// sessions. HP values are clamped to [0, model.MaxHP] and only ever decrease.
package combat

import "github.com/crucible-edu/crucible/model"

// Outcome is the result of applying one turn's damage.
type Outcome string

const (
	OutcomeOngoing Outcome = "ongoing"
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
)

// State holds the battle health pools and the turn counter. It has no notion
// of "already applied"; the session state machine calls ApplyDamage exactly
// once per resolved turn.
type State struct {
	ParticipantHP int
	JudgeHP       int
	TurnNumber    int
}

// NewState creates a battle state with both pools at full health.
func NewState() *State {
	return &State{ParticipantHP: model.MaxHP, JudgeHP: model.MaxHP}
}

// Terminal reports whether either pool has been exhausted.
func (s *State) Terminal() bool {
	return s.ParticipantHP == 0 || s.JudgeHP == 0
}

// ApplyDamage subtracts the damage pair from both pools atomically, clamping
// each at zero, and returns the derived outcome. Participant failure is
// evaluated first: if both pools reach zero in the same turn the outcome is
// OutcomeDefeat. That tie-break is deliberate, not incidental ordering.
func (s *State) ApplyDamage(participantDamage, judgeDamage int) Outcome {
	s.ParticipantHP = clamp(s.ParticipantHP - participantDamage)
	s.JudgeHP = clamp(s.JudgeHP - judgeDamage)
	s.TurnNumber++

	switch {
	case s.ParticipantHP == 0:
		return OutcomeDefeat
	case s.JudgeHP == 0:
		return OutcomeVictory
	default:
		return OutcomeOngoing
	}
}

func clamp(hp int) int {
	if hp < 0 {
		return 0
	}
	if hp > model.MaxHP {
		return model.MaxHP
	}
	return hp
}
