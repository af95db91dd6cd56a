// Package model defines the core domain types shared across all Crucible packages.
// It has zero dependencies on other Crucible packages.
package model

import "time"

// Mode is the session interaction mode.
type Mode string

const (
	// ModeViva is sequential question/answer grading with no failure condition.
	ModeViva Mode = "viva"
	// ModeBattle is an adversarial turn exchange with health pools.
	ModeBattle Mode = "battle"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeViva || m == ModeBattle
}

// Status represents the current state of a session.
type Status string

const (
	StatusActive Status = "active"
	// StatusCompleted is the terminal state for viva sessions.
	StatusCompleted Status = "completed"
	// StatusVictory and StatusDefeat are terminal states for battle sessions.
	StatusVictory Status = "victory"
	StatusDefeat  Status = "defeat"
	// StatusAbandoned applies to either mode.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether s is a terminal status. Terminal sessions accept
// no further operations and their identifiers are never reused.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusVictory, StatusDefeat, StatusAbandoned:
		return true
	}
	return false
}

// HP pools start at MaxHP and are clamped to [0, MaxHP]. Viva scores are
// integers in [0, MaxScore].
const (
	MaxHP    = 100
	MaxScore = 10
)

// Verdict is the normalized judgment for a single turn. For viva turns only
// Score and Feedback are meaningful; for battle turns only the damage pair
// and Feedback are. Once attached to a turn it is never mutated.
type Verdict struct {
	Score             int    `json:"score"`
	Feedback          string `json:"feedback"`
	ParticipantDamage int    `json:"participant_damage"`
	JudgeDamage       int    `json:"judge_damage"`
}

// Turn is one prompt/response/verdict cycle. A turn with a prompt but no
// verdict is pending; at most one pending turn exists per session.
type Turn struct {
	Index      int        `json:"index"`
	Prompt     string     `json:"prompt"`
	Response   string     `json:"response,omitempty"`
	Verdict    *Verdict   `json:"verdict,omitempty"`
	AskedAt    time.Time  `json:"asked_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether a verdict has been applied to the turn.
func (t *Turn) Resolved() bool { return t.Verdict != nil }

// Session is the read view of one complete viva or battle run. The engine
// owns the live state; this struct is what snapshots, the archive store, and
// the HTTP API exchange.
type Session struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Mode      Mode   `json:"mode"`
	Status    Status `json:"status"`

	// Health pools, battle mode only. Serialized unconditionally: a pool at
	// zero is a defeat, not an absent field.
	ParticipantHP int `json:"participant_hp"`
	JudgeHP       int `json:"judge_hp"`

	Turns []Turn `json:"turns"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// CurrentTurn returns the pending turn, or nil if every turn is resolved.
func (s *Session) CurrentTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	last := &s.Turns[len(s.Turns)-1]
	if last.Resolved() {
		return nil
	}
	return last
}

// Event represents a single event in a session's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"` // "status", "prompt", "feedback", "outcome"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
