package model

import "errors"

// Error categories for the session engine. Callers classify failures with
// errors.Is; packages wrap these with fmt.Errorf("%w: ...") for detail.
var (
	// ErrValidation marks a malformed verdict, score, or damage value.
	ErrValidation = errors.New("validation error")

	// ErrState marks an operation that is invalid for the current
	// session or turn state.
	ErrState = errors.New("state error")

	// ErrConflict marks a duplicate active session for a subject or an
	// attempt to open a second pending turn.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown session or missing pending turn.
	ErrNotFound = errors.New("not found")

	// ErrJudgeUnavailable marks a judge timeout or malformed judge
	// response. The affected turn stays pending and is safe to retry.
	ErrJudgeUnavailable = errors.New("judge unavailable")

	// ErrInvalidMode marks an unrecognized session mode.
	ErrInvalidMode = errors.New("invalid mode")
)
