// internal/session/errors.go
package session

import "errors"

// Sentinel errors returned by session operations. Each one rejects the
// single action that caused it; none of them tears down the session or
// affects other participants. Handlers match with errors.Is and relay the
// message to the originating connection only.
var (
	// ErrNotFound indicates an unknown competition, join code, or
	// participant handle.
	ErrNotFound = errors.New("not found")

	// ErrNameTaken indicates a currently-connected participant already
	// holds the requested display name (case-sensitive).
	ErrNameTaken = errors.New("name already taken")

	// ErrRoundInProgress indicates StartNextRound was called while the
	// current round is still active.
	ErrRoundInProgress = errors.New("round still in progress")

	// ErrNoMoreRounds indicates the cursor is already at the last round.
	ErrNoMoreRounds = errors.New("no more rounds")

	// ErrRoundClosed indicates a submission arrived while no round is
	// active, or after EndCurrentRound fired.
	ErrRoundClosed = errors.New("round is closed")

	// ErrAlreadySubmitted indicates the participant already has a result
	// for the active round. Duplicates are rejected, never overwritten.
	ErrAlreadySubmitted = errors.New("result already submitted for this round")

	// ErrInvalidResult indicates wpm or accuracy is outside its valid range.
	ErrInvalidResult = errors.New("invalid result values")
)
