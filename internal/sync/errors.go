package sync

import "errors"

var (
	// ErrAlreadyMarked is returned when an id is marked twice in one session.
	ErrAlreadyMarked = errors.New("entity already marked in this session")

	// ErrTooManyDeletions is returned by Finish when the deletion candidates
	// exceed the safety threshold and force is not set.
	ErrTooManyDeletions = errors.New("too many deletions")

	// ErrDeletionVetoed is returned when the policy refuses a deletion.
	ErrDeletionVetoed = errors.New("deletion vetoed by policy")

	// ErrFinished is returned for any use of a session after Finish.
	ErrFinished = errors.New("syncher already finished")

	ErrNoPolicy = errors.New("deletion policy is required")
)
