package shared

import "errors"

var (
	// ErrNotFound indicates the entity is absent or owned by a different case.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInputs indicates a risk input outside its numeric domain.
	ErrInvalidInputs = errors.New("invalid risk inputs")
	// ErrInvalidTransition indicates an illegal stage move.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrZeroDelta signals that a calculation produced no provision change.
	// Callers treat it as "nothing to post", not as a failure.
	ErrZeroDelta = errors.New("zero provision delta")
	// ErrDuplicatePosting indicates a calculation already has a live posting.
	ErrDuplicatePosting = errors.New("calculation already posted")
	// ErrAlreadyReversed indicates a journal entry was reversed before.
	ErrAlreadyReversed = errors.New("journal entry already reversed")
	// ErrConcurrentModification indicates the per-case serializability check
	// failed at commit time. Callers re-read the aggregate and retry a
	// bounded number of times before surfacing the failure.
	ErrConcurrentModification = errors.New("concurrent case modification")
	// ErrAssessmentConsumed protects an assessment referenced by a calculation.
	ErrAssessmentConsumed = errors.New("assessment consumed by a calculation")
	// ErrCaseHasPostings blocks deletion of a case with ledger history.
	ErrCaseHasPostings = errors.New("case has journal postings")
)
