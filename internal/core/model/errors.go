package model

import "errors"

var (
	// ErrDimensionMismatch means a vector does not have the index dimension.
	// It is a configuration error and is never retried.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidVector rejects zero-length, zero-norm or non-finite vectors.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrEmbeddingUnavailable wraps any embedding failure, timeouts included.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrStaleTarget means the merge target changed after the decision was made.
	// Callers retry from Decide.
	ErrStaleTarget = errors.New("stale target")

	// ErrInvalidConfiguration is returned when thresholds or weights break their invariants.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrPersistenceFailure means a document write or index snapshot failed and
	// the operation was rolled back.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrInvalidStrategy is returned for an action/strategy pair the merger does not support.
	ErrInvalidStrategy = errors.New("invalid merge strategy")

	// ErrNothingToMerge is returned when Merge is called with a CREATE decision.
	ErrNothingToMerge = errors.New("decision has no merge target")

	// ErrInvalidDecision rejects a decision that breaks its own invariants,
	// e.g. one sent back by a client with a target on CREATE.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrTargetNotFound means the decision target no longer exists in the document store.
	ErrTargetNotFound = errors.New("target document not found")
)
