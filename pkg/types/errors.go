package types

import (
	"context"
	"errors"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindEmbeddingUnavailable  ErrorKind = "embedding_unavailable"
	KindGenerationUnavailable ErrorKind = "generation_unavailable"
	KindStoreUnavailable      ErrorKind = "store_unavailable"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindNotFound              ErrorKind = "not_found"
	KindTimeout               ErrorKind = "timeout"
	KindInternal              ErrorKind = "internal"
)

var (
	// ErrEmbeddingUnavailable means the embedding generator failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrGenerationUnavailable means the text generator failed or timed out.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrStoreUnavailable means the backing store could not serve a request.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector's length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// KindOf maps err onto the error taxonomy. Unknown errors classify as KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEmbeddingUnavailable):
		return KindEmbeddingUnavailable
	case errors.Is(err, ErrGenerationUnavailable):
		return KindGenerationUnavailable
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDimensionMismatch):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
