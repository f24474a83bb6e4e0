package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrStorageFailure      = errors.New("storage failure")
	ErrDuplicateArticle    = errors.New("duplicate article")
)

// RateLimitedError carries the provider's Retry-After hint.
type RateLimitedError struct {
	SourceID   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", ErrProviderRateLimited, e.SourceID, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", ErrProviderRateLimited, e.SourceID)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrProviderRateLimited
}
