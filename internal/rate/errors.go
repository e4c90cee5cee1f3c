package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when any bucket denies the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable indicates the bucket store could not be reached. Callers fail closed.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
