package rate

import "errors"

var (
	// ErrRateLimited reports that the caller exhausted the attempt budget
	// for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable reports that the backing redis instance could not
	// be reached while enforcing a limit.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
