package source

import "errors"

var (
	// ErrTransient is returned when a feed kept failing with retryable
	// errors (network failures, 5xx, 429) until the attempts ran out.
	ErrTransient = errors.New("feed temporarily unavailable")

	// ErrFatal is returned for responses a retry cannot fix, such as 4xx.
	ErrFatal = errors.New("feed request rejected")

	// ErrCircuitOpen is returned without contacting the feed while its
	// circuit breaker is open.
	ErrCircuitOpen = errors.New("feed circuit breaker open")

	// ErrDecode is returned when a payload cannot be parsed.
	ErrDecode = errors.New("feed payload malformed")
)
