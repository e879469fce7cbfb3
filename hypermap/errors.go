package hypermap

import "errors"

var (
	// ErrInvalidConfiguration is returned by New when the requested size is
	// not a power of two greater than zero. It never occurs after
	// construction.
	ErrInvalidConfiguration = errors.New("map size must be a power of two")

	// ErrMapExhausted is returned by Set when no slot can be located for a
	// new key. The map never rehashes; the caller must reject the write or
	// remediate capacity out of band.
	ErrMapExhausted = errors.New("map exhausted")

	// ErrStaleOperator is returned by operator calls after the bound slot
	// was overwritten or deleted. Recoverable: re-fetch a fresh operator.
	ErrStaleOperator = errors.New("stale slot operator")
)
