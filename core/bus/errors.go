package bus

import "errors"

var (
	// ErrDataTooLarge is returned when an envelope payload exceeds MaxData.
	ErrDataTooLarge = errors.New("envelope data too large")
	// ErrClosed is returned when using a closed bus.
	ErrClosed = errors.New("bus closed")
	// ErrMalformedData is returned by data accessors on short payloads.
	ErrMalformedData = errors.New("malformed envelope data")
)
