package kue

import "errors"

var (
	// Record errors.
	ErrJobNotFound = errors.New("kue: job not found")
	ErrJobCorrupt  = errors.New("kue: job record corrupt")
	ErrEmptyType   = errors.New("kue: job type is empty")

	// State errors.
	ErrInvalidState = errors.New("kue: invalid job state")

	// Payload errors.
	ErrDecode = errors.New("kue: decode job data")
)
