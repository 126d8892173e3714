package config

import "errors"

var (
	// ErrParsingConfig indicates that environment variables could not be
	// parsed into the target struct, usually a missing required variable or
	// a malformed value.
	ErrParsingConfig = errors.New("failed to parse config from environment")
)
