package liveness

import "errors"

// Monitor lifecycle errors
var (
	ErrAlreadyRunning = errors.New("liveness monitor is already running")
	ErrNotRunning     = errors.New("liveness monitor is not running")
)
