package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrResultNotFound    = errors.New("result not found")
	ErrIllegalTransition = errors.New("illegal job status transition")
	ErrRunInProgress     = errors.New("job run already queued or running")
	ErrRunLimitReached   = errors.New("account concurrent run limit reached")
)
