package txpool

import "errors"

// Pool errors
var (
	ErrAlreadyRunning = errors.New("pool already running")
	ErrNotResolved    = errors.New("handle not resolved")
)
