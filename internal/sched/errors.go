package sched

import "errors"

var (
	ErrUnknownJob     = errors.New("unknown job id")
	ErrDuplicateJob   = errors.New("job id already submitted")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownScope   = errors.New("unknown scope")
	ErrClosed         = errors.New("scheduler is closed")
)
