package model

import "fmt"

type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusPaused   JobStatus = "paused"
	StatusDone     JobStatus = "done"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
)

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	"": {
		StatusQueued: true,
		StatusPaused: true, // submitted while its scope is paused
	},
	StatusQueued: {
		StatusRunning:  true,
		StatusPaused:   true,
		StatusCanceled: true,
	},
	StatusPaused: {
		StatusQueued:   true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusDone:     true,
		StatusQueued:   true, // transient or rate-limited retry re-enqueue
		StatusPaused:   true, // retry re-enqueue while scope is paused
		StatusFailed:   true,
		StatusCanceled: true,
	},
	StatusDone:     {},
	StatusFailed:   {},
	StatusCanceled: {},
}

func IsKnownStatus(status JobStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus JobStatus, reason string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s kind=%s)", from, toStatus, job.ID, job.Kind)
	}
	job.Status = toStatus
	job.Reason = reason
	return nil
}
