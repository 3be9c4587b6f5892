package sched

import (
	"context"
	"fmt"

	"vod-curator/internal/model"
)

// Get returns a snapshot of one job.
func (s *Scheduler) Get(id string) (model.Job, error) {
	var job model.Job
	var getErr error
	if err := s.do(func() {
		js := s.store.get(id)
		if js == nil {
			getErr = fmt.Errorf("%w: %s", ErrUnknownJob, id)
			return
		}
		job = js.job.Clone()
	}); err != nil {
		return model.Job{}, err
	}
	return job, getErr
}

// List returns snapshots of matching jobs in submission order.
func (s *Scheduler) List(f Filter) []model.Job {
	var out []model.Job
	_ = s.do(func() { out = s.store.list(f) })
	return out
}

// Wait blocks until the job reaches a terminal status.
func (s *Scheduler) Wait(ctx context.Context, id string) (model.Job, error) {
	ch := make(chan model.Job, 1)
	var snap model.Job
	var found bool
	var waitErr error
	if err := s.do(func() {
		js := s.store.get(id)
		if js == nil {
			waitErr = fmt.Errorf("%w: %s", ErrUnknownJob, id)
			return
		}
		if js.job.Status.IsTerminal() {
			snap = js.job.Clone()
			found = true
			return
		}
		s.waiters[id] = append(s.waiters[id], ch)
	}); err != nil {
		return model.Job{}, err
	}
	if waitErr != nil {
		return model.Job{}, waitErr
	}
	if found {
		return snap, nil
	}
	select {
	case job := <-ch:
		return job, nil
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	case <-s.loopDone:
		return model.Job{}, ErrClosed
	}
}

// Cancel removes a queued or paused job immediately; a running job is marked
// canceled and its executor call is signaled through its context, with
// resources released once the call returns. Canceling a terminal job is a
// no-op.
func (s *Scheduler) Cancel(id string) error {
	var cancelErr error
	if err := s.do(func() {
		js := s.store.get(id)
		if js == nil {
			cancelErr = fmt.Errorf("%w: %s", ErrUnknownJob, id)
			return
		}
		job := js.job
		switch job.Status {
		case model.StatusQueued, model.StatusPaused:
			s.lanes[job.Channel].remove(job.ID)
			s.gate.withdraw(job.SubscriptionID, job.ID)
			s.transition(js, model.StatusCanceled, "canceled_before_start")
			s.admit()
		case model.StatusRunning:
			s.transition(js, model.StatusCanceled, "canceled_in_flight")
			if js.cancel != nil {
				js.cancel()
			}
		default:
			// already terminal
		}
	}); err != nil {
		return err
	}
	return cancelErr
}

// Prioritize changes the queue position of a queued or paused job. It never
// moves a running or terminal job.
func (s *Scheduler) Prioritize(id string, priority int) error {
	var prioErr error
	if err := s.do(func() {
		js := s.store.get(id)
		if js == nil {
			prioErr = fmt.Errorf("%w: %s", ErrUnknownJob, id)
			return
		}
		switch js.job.Status {
		case model.StatusQueued, model.StatusPaused:
			js.job.Priority = priority
			s.admit()
		}
	}); err != nil {
		return err
	}
	return prioErr
}

// PauseScope pauses admission for a scope. Idempotent.
func (s *Scheduler) PauseScope(scope Scope) error {
	return s.setScopePaused(scope, true)
}

// ResumeScope resumes admission for a scope. Idempotent.
func (s *Scheduler) ResumeScope(scope Scope) error {
	return s.setScopePaused(scope, false)
}

func (s *Scheduler) setScopePaused(scope Scope, paused bool) error {
	var scopeErr error
	if err := s.do(func() {
		switch scope {
		case ScopeAll:
			s.pausedAll = paused
		case ScopeAuthenticated, ScopeOpen:
			s.lanes[model.Channel(scope)].paused = paused
		default:
			scopeErr = fmt.Errorf("%w: %q", ErrUnknownScope, scope)
			return
		}
		s.refreshPausedStatuses()
		if !paused {
			s.admit()
		}
	}); err != nil {
		return err
	}
	return scopeErr
}

// refreshPausedStatuses reconciles queued/paused job statuses with the
// current scope flags. Backoff readiness times survive a pause cycle.
func (s *Scheduler) refreshPausedStatuses() {
	for _, l := range s.lanes {
		effective := s.pausedAll || l.paused
		for _, js := range l.pending {
			switch {
			case effective && js.job.Status == model.StatusQueued:
				s.transition(js, model.StatusPaused, "scope_paused")
			case !effective && js.job.Status == model.StatusPaused:
				s.transition(js, model.StatusQueued, "scope_resumed")
			}
		}
	}
}

// SetCapacity changes a channel's capacity for future admissions. Running
// jobs are never preempted; after a decrease the lane drains down to the new
// limit on its own.
func (s *Scheduler) SetCapacity(channel model.Channel, capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("capacity must be >= 0, got %d", capacity)
	}
	var capErr error
	if err := s.do(func() {
		l, ok := s.lanes[channel]
		if !ok {
			capErr = fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
			return
		}
		l.capacity = capacity
		s.admit()
	}); err != nil {
		return err
	}
	return capErr
}

// ChannelStats is the per-lane slice of Stats.
type ChannelStats struct {
	Capacity int  `json:"capacity"`
	Running  int  `json:"running"`
	Queued   int  `json:"queued"`
	Paused   bool `json:"paused"`
}

type StatusCounts struct {
	Total    int `json:"total"`
	Queued   int `json:"queued"`
	Paused   int `json:"paused"`
	Running  int `json:"running"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

type Stats struct {
	Channels        map[model.Channel]ChannelStats `json:"channels"`
	PausedScopes    []Scope                        `json:"paused_scopes,omitempty"`
	Counts          StatusCounts                   `json:"counts"`
	TotalFailed     int                            `json:"total_failed"`
	ThrottlePermits int                            `json:"throttle_permits"`
	ThrottleInUse   int                            `json:"throttle_in_use"`
}

// Stats returns a consistent snapshot of scheduler state.
func (s *Scheduler) Stats() Stats {
	var st Stats
	_ = s.do(func() {
		st.Channels = make(map[model.Channel]ChannelStats, len(s.lanes))
		if s.pausedAll {
			st.PausedScopes = append(st.PausedScopes, ScopeAll)
		}
		for _, name := range s.laneOrder {
			l := s.lanes[name]
			queued := 0
			for _, js := range l.pending {
				if js.job.Status == model.StatusQueued || js.job.Status == model.StatusPaused {
					queued++
				}
			}
			st.Channels[name] = ChannelStats{Capacity: l.capacity, Running: l.running, Queued: queued, Paused: l.paused}
			if l.paused {
				st.PausedScopes = append(st.PausedScopes, Scope(name))
			}
		}
		for _, id := range s.store.order {
			js := s.store.jobs[id]
			st.Counts.Total++
			switch js.job.Status {
			case model.StatusQueued:
				st.Counts.Queued++
			case model.StatusPaused:
				st.Counts.Paused++
			case model.StatusRunning:
				st.Counts.Running++
			case model.StatusDone:
				st.Counts.Done++
			case model.StatusFailed:
				st.Counts.Failed++
			case model.StatusCanceled:
				st.Counts.Canceled++
			}
		}
		st.TotalFailed = s.totalFailed
		st.ThrottlePermits = s.throttle.permits
		st.ThrottleInUse = s.throttle.inUse
	})
	return st
}
