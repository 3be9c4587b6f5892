package sched

import (
	"time"

	"vod-curator/internal/model"
)

// lane is one named capacity channel. The pending list holds queued and
// paused jobs; ordering is decided at pick time so reprioritization is a pure
// metadata change.
type lane struct {
	name     model.Channel
	capacity int
	running  int
	paused   bool
	pending  []*jobState
}

func (l *lane) add(js *jobState) {
	l.pending = append(l.pending, js)
}

func (l *lane) remove(jobID string) {
	for i, js := range l.pending {
		if js.job.ID == jobID {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

// pick returns the best admissible queued job: highest priority first, then
// earliest submission. Jobs whose subscription gate is busy are skipped so
// one blocked subscription never stalls the whole lane.
func (l *lane) pick(now time.Time, gate *subscriptionGate) *jobState {
	var best *jobState
	for _, js := range l.pending {
		if js.job.Status != model.StatusQueued {
			continue
		}
		if js.readyAt.After(now) {
			continue
		}
		if !gate.admissible(js.job.SubscriptionID, js.job.ID) {
			continue
		}
		if best == nil || beforeInQueue(js, best) {
			best = js
		}
	}
	return best
}

func beforeInQueue(a, b *jobState) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

// nextReadyAt returns the earliest future readiness among queued jobs, or the
// zero time when nothing is waiting on a backoff.
func (l *lane) nextReadyAt(now time.Time) time.Time {
	var at time.Time
	for _, js := range l.pending {
		if js.job.Status != model.StatusQueued || !js.readyAt.After(now) {
			continue
		}
		if at.IsZero() || js.readyAt.Before(at) {
			at = js.readyAt
		}
	}
	return at
}

// throttle is the process-wide ceiling on concurrent executor calls,
// independent of lane capacity.
type throttle struct {
	permits int
	inUse   int
}

func (t *throttle) available() bool {
	return t.inUse < t.permits
}

func (t *throttle) acquire() bool {
	if !t.available() {
		return false
	}
	t.inUse++
	return true
}

func (t *throttle) release() {
	if t.inUse > 0 {
		t.inUse--
	}
}
