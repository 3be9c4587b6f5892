package sched

import (
	"context"
	"time"

	"vod-curator/internal/model"
)

// jobState is the dispatcher-private bookkeeping around one job.
type jobState struct {
	job         *model.Job
	seq         uint64
	readyAt     time.Time
	rlStreak    int  // consecutive rate-limited outcomes
	authRetried bool // one fresh-credential retry after auth_invalid
	dispatched  bool // currently holding gate/throttle/slot
	cancel      context.CancelFunc
}

// jobStore is the in-memory table of every job the process has seen, in
// submission order.
type jobStore struct {
	jobs  map[string]*jobState
	order []string
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*jobState)}
}

func (st *jobStore) add(js *jobState) {
	st.jobs[js.job.ID] = js
	st.order = append(st.order, js.job.ID)
}

func (st *jobStore) get(id string) *jobState {
	return st.jobs[id]
}

// Filter narrows List output; zero fields match everything.
type Filter struct {
	Channel        model.Channel
	Status         model.JobStatus
	SubscriptionID string
	Kind           model.JobKind
}

func (f Filter) matches(j *model.Job) bool {
	if f.Channel != "" && j.Channel != f.Channel {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.SubscriptionID != "" && j.SubscriptionID != f.SubscriptionID {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	return true
}

func (st *jobStore) list(f Filter) []model.Job {
	out := make([]model.Job, 0, len(st.order))
	for _, id := range st.order {
		js := st.jobs[id]
		if js == nil || !f.matches(js.job) {
			continue
		}
		out = append(out, js.job.Clone())
	}
	return out
}
