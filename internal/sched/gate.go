package sched

// subscriptionGate serializes jobs that share a subscription id. It is
// advisory mutual exclusion plus a submission-order FIFO: a job may only run
// when no other job of its subscription is running AND it is the oldest
// pending job of that subscription. Entries are created lazily and collected
// once no job references them.
type subscriptionGate struct {
	entries map[string]*gateEntry
}

type gateEntry struct {
	heldBy  string   // running job id, "" when free
	pending []string // waiting job ids in submission order
}

func newSubscriptionGate() *subscriptionGate {
	return &subscriptionGate{entries: make(map[string]*gateEntry)}
}

// enroll records a newly submitted job in its subscription's FIFO.
func (g *subscriptionGate) enroll(subID, jobID string) {
	if subID == "" {
		return
	}
	e := g.entries[subID]
	if e == nil {
		e = &gateEntry{}
		g.entries[subID] = e
	}
	e.pending = append(e.pending, jobID)
}

// enrollFront re-enters a retrying job at the head of its subscription's
// FIFO. A retry predates anything still waiting, so it must not be overtaken
// by later submissions of the same subscription.
func (g *subscriptionGate) enrollFront(subID, jobID string) {
	if subID == "" {
		return
	}
	e := g.entries[subID]
	if e == nil {
		e = &gateEntry{}
		g.entries[subID] = e
	}
	e.pending = append([]string{jobID}, e.pending...)
}

// admissible reports whether jobID may run now: the gate is free and the job
// is at the front of its subscription's submission order.
func (g *subscriptionGate) admissible(subID, jobID string) bool {
	if subID == "" {
		return true
	}
	e := g.entries[subID]
	if e == nil || e.heldBy != "" || len(e.pending) == 0 {
		return false
	}
	return e.pending[0] == jobID
}

func (g *subscriptionGate) acquire(subID, jobID string) bool {
	if subID == "" {
		return true
	}
	if !g.admissible(subID, jobID) {
		return false
	}
	e := g.entries[subID]
	e.heldBy = jobID
	e.pending = e.pending[1:]
	return true
}

func (g *subscriptionGate) release(subID, jobID string) {
	if subID == "" {
		return
	}
	e := g.entries[subID]
	if e == nil || e.heldBy != jobID {
		return
	}
	e.heldBy = ""
	g.collect(subID)
}

// withdraw removes a job that will never run (canceled while waiting).
func (g *subscriptionGate) withdraw(subID, jobID string) {
	if subID == "" {
		return
	}
	e := g.entries[subID]
	if e == nil {
		return
	}
	for i, id := range e.pending {
		if id == jobID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	g.collect(subID)
}

func (g *subscriptionGate) collect(subID string) {
	e := g.entries[subID]
	if e != nil && e.heldBy == "" && len(e.pending) == 0 {
		delete(g.entries, subID)
	}
}
