package sched

import (
	"time"

	"vod-curator/internal/model"
)

// Event is one job status transition. Every transition is published; slow
// subscribers drop events rather than stalling the dispatcher.
type Event struct {
	Job    model.Job       `json:"job"`
	From   model.JobStatus `json:"from"`
	To     model.JobStatus `json:"to"`
	Reason string          `json:"reason,omitempty"`
	At     time.Time       `json:"at"`
}

// Subscribe registers an event channel with the given buffer. The returned
// cancel func unregisters and closes it.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	var id int
	if err := s.do(func() {
		id = s.nextSubID
		s.nextSubID++
		s.subscribers[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}
	cancel := func() {
		_ = s.do(func() {
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (s *Scheduler) publish(ev Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.log.Debug("dropping scheduler event for slow subscriber", "job_id", ev.Job.ID, "to", ev.To)
		}
	}
}
