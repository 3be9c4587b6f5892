// Package bus publishes job lifecycle events to NATS when an audit sink is
// configured. The scheduler knows nothing about NATS; the sink is just one
// more event subscriber.
package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"vod-curator/internal/sched"
	"vod-curator/pkg/schema"
)

const SubjectJobEvents = "vodc.jobs.events"

type Client struct {
	nc *nats.Conn
}

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("vod-curator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// PumpJobEvents forwards scheduler events to the audit subject until the
// events channel closes. Run it in its own goroutine.
func (c *Client) PumpJobEvents(events <-chan sched.Event, log *slog.Logger) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	for ev := range events {
		if err := c.PublishJSON(SubjectJobEvents, LifecycleEvent(ev)); err != nil {
			log.Warn("publish job event", "job_id", ev.Job.ID, "err", err)
		}
	}
}

// LifecycleEvent converts a scheduler event to its wire form.
func LifecycleEvent(ev sched.Event) schema.JobLifecycleEvent {
	return schema.JobLifecycleEvent{
		JobID:          ev.Job.ID,
		Kind:           string(ev.Job.Kind),
		SubscriptionID: ev.Job.SubscriptionID,
		Channel:        string(ev.Job.Channel),
		From:           string(ev.From),
		To:             string(ev.To),
		Reason:         ev.Reason,
		Priority:       ev.Job.Priority,
		Attempts:       ev.Job.Attempts,
		MaxAttempts:    ev.Job.MaxAttempts,
		LastError:      ev.Job.LastError,
		LastFailure:    string(ev.Job.LastFailure),
		HappenedAt:     ev.At.UnixMilli(),
	}
}
