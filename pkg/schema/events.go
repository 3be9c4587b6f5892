// Package schema holds the wire payloads the curator publishes for external
// consumers (audit log collectors, dashboards).
package schema

// JobLifecycleEvent mirrors one scheduler status transition.
type JobLifecycleEvent struct {
	JobID          string `json:"job_id"`
	Kind           string `json:"kind"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Channel        string `json:"channel"`
	From           string `json:"from,omitempty"`
	To             string `json:"to"`
	Reason         string `json:"reason,omitempty"`
	Priority       int    `json:"priority"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"max_attempts"`
	LastError      string `json:"last_error,omitempty"`
	LastFailure    string `json:"last_failure,omitempty"`
	HappenedAt     int64  `json:"happened_at"`
}
