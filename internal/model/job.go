package model

import "time"

type JobKind string

const (
	KindMetadataProbe JobKind = "metadata_probe"
	KindListFetch     JobKind = "list_fetch"
	KindDownload      JobKind = "download"
	KindParse         JobKind = "parse"
)

func IsKnownKind(kind JobKind) bool {
	switch kind {
	case KindMetadataProbe, KindListFetch, KindDownload, KindParse:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts returns the retry budget for a kind when the submitter
// does not set one explicitly.
func DefaultMaxAttempts(kind JobKind) int {
	switch kind {
	case KindParse:
		return 2
	default:
		return 3
	}
}

type Channel string

const (
	ChannelAuthenticated Channel = "authenticated"
	ChannelOpen          Channel = "open"
)

func ChannelFor(requiresAuth bool) Channel {
	if requiresAuth {
		return ChannelAuthenticated
	}
	return ChannelOpen
}

// Request is the executor-facing description of the work. The scheduler
// carries it opaquely and never reads it.
type Request struct {
	URL          string `json:"url,omitempty"`
	OutputDir    string `json:"output_dir,omitempty"`
	ArchiveFile  string `json:"archive_file,omitempty"`
	Quality      string `json:"quality,omitempty"`
	DeliveryMode string `json:"delivery_mode,omitempty"`
}

type Job struct {
	ID             string    `json:"id"`
	Kind           JobKind   `json:"kind"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	RequiresAuth   bool      `json:"requires_auth"`
	Channel        Channel   `json:"channel"`
	Priority       int       `json:"priority"`
	Status         JobStatus `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	LastFailure    FailureKind `json:"last_failure,omitempty"`
	Request        Request   `json:"request,omitempty"`
	Result         any       `json:"-"`
}

// Clone returns a copy safe to hand out of the dispatcher goroutine.
func (j *Job) Clone() Job {
	c := *j
	return c
}
