// Package sched is the channeled concurrency scheduler: a priority job queue
// with per-channel capacity, a global upstream-call throttle, and per-
// subscription mutual exclusion. All upstream-touching work in the curator
// funnels through it.
//
// One dispatcher goroutine owns all mutable state. Submissions, control calls
// and executor completions enter as messages; nothing outside the loop ever
// touches a queue directly.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vod-curator/internal/model"
)

// Executor performs one scheduled unit of work against the upstream provider.
// It must bound its own call duration (reporting timeouts as transient
// failures) and honor ctx cancellation for jobs canceled in flight.
type Executor interface {
	Execute(ctx context.Context, job model.Job) model.Outcome
}

// CredentialProvider is the minimal credential-pool contract the failure
// classifier needs. Current returns ok=false for anonymous access.
type CredentialProvider interface {
	Current(channel model.Channel) (handle string, ok bool)
	Invalidate(handle string)
}

// Scope selects what a pause or resume applies to.
type Scope string

const (
	ScopeAll           Scope = "all"
	ScopeAuthenticated Scope = Scope(model.ChannelAuthenticated)
	ScopeOpen          Scope = Scope(model.ChannelOpen)
)

// SubmitSpec describes one job to schedule.
type SubmitSpec struct {
	ID             string // optional; generated when empty
	Kind           model.JobKind
	SubscriptionID string
	RequiresAuth   bool
	Priority       int
	MaxAttempts    int // 0 = per-kind default
	Request        model.Request
}

type completion struct {
	jobID   string
	outcome model.Outcome
}

type Scheduler struct {
	cfg   Config
	exec  Executor
	creds CredentialProvider
	log   *slog.Logger

	intents     chan func()
	completions chan completion
	loopDone    chan struct{}

	// Everything below is owned by the dispatcher goroutine.
	store       *jobStore
	lanes       map[model.Channel]*lane
	laneOrder   []model.Channel
	gate        *subscriptionGate
	throttle    throttle
	pausedAll   bool
	totalFailed int
	nextSeq     uint64
	wakeTimer   *time.Timer
	wakeAt      time.Time
	subscribers map[int]chan Event
	nextSubID   int
	waiters     map[string][]chan model.Job
	closing     bool
}

func New(cfg Config, exec Executor, creds CredentialProvider) *Scheduler {
	cfg = cfg.normalized()
	s := &Scheduler{
		cfg:         cfg,
		exec:        exec,
		creds:       creds,
		log:         cfg.Logger,
		intents:     make(chan func()),
		completions: make(chan completion),
		loopDone:    make(chan struct{}),
		store:       newJobStore(),
		gate:        newSubscriptionGate(),
		throttle:    throttle{permits: cfg.ThrottlePermits},
		subscribers: make(map[int]chan Event),
		waiters:     make(map[string][]chan model.Job),
	}
	s.lanes = map[model.Channel]*lane{
		model.ChannelAuthenticated: {name: model.ChannelAuthenticated, capacity: cfg.CapAuthenticated},
		model.ChannelOpen:          {name: model.ChannelOpen, capacity: cfg.CapOpen},
	}
	s.laneOrder = []model.Channel{model.ChannelAuthenticated, model.ChannelOpen}
	return s
}

// Start launches the dispatcher goroutine.
func (s *Scheduler) Start() {
	go s.loop()
}

// Close stops admission, cancels in-flight executor calls cooperatively, and
// returns once the dispatcher has drained every running job.
func (s *Scheduler) Close() {
	_ = s.do(func() {
		if s.closing {
			return
		}
		s.closing = true
		for _, id := range s.store.order {
			js := s.store.jobs[id]
			if js.dispatched && js.cancel != nil {
				js.cancel()
			}
		}
	})
	<-s.loopDone
}

// do runs fn inside the dispatcher goroutine and waits for it.
func (s *Scheduler) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.intents <- func() {
		fn()
		close(done)
	}:
	case <-s.loopDone:
		return ErrClosed
	}
	<-done
	return nil
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	for {
		if s.closing && s.runningTotal() == 0 {
			return
		}
		var timerC <-chan time.Time
		if s.wakeTimer != nil {
			timerC = s.wakeTimer.C
		}
		select {
		case fn := <-s.intents:
			fn()
		case c := <-s.completions:
			s.handleCompletion(c)
		case <-timerC:
			s.wakeTimer = nil
			s.wakeAt = time.Time{}
			s.admit()
		}
	}
}

func (s *Scheduler) runningTotal() int {
	n := 0
	for _, l := range s.lanes {
		n += l.running
	}
	return n
}

// Submit records a job and triggers admission. It never applies backpressure;
// waiting is expressed through queue time.
func (s *Scheduler) Submit(spec SubmitSpec) (string, error) {
	if spec.Kind == "" {
		return "", fmt.Errorf("job kind is required")
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	var submitErr error
	if err := s.do(func() { submitErr = s.submit(id, spec) }); err != nil {
		return "", err
	}
	if submitErr != nil {
		return "", submitErr
	}
	return id, nil
}

func (s *Scheduler) submit(id string, spec SubmitSpec) error {
	if existing := s.store.get(id); existing != nil {
		return fmt.Errorf("%w: %s (status=%s)", ErrDuplicateJob, id, existing.job.Status)
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts(spec.Kind)
	}
	ch := model.ChannelFor(spec.RequiresAuth)
	job := &model.Job{
		ID:             id,
		Kind:           spec.Kind,
		SubscriptionID: spec.SubscriptionID,
		RequiresAuth:   spec.RequiresAuth,
		Channel:        ch,
		Priority:       spec.Priority,
		MaxAttempts:    maxAttempts,
		CreatedAt:      s.cfg.Now(),
		Request:        spec.Request,
	}
	js := &jobState{job: job, seq: s.nextSeq}
	s.nextSeq++
	s.store.add(js)
	l := s.lanes[ch]
	l.add(js)
	s.gate.enroll(job.SubscriptionID, job.ID)

	initial := model.StatusQueued
	reason := ""
	if s.pausedAll || l.paused {
		initial = model.StatusPaused
		reason = "scope_paused"
	}
	s.transition(js, initial, reason)
	s.log.Info("job submitted", "job_id", id, "kind", job.Kind, "channel", ch, "subscription", job.SubscriptionID, "priority", job.Priority)
	s.admit()
	return nil
}

// admit moves queued jobs to running while channel capacity, the global
// throttle, and each job's subscription gate all allow it.
func (s *Scheduler) admit() {
	if s.closing {
		return
	}
	now := s.cfg.Now()
	for _, name := range s.laneOrder {
		l := s.lanes[name]
		if s.pausedAll || l.paused {
			continue
		}
		for l.running < l.capacity && s.throttle.available() {
			js := l.pick(now, s.gate)
			if js == nil {
				break
			}
			s.dispatch(l, js)
		}
	}
	s.scheduleWake(now)
}

func (s *Scheduler) dispatch(l *lane, js *jobState) {
	job := js.job
	s.gate.acquire(job.SubscriptionID, job.ID)
	s.throttle.acquire()
	l.running++
	l.remove(job.ID)
	js.dispatched = true

	job.Attempts++
	job.StartedAt = s.cfg.Now()
	s.transition(js, model.StatusRunning, "")
	s.log.Info("job dispatched", "job_id", job.ID, "kind", job.Kind, "channel", job.Channel, "attempt", job.Attempts)

	ctx, cancel := context.WithCancel(context.Background())
	js.cancel = cancel
	snapshot := job.Clone()
	go func() {
		outcome := s.exec.Execute(ctx, snapshot)
		cancel()
		s.completions <- completion{jobID: snapshot.ID, outcome: outcome}
	}()
}

func (s *Scheduler) handleCompletion(c completion) {
	js := s.store.get(c.jobID)
	if js == nil || !js.dispatched {
		return
	}
	job := js.job
	js.dispatched = false
	js.cancel = nil

	// Release order is fixed on every exit path: gate, throttle, slot.
	s.gate.release(job.SubscriptionID, job.ID)
	s.throttle.release()
	s.lanes[job.Channel].running--

	switch {
	case job.Status == model.StatusCanceled:
		// Canceled while in flight; the slot was held until the executor
		// returned, the outcome itself is discarded.
		s.log.Info("canceled job drained", "job_id", job.ID)
	case c.outcome.OK():
		job.Result = c.outcome.Payload
		job.LastError = ""
		job.LastFailure = ""
		js.rlStreak = 0
		s.transition(js, model.StatusDone, "")
		s.log.Info("job done", "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts)
	default:
		s.classifyFailure(js, c.outcome.Failure)
	}
	s.admit()
}

// classifyFailure applies the retry policy for one failed executor call. The
// job is still in running status when called.
func (s *Scheduler) classifyFailure(js *jobState, f *model.Failure) {
	job := js.job
	job.LastError = f.Error()
	job.LastFailure = f.Kind
	now := s.cfg.Now()

	switch f.Kind {
	case model.FailureRateLimited:
		// Upstream posture change, not a job defect: the attempt is given
		// back and the job waits out a longer mandatory cool-down.
		job.Attempts--
		js.rlStreak++
		delay := rateLimitBackoff(s.cfg, js.rlStreak)
		s.requeue(js, now.Add(delay), "rate_limited_backoff")
		s.log.Warn("job rate limited", "job_id", job.ID, "streak", js.rlStreak, "delay", delay)

	case model.FailureAuthInvalid:
		js.rlStreak = 0
		if s.creds != nil && f.Credential != "" {
			s.creds.Invalidate(f.Credential)
		}
		if !js.authRetried {
			if s.creds != nil {
				if _, ok := s.creds.Current(job.Channel); ok {
					js.authRetried = true
					s.requeue(js, now, "auth_retry_fresh_credential")
					s.log.Warn("credential invalidated, retrying with fresh credential", "job_id", job.ID)
					return
				}
			}
			job.LastFailure = model.FailureNeedsCredential
			s.fail(js, "needs_credential")
			return
		}
		s.fail(js, "auth_retry_failed")

	case model.FailureNotFound:
		s.fail(js, "not_found")

	case model.FailureResourceExhausted:
		s.log.Error("job failed on local resource exhaustion", "job_id", job.ID, "detail", f.Detail)
		s.fail(js, "resource_exhausted")

	default: // transient and any unrecognized kind
		js.rlStreak = 0
		if job.Attempts < job.MaxAttempts {
			delay := retryBackoff(s.cfg, job.Attempts)
			s.requeue(js, now.Add(delay), "transient_retry")
			s.log.Warn("job failed, will retry", "job_id", job.ID, "attempt", job.Attempts, "max_attempts", job.MaxAttempts, "delay", delay)
		} else {
			s.fail(js, "attempts_exhausted")
		}
	}
}

func (s *Scheduler) requeue(js *jobState, readyAt time.Time, reason string) {
	job := js.job
	js.readyAt = readyAt
	l := s.lanes[job.Channel]
	l.add(js)
	s.gate.enrollFront(job.SubscriptionID, job.ID)
	target := model.StatusQueued
	if s.pausedAll || l.paused {
		target = model.StatusPaused
	}
	s.transition(js, target, reason)
}

func (s *Scheduler) fail(js *jobState, reason string) {
	s.transition(js, model.StatusFailed, reason)
	s.log.Warn("job failed terminally", "job_id", js.job.ID, "kind", js.job.Kind, "reason", reason, "last_error", js.job.LastError)
}

// transition is the single choke point for status changes: it validates the
// move, stamps terminal bookkeeping, publishes the event, and wakes waiters.
func (s *Scheduler) transition(js *jobState, to model.JobStatus, reason string) {
	job := js.job
	from := job.Status
	if err := model.TransitionJobStatus(job, to, reason); err != nil {
		s.log.Error("refused job status transition", "err", err)
		return
	}
	if to.IsTerminal() {
		job.FinishedAt = s.cfg.Now()
		if to == model.StatusFailed {
			s.totalFailed++
		}
		for _, ch := range s.waiters[job.ID] {
			ch <- job.Clone()
		}
		delete(s.waiters, job.ID)
	}
	s.publish(Event{Job: job.Clone(), From: from, To: to, Reason: reason, At: s.cfg.Now()})
}

// scheduleWake arms the loop timer for the earliest backoff expiry.
func (s *Scheduler) scheduleWake(now time.Time) {
	var at time.Time
	for _, l := range s.lanes {
		if s.pausedAll || l.paused {
			continue
		}
		if la := l.nextReadyAt(now); !la.IsZero() && (at.IsZero() || la.Before(at)) {
			at = la
		}
	}
	if at.IsZero() {
		return
	}
	if s.wakeTimer != nil {
		if !s.wakeAt.IsZero() && !at.Before(s.wakeAt) {
			return
		}
		s.wakeTimer.Stop()
	}
	s.wakeTimer = time.NewTimer(at.Sub(now))
	s.wakeAt = at
}
