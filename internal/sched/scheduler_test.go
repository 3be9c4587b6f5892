package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vod-curator/internal/model"
)

func testConfig() Config {
	return Config{
		CapAuthenticated:     1,
		CapOpen:              2,
		ThrottlePermits:      4,
		BackoffBase:          5 * time.Millisecond,
		BackoffMax:           20 * time.Millisecond,
		RateLimitBackoffBase: 5 * time.Millisecond,
		RateLimitBackoffMax:  20 * time.Millisecond,
	}
}

// fakeExecutor scripts outcomes per job and records every call. When started
// is set, each call announces itself there before running its handler.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	perJob  map[string]int
	handler func(ctx context.Context, job model.Job, call int) model.Outcome
	started chan model.Job
}

func newFakeExecutor(handler func(ctx context.Context, job model.Job, call int) model.Outcome) *fakeExecutor {
	return &fakeExecutor{perJob: make(map[string]int), handler: handler}
}

func (f *fakeExecutor) Execute(ctx context.Context, job model.Job) model.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, job.ID)
	f.perJob[job.ID]++
	call := f.perJob[job.ID]
	h := f.handler
	f.mu.Unlock()
	if f.started != nil {
		f.started <- job
	}
	if h == nil {
		return model.Succeed(nil)
	}
	return h(ctx, job, call)
}

func (f *fakeExecutor) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCreds struct {
	mu          sync.Mutex
	handles     []string
	invalidated []string
}

func (f *fakeCreds) Current(channel model.Channel) (string, bool) {
	if channel != model.ChannelAuthenticated {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return "", false
	}
	return f.handles[0], true
}

func (f *fakeCreds) Invalidate(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, handle)
	for i, h := range f.handles {
		if h == handle {
			f.handles = append(f.handles[:i], f.handles[i+1:]...)
			break
		}
	}
}

func startScheduler(t *testing.T, cfg Config, exec Executor, creds CredentialProvider) *Scheduler {
	t.Helper()
	s := New(cfg, exec, creds)
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func mustSubmit(t *testing.T, s *Scheduler, spec SubmitSpec) string {
	t.Helper()
	id, err := s.Submit(spec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func waitTerminal(t *testing.T, s *Scheduler, id string) model.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := s.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait %s: %v", id, err)
	}
	return job
}

func recvDispatch(t *testing.T, ch <-chan model.Job) model.Job {
	t.Helper()
	select {
	case job := <-ch:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dispatch")
		return model.Job{}
	}
}

func expectNoDispatch(t *testing.T, ch <-chan model.Job, d time.Duration) {
	t.Helper()
	select {
	case job := <-ch:
		t.Fatalf("unexpected dispatch of %s", job.ID)
	case <-time.After(d):
	}
}

func TestJobRunsToDone(t *testing.T) {
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
		return model.Succeed("payload")
	})
	s := startScheduler(t, testConfig(), exec, nil)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v1"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	if job.Channel != model.ChannelOpen {
		t.Fatalf("channel = %s, want open", job.Channel)
	}
	if job.StartedAt.IsZero() || job.FinishedAt.IsZero() {
		t.Fatal("terminal job must carry start and finish timestamps")
	}
	if job.Result != "payload" {
		t.Fatalf("result = %v, want payload", job.Result)
	}
}

func TestChannelCapacityHoldsUnderLoad(t *testing.T) {
	release := make(chan struct{})
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
		<-release
		return model.Succeed(nil)
	})
	exec.started = make(chan model.Job, 8)
	s := startScheduler(t, testConfig(), exec, nil)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}}))
	}

	recvDispatch(t, exec.started)
	recvDispatch(t, exec.started)
	expectNoDispatch(t, exec.started, 50*time.Millisecond)

	st := s.Stats()
	if got := st.Channels[model.ChannelOpen].Running; got != 2 {
		t.Fatalf("open running = %d, want 2", got)
	}
	if got := st.Counts.Queued; got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}

	for i := 0; i < 4; i++ {
		release <- struct{}{}
	}
	for _, id := range ids {
		if job := waitTerminal(t, s, id); job.Status != model.StatusDone {
			t.Fatalf("job %s = %s, want done", id, job.Status)
		}
	}
}

func TestGlobalThrottleCapsDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.CapOpen = 3
	cfg.ThrottlePermits = 1

	release := make(chan struct{})
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
		<-release
		return model.Succeed(nil)
	})
	exec.started = make(chan model.Job, 4)
	s := startScheduler(t, cfg, exec, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}}))
	}

	recvDispatch(t, exec.started)
	expectNoDispatch(t, exec.started, 50*time.Millisecond)

	st := s.Stats()
	if st.ThrottleInUse != 1 || st.Channels[model.ChannelOpen].Running != 1 {
		t.Fatalf("throttle must hold dispatch to one: in_use=%d running=%d", st.ThrottleInUse, st.Channels[model.ChannelOpen].Running)
	}

	for i := 0; i < 3; i++ {
		release <- struct{}{}
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}
}

func TestSubscriptionMutualExclusion(t *testing.T) {
	release := map[string]chan struct{}{
		"a1": make(chan struct{}),
		"a2": make(chan struct{}),
		"b1": make(chan struct{}),
	}
	exec := newFakeExecutor(func(_ context.Context, job model.Job, _ int) model.Outcome {
		<-release[job.ID]
		return model.Succeed(nil)
	})
	exec.started = make(chan model.Job, 4)
	s := startScheduler(t, testConfig(), exec, nil)

	mustSubmit(t, s, SubmitSpec{ID: "a1", Kind: model.KindDownload, SubscriptionID: "alpha", Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "a2", Kind: model.KindDownload, SubscriptionID: "alpha", Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "b1", Kind: model.KindDownload, SubscriptionID: "beta", Request: model.Request{URL: "v"}})

	first := recvDispatch(t, exec.started)
	second := recvDispatch(t, exec.started)
	got := map[string]bool{first.ID: true, second.ID: true}
	if !got["a1"] || !got["b1"] {
		t.Fatalf("expected a1 and b1 running, got %v", got)
	}
	// a2 shares alpha with a1 and must wait even though the lane has room.
	expectNoDispatch(t, exec.started, 50*time.Millisecond)

	close(release["a1"])
	if next := recvDispatch(t, exec.started); next.ID != "a2" {
		t.Fatalf("next dispatch = %s, want a2", next.ID)
	}
	close(release["a2"])
	close(release["b1"])
	for _, id := range []string{"a1", "a2", "b1"} {
		waitTerminal(t, s, id)
	}
}

func TestAuthenticatedLaneSerializesMixedSubscriptions(t *testing.T) {
	release := map[string]chan struct{}{
		"j1": make(chan struct{}),
		"j2": make(chan struct{}),
		"j3": make(chan struct{}),
	}
	exec := newFakeExecutor(func(_ context.Context, job model.Job, _ int) model.Outcome {
		<-release[job.ID]
		return model.Succeed(nil)
	})
	exec.started = make(chan model.Job, 4)
	s := startScheduler(t, testConfig(), exec, nil)

	mustSubmit(t, s, SubmitSpec{ID: "j1", Kind: model.KindDownload, SubscriptionID: "one", RequiresAuth: true, Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "j2", Kind: model.KindDownload, SubscriptionID: "one", RequiresAuth: true, Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "j3", Kind: model.KindDownload, SubscriptionID: "two", RequiresAuth: true, Request: model.Request{URL: "v"}})

	// Capacity 1 serializes the lane; j1 goes first and j2 cannot overtake j3
	// into the slot while j1 still holds subscription "one".
	if first := recvDispatch(t, exec.started); first.ID != "j1" {
		t.Fatalf("first dispatch = %s, want j1", first.ID)
	}
	expectNoDispatch(t, exec.started, 50*time.Millisecond)

	close(release["j1"])
	second := recvDispatch(t, exec.started)
	if second.ID != "j2" && second.ID != "j3" {
		t.Fatalf("second dispatch = %s, want j2 or j3", second.ID)
	}
	close(release[second.ID])
	third := recvDispatch(t, exec.started)
	if third.ID == second.ID || third.ID == "j1" {
		t.Fatalf("third dispatch = %s after %s", third.ID, second.ID)
	}
	close(release[third.ID])
	for _, id := range []string{"j1", "j2", "j3"} {
		if job := waitTerminal(t, s, id); job.Status != model.StatusDone {
			t.Fatalf("job %s = %s, want done", id, job.Status)
		}
	}
}

func TestRetryRunsBeforeLaterSubmissionOfSameSubscription(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottlePermits = 1
	exec := newFakeExecutor(func(_ context.Context, job model.Job, call int) model.Outcome {
		if job.ID == "a1" && call == 1 {
			return model.Fail(model.FailureTransient, "flaky upstream")
		}
		return model.Succeed(nil)
	})
	s := startScheduler(t, cfg, exec, nil)

	mustSubmit(t, s, SubmitSpec{ID: "a1", Kind: model.KindDownload, SubscriptionID: "alpha", Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "a2", Kind: model.KindDownload, SubscriptionID: "alpha", Request: model.Request{URL: "v"}})

	waitTerminal(t, s, "a1")
	waitTerminal(t, s, "a2")

	want := []string{"a1", "a1", "a2"}
	got := exec.callLog()
	if len(got) != len(want) {
		t.Fatalf("call log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call log = %v, want %v", got, want)
		}
	}
}

func TestTransientRetriesThenExhausts(t *testing.T) {
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
		return model.Fail(model.FailureTransient, "timeout talking to upstream")
	})
	s := startScheduler(t, testConfig(), exec, nil)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Reason != "attempts_exhausted" {
		t.Fatalf("reason = %q, want attempts_exhausted", job.Reason)
	}
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}
	if job.LastFailure != model.FailureTransient {
		t.Fatalf("last failure = %s, want transient", job.LastFailure)
	}
	if calls := len(exec.callLog()); calls != 3 {
		t.Fatalf("executor calls = %d, want 3", calls)
	}
}

func TestRateLimitNeverConsumesAttempts(t *testing.T) {
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, call int) model.Outcome {
		if call <= 2 {
			return model.Fail(model.FailureRateLimited, "429 too many requests")
		}
		return model.Succeed(nil)
	})
	s := startScheduler(t, testConfig(), exec, nil)

	// A single-attempt budget still survives two rate-limit hits.
	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, MaxAttempts: 1, Request: model.Request{URL: "v"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (rate limits are not the job's fault)", job.Attempts)
	}
	if calls := len(exec.callLog()); calls != 3 {
		t.Fatalf("executor calls = %d, want 3", calls)
	}
}

func TestAuthInvalidRetriesWithFreshCredential(t *testing.T) {
	creds := &fakeCreds{handles: []string{"jar1", "jar2"}}
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, call int) model.Outcome {
		if call == 1 {
			out := model.Fail(model.FailureAuthInvalid, "cookies are no longer valid")
			out.Failure.Credential = "jar1"
			return out
		}
		return model.Succeed(nil)
	})
	s := startScheduler(t, testConfig(), exec, creds)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, RequiresAuth: true, Request: model.Request{URL: "v"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.Attempts)
	}
	creds.mu.Lock()
	invalidated := append([]string(nil), creds.invalidated...)
	creds.mu.Unlock()
	if len(invalidated) != 1 || invalidated[0] != "jar1" {
		t.Fatalf("invalidated = %v, want [jar1]", invalidated)
	}
}

func TestAuthInvalidWithoutFreshCredentialNeedsCredential(t *testing.T) {
	creds := &fakeCreds{handles: []string{"jar1"}}
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
		out := model.Fail(model.FailureAuthInvalid, "login required")
		out.Failure.Credential = "jar1"
		return out
	})
	s := startScheduler(t, testConfig(), exec, creds)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, RequiresAuth: true, Request: model.Request{URL: "v"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Reason != "needs_credential" || job.LastFailure != model.FailureNeedsCredential {
		t.Fatalf("reason=%q last_failure=%s, want needs_credential", job.Reason, job.LastFailure)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
}

func TestAuthRetryFailsTerminallyOnSecondAuthError(t *testing.T) {
	creds := &fakeCreds{handles: []string{"jar1", "jar2", "jar3"}}
	exec := newFakeExecutor(func(_ context.Context, _ model.Job, call int) model.Outcome {
		out := model.Fail(model.FailureAuthInvalid, "403 forbidden")
		out.Failure.Credential = "jar1"
		return out
	})
	s := startScheduler(t, testConfig(), exec, creds)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, RequiresAuth: true, Request: model.Request{URL: "v"}})
	job := waitTerminal(t, s, id)

	if job.Status != model.StatusFailed || job.Reason != "auth_retry_failed" {
		t.Fatalf("status=%s reason=%q, want failed/auth_retry_failed", job.Status, job.Reason)
	}
	if calls := len(exec.callLog()); calls != 2 {
		t.Fatalf("executor calls = %d, want 2 (one fresh-credential retry)", calls)
	}
}

func TestNotFoundAndResourceExhaustedFailImmediately(t *testing.T) {
	cases := []struct {
		kind   model.FailureKind
		reason string
	}{
		{model.FailureNotFound, "not_found"},
		{model.FailureResourceExhausted, "resource_exhausted"},
	}
	for _, tc := range cases {
		exec := newFakeExecutor(func(_ context.Context, _ model.Job, _ int) model.Outcome {
			return model.Fail(tc.kind, "upstream says no")
		})
		s := startScheduler(t, testConfig(), exec, nil)

		id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
		job := waitTerminal(t, s, id)
		if job.Status != model.StatusFailed || job.Reason != tc.reason {
			t.Fatalf("%s: status=%s reason=%q", tc.kind, job.Status, job.Reason)
		}
		if job.Attempts != 1 {
			t.Fatalf("%s: attempts = %d, want 1 (no retries)", tc.kind, job.Attempts)
		}
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	exec := newFakeExecutor(nil)
	s := startScheduler(t, testConfig(), exec, nil)

	if err := s.PauseScope(ScopeAll); err != nil {
		t.Fatal(err)
	}
	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})

	if job, _ := s.Get(id); job.Status != model.StatusPaused {
		t.Fatalf("status = %s, want paused while scope is paused", job.Status)
	}
	if err := s.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if err := s.ResumeScope(ScopeAll); err != nil {
		t.Fatal(err)
	}

	job := waitTerminal(t, s, id)
	if job.Status != model.StatusCanceled || job.Reason != "canceled_before_start" {
		t.Fatalf("status=%s reason=%q", job.Status, job.Reason)
	}
	if calls := len(exec.callLog()); calls != 0 {
		t.Fatalf("canceled queued job must never reach the executor, got %d calls", calls)
	}
}

func TestCancelRunningJobReleasesSlot(t *testing.T) {
	exec := newFakeExecutor(func(ctx context.Context, _ model.Job, _ int) model.Outcome {
		<-ctx.Done()
		return model.Fail(model.FailureTransient, "canceled mid-flight")
	})
	exec.started = make(chan model.Job, 2)
	s := startScheduler(t, testConfig(), exec, nil)

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	recvDispatch(t, exec.started)

	if err := s.Cancel(id); err != nil {
		t.Fatal(err)
	}
	job := waitTerminal(t, s, id)
	if job.Status != model.StatusCanceled || job.Reason != "canceled_in_flight" {
		t.Fatalf("status=%s reason=%q", job.Status, job.Reason)
	}

	// The freed slot must admit new work.
	exec.mu.Lock()
	exec.handler = nil
	exec.mu.Unlock()
	next := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	recvDispatch(t, exec.started)
	if job := waitTerminal(t, s, next); job.Status != model.StatusDone {
		t.Fatalf("follow-up job = %s, want done", job.Status)
	}
}

func TestPauseResumeIsIdempotentPerScope(t *testing.T) {
	exec := newFakeExecutor(nil)
	s := startScheduler(t, testConfig(), exec, nil)

	if err := s.PauseScope(ScopeOpen); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseScope(ScopeOpen); err != nil {
		t.Fatal(err)
	}

	openID := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	authID := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, RequiresAuth: true, Request: model.Request{URL: "v"}})

	// The authenticated lane is unaffected by the open pause.
	if job := waitTerminal(t, s, authID); job.Status != model.StatusDone {
		t.Fatalf("auth job = %s, want done", job.Status)
	}
	if job, _ := s.Get(openID); job.Status != model.StatusPaused {
		t.Fatalf("open job = %s, want paused", job.Status)
	}

	if err := s.ResumeScope(ScopeOpen); err != nil {
		t.Fatal(err)
	}
	if err := s.ResumeScope(ScopeOpen); err != nil {
		t.Fatal(err)
	}
	if job := waitTerminal(t, s, openID); job.Status != model.StatusDone {
		t.Fatalf("open job after resume = %s, want done", job.Status)
	}
}

func TestUnknownScopeRejected(t *testing.T) {
	s := startScheduler(t, testConfig(), newFakeExecutor(nil), nil)
	if err := s.PauseScope(Scope("turbo")); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("err = %v, want ErrUnknownScope", err)
	}
}

func TestHigherPriorityDispatchesFirst(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottlePermits = 1
	exec := newFakeExecutor(nil)
	s := startScheduler(t, cfg, exec, nil)

	if err := s.PauseScope(ScopeAll); err != nil {
		t.Fatal(err)
	}
	mustSubmit(t, s, SubmitSpec{ID: "low", Kind: model.KindDownload, Priority: 0, Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "high", Kind: model.KindDownload, Priority: 5, Request: model.Request{URL: "v"}})
	if err := s.ResumeScope(ScopeAll); err != nil {
		t.Fatal(err)
	}

	waitTerminal(t, s, "low")
	waitTerminal(t, s, "high")
	got := exec.callLog()
	if len(got) != 2 || got[0] != "high" || got[1] != "low" {
		t.Fatalf("dispatch order = %v, want [high low]", got)
	}
}

func TestPrioritizeReordersQueuedJob(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottlePermits = 1
	exec := newFakeExecutor(nil)
	s := startScheduler(t, cfg, exec, nil)

	if err := s.PauseScope(ScopeAll); err != nil {
		t.Fatal(err)
	}
	mustSubmit(t, s, SubmitSpec{ID: "first", Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	mustSubmit(t, s, SubmitSpec{ID: "second", Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	if err := s.Prioritize("second", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.ResumeScope(ScopeAll); err != nil {
		t.Fatal(err)
	}

	waitTerminal(t, s, "first")
	waitTerminal(t, s, "second")
	got := exec.callLog()
	if len(got) != 2 || got[0] != "second" {
		t.Fatalf("dispatch order = %v, want second first", got)
	}

	if err := s.Prioritize("missing", 1); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestCapacityDecreaseDrainsWithoutPreemption(t *testing.T) {
	release := map[string]chan struct{}{
		"j1": make(chan struct{}),
		"j2": make(chan struct{}),
		"j3": make(chan struct{}),
	}
	exec := newFakeExecutor(func(_ context.Context, job model.Job, _ int) model.Outcome {
		<-release[job.ID]
		return model.Succeed(nil)
	})
	exec.started = make(chan model.Job, 4)
	s := startScheduler(t, testConfig(), exec, nil)

	for _, id := range []string{"j1", "j2", "j3"} {
		mustSubmit(t, s, SubmitSpec{ID: id, Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	}
	recvDispatch(t, exec.started)
	recvDispatch(t, exec.started)

	if err := s.SetCapacity(model.ChannelOpen, 1); err != nil {
		t.Fatal(err)
	}
	// Both running jobs keep their slots; the lane drains down to the new
	// limit, so finishing one must not admit j3 yet.
	close(release["j1"])
	waitTerminal(t, s, "j1")
	expectNoDispatch(t, exec.started, 50*time.Millisecond)

	close(release["j2"])
	waitTerminal(t, s, "j2")
	if next := recvDispatch(t, exec.started); next.ID != "j3" {
		t.Fatalf("next dispatch = %s, want j3", next.ID)
	}
	close(release["j3"])
	waitTerminal(t, s, "j3")

	if err := s.SetCapacity(model.ChannelOpen, -1); err == nil {
		t.Fatal("negative capacity must be rejected")
	}
	if err := s.SetCapacity(model.Channel("vip"), 1); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestDuplicateSubmitRejected(t *testing.T) {
	s := startScheduler(t, testConfig(), newFakeExecutor(nil), nil)
	mustSubmit(t, s, SubmitSpec{ID: "dup", Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	if _, err := s.Submit(SubmitSpec{ID: "dup", Kind: model.KindDownload}); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestEventsFollowLifecycle(t *testing.T) {
	s := startScheduler(t, testConfig(), newFakeExecutor(nil), nil)
	events, unsub := s.Subscribe(16)
	defer unsub()

	id := mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	waitTerminal(t, s, id)

	want := []model.JobStatus{model.StatusQueued, model.StatusRunning, model.StatusDone}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.Job.ID != id || ev.To != w {
				t.Fatalf("event = %s -> %s (job %s), want to=%s", ev.From, ev.To, ev.Job.ID, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", w)
		}
	}
}

func TestCloseDrainsInFlightWork(t *testing.T) {
	exec := newFakeExecutor(func(ctx context.Context, _ model.Job, _ int) model.Outcome {
		<-ctx.Done()
		return model.Fail(model.FailureTransient, "shutdown")
	})
	exec.started = make(chan model.Job, 2)
	s := New(testConfig(), exec, nil)
	s.Start()

	mustSubmit(t, s, SubmitSpec{Kind: model.KindDownload, Request: model.Request{URL: "v"}})
	recvDispatch(t, exec.started)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain the running job")
	}

	if _, err := s.Submit(SubmitSpec{Kind: model.KindDownload}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
