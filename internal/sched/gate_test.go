package sched

import "testing"

func TestGateSerializesBySubmissionOrder(t *testing.T) {
	g := newSubscriptionGate()
	g.enroll("sub", "a")
	g.enroll("sub", "b")

	if !g.admissible("sub", "a") {
		t.Fatal("front job must be admissible")
	}
	if g.admissible("sub", "b") {
		t.Fatal("second job must wait for the front job")
	}
	if !g.acquire("sub", "a") {
		t.Fatal("acquire of admissible job failed")
	}
	if g.admissible("sub", "b") {
		t.Fatal("gate is held, nothing is admissible")
	}
	g.release("sub", "a")
	if !g.acquire("sub", "b") {
		t.Fatal("next in line must acquire after release")
	}
}

func TestGateEmptySubscriptionAlwaysAdmissible(t *testing.T) {
	g := newSubscriptionGate()
	if !g.admissible("", "a") || !g.acquire("", "a") {
		t.Fatal("jobs without a subscription are never gated")
	}
}

func TestGateEnrollFrontBeatsLaterSubmissions(t *testing.T) {
	g := newSubscriptionGate()
	g.enroll("sub", "a")
	g.enroll("sub", "b")
	if !g.acquire("sub", "a") {
		t.Fatal("acquire a")
	}
	g.release("sub", "a")
	// a retries: it predates b and must run before it again.
	g.enrollFront("sub", "a")
	if g.admissible("sub", "b") {
		t.Fatal("retrying job must not be overtaken")
	}
	if !g.acquire("sub", "a") {
		t.Fatal("retrying job must be at the front")
	}
}

func TestGateWithdrawUnblocksNext(t *testing.T) {
	g := newSubscriptionGate()
	g.enroll("sub", "a")
	g.enroll("sub", "b")
	g.withdraw("sub", "a")
	if !g.admissible("sub", "b") {
		t.Fatal("withdrawing the front job must promote the next")
	}
}

func TestGateCollectsEmptyEntries(t *testing.T) {
	g := newSubscriptionGate()
	g.enroll("sub", "a")
	if !g.acquire("sub", "a") {
		t.Fatal("acquire a")
	}
	g.release("sub", "a")
	if len(g.entries) != 0 {
		t.Fatalf("released empty entry must be collected, have %d entries", len(g.entries))
	}
}
