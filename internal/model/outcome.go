package model

// FailureKind classifies an executor failure for retry policy. The scheduler
// consumes only the kind; the detail is kept for operators.
type FailureKind string

const (
	FailureTransient         FailureKind = "transient"
	FailureAuthInvalid       FailureKind = "auth_invalid"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureNotFound          FailureKind = "not_found"
	FailureResourceExhausted FailureKind = "resource_exhausted"

	// FailureNeedsCredential is a terminal tag set by the scheduler when an
	// auth_invalid failure cannot be retried because no fresh credential
	// exists. Executors never return it.
	FailureNeedsCredential FailureKind = "needs_credential"
)

type Failure struct {
	Kind       FailureKind `json:"kind"`
	Detail     string      `json:"detail,omitempty"`
	Credential string      `json:"credential,omitempty"` // credential handle the call used, if any
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Detail
}

// Outcome is the tagged result of one executor call. Failure == nil means
// success; Payload is opaque to the scheduler either way.
type Outcome struct {
	Payload any
	Failure *Failure
}

func Succeed(payload any) Outcome {
	return Outcome{Payload: payload}
}

func Fail(kind FailureKind, detail string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Detail: detail}}
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}
