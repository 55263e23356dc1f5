// Package errors defines the pipeline-wide error taxonomy. Every adapter,
// job, and storage call surfaces one of a small set of kinds so supervisors
// can decide log/metric/degrade without inspecting arbitrary error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the category of a pipeline error.
type Kind string

const (
	// TransientUpstream covers HTTP timeouts, 5xx, and generic transport
	// failures. Recovered locally with backoff; never fatal to a job.
	TransientUpstream Kind = "transient_upstream"
	// UpstreamSchema covers a malformed or unexpected upstream payload.
	UpstreamSchema Kind = "upstream_schema"
	// RateLimited is returned by an adapter's own limiter, distinct from an
	// upstream 429 (which arrives as TransientUpstream).
	RateLimited Kind = "rate_limited"
	// PriceMissing means all configured price sources were exhausted.
	PriceMissing Kind = "price_missing"
	// StoreUnavailable covers both the relational store and the
	// time-window store being unreachable.
	StoreUnavailable Kind = "store_unavailable"
	// PolicyReject covers safety-gate and DEX-swap-heuristic rejections.
	// Expected, logged at debug level, never an alarm.
	PolicyReject Kind = "policy_reject"
	// Fatal covers invariant violations. The offending record is
	// quarantined; the job continues.
	Fatal Kind = "fatal"
)

// PipelineError is the concrete error type returned across package
// boundaries in this module. Op names the failing operation (e.g.
// "adapter.fetchTrending"), Chain is the chain it concerns when known.
type PipelineError struct {
	Kind    Kind
	Op      string
	Chain   string
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *PipelineError) Error() string {
	var msg string
	switch {
	case e.Message != "" && e.Op != "":
		msg = fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	case e.Op != "":
		msg = fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New builds a PipelineError. Details may be nil.
func New(kind Kind, op string, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Message: message, Cause: cause}
}

// WithChain returns a copy of e scoped to chain; useful when an adapter
// knows which chain failed but the originating call site did not.
func (e *PipelineError) WithChain(chain string) *PipelineError {
	cp := *e
	cp.Chain = chain
	return &cp
}

// WithDetails attaches diagnostic key/value pairs, e.g. a sample of the
// malformed payload for an UpstreamSchema error.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewTransientUpstream(op string, cause error) *PipelineError {
	return New(TransientUpstream, op, "upstream call failed", cause)
}

func NewUpstreamSchema(op string, cause error) *PipelineError {
	return New(UpstreamSchema, op, "malformed upstream payload", cause)
}

func NewRateLimited(op string) *PipelineError {
	return New(RateLimited, op, "adapter rate limit would be exceeded", nil)
}

func NewPriceMissing(op string) *PipelineError {
	return New(PriceMissing, op, "all price sources exhausted", nil)
}

func NewStoreUnavailable(op string, cause error) *PipelineError {
	return New(StoreUnavailable, op, "store unreachable", cause)
}

func NewPolicyReject(op string, reason string) *PipelineError {
	return New(PolicyReject, op, reason, nil)
}

func NewFatal(op string, message string, cause error) *PipelineError {
	return New(Fatal, op, message, cause)
}

// KindOf extracts the Kind from err, walking Unwrap chains. Returns ("",
// false) for errors that never passed through this package.
func KindOf(err error) (Kind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) a PipelineError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether the error is of a transient kind
// (TransientUpstream or StoreUnavailable). internal/retry does not consult
// it: WithExponentialBackoff retries every non-nil error.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case TransientUpstream, StoreUnavailable:
		return true
	default:
		return false
	}
}

// TripsCircuit reports whether the error kind should count as a failure
// for a circuit breaker guarding an adapter instance. PolicyReject and
// UpstreamSchema are expected outcomes of normal operation and must not
// trip a breaker; TransientUpstream and StoreUnavailable do.
func TripsCircuit(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case TransientUpstream, StoreUnavailable:
		return true
	default:
		return false
	}
}
