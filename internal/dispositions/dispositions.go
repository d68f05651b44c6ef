// Package dispositions implements the consumer-loop error taxonomy of
// spec.md §7: given where in the pipeline a failure occurred, decide whether
// the entry should be acked or nacked and what to log. It is adapted from
// the teacher's policy/policy.go and policy/failure packages — those decided
// a boolean ShouldDelete for an SQS-shaped router; Kind below is a direct
// restatement of spec.md §7's table instead of the teacher's routing-failure
// enum, and Result.Ack replaces ShouldDelete so the concept reads correctly
// across SQS (ack==delete), Pub/Sub, and Redis alike.
package dispositions

import "context"

// Kind classifies where/why a delivery failed, mirroring spec.md §7 row by
// row.
type Kind int

const (
	// KindNone indicates success; no disposition override applies.
	KindNone Kind = iota
	// KindIgnore: callback raised IgnoreError. Log info, ack.
	KindIgnore
	// KindLogging: callback raised LoggingError. Log error with extras, nack.
	KindLogging
	// KindRetry: callback raised RetryError. Log info "retrying", nack, no stack trace.
	KindRetry
	// KindValidation: payload failed to parse/validate. Log error, nack.
	KindValidation
	// KindCallbackNotFound: no handler for (type, major); the error is wrapped in a
	// ValidationError upstream and dispositioned like KindValidation.
	KindCallbackNotFound
	// KindHandlerError: callback returned/raised an error not in the taxonomy above.
	KindHandlerError
	// KindHandlerPanic: callback panicked.
	KindHandlerPanic
	// KindPreHook: pre-process hook raised.
	KindPreHook
	// KindPostHook: post-process hook raised (processing already succeeded).
	KindPostHook
	// KindAckFailure: the broker rejected the ack/confirm call itself.
	KindAckFailure
)

// String renders a Kind for log attributes.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindIgnore:
		return "ignore"
	case KindLogging:
		return "logging"
	case KindRetry:
		return "retry"
	case KindValidation:
		return "validation"
	case KindCallbackNotFound:
		return "callback_not_found"
	case KindHandlerError:
		return "handler_error"
	case KindHandlerPanic:
		return "handler_panic"
	case KindPreHook:
		return "pre_hook"
	case KindPostHook:
		return "post_hook"
	case KindAckFailure:
		return "ack_failure"
	default:
		return "unknown"
	}
}

// Result is the final disposition: whether to ack the entry and whether the
// failure should bump the consumer's error counter.
type Result struct {
	Ack             bool
	IncrementErrors bool
	Extra           map[string]any
}

// Policy decides the Result for a Kind. A nil Settings.Disposition in
// package hedwig defaults to StandardPolicy, below.
type Policy interface {
	Decide(ctx context.Context, kind Kind, cause error, extra map[string]any) Result
}

// StandardPolicy implements the disposition table of spec.md §7 exactly.
type StandardPolicy struct{}

// Decide implements Policy.
func (StandardPolicy) Decide(_ context.Context, kind Kind, _ error, extra map[string]any) Result {
	switch kind {
	case KindNone:
		return Result{Ack: true}
	case KindIgnore:
		return Result{Ack: true}
	case KindLogging:
		return Result{Ack: false, Extra: extra}
	case KindRetry:
		return Result{Ack: false}
	case KindValidation, KindCallbackNotFound:
		return Result{Ack: false}
	case KindHandlerError, KindHandlerPanic, KindPreHook:
		return Result{Ack: false, IncrementErrors: true}
	case KindPostHook:
		// Processing succeeded; nack anyway to avoid double-acking per
		// spec.md §7 — the operator is expected to investigate.
		return Result{Ack: false}
	case KindAckFailure:
		// Broker-side; log and swallow, the transport will redeliver.
		return Result{Ack: true}
	default:
		return Result{Ack: false, IncrementErrors: true}
	}
}

// RedriveOnFailurePolicy never acks on failure, deferring entirely to the
// broker's own redelivery/redrive mechanics. Adapted from the teacher's
// policy/failure.SQSRedrivePolicy, generalized beyond SQS.
type RedriveOnFailurePolicy struct{}

// Decide implements Policy.
func (RedriveOnFailurePolicy) Decide(_ context.Context, kind Kind, _ error, extra map[string]any) Result {
	if kind == KindNone || kind == KindIgnore {
		return Result{Ack: true}
	}
	return Result{Ack: false, Extra: extra}
}
