package hedwig

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/cloudhedwig/hedwig/internal/dispositions"
)

// TraceCarrier is an alias for otel's propagation.TextMapCarrier, the
// standard header-bag surface tracing hooks read/write through. Distributed
// tracing propagation is explicitly named-only/out of scope per spec.md
// §1 — Hedwig calls these hooks, it never starts or ends a span itself.
type TraceCarrier = propagation.TextMapCarrier

// DefaultHeadersHook returns headers to merge under the caller's explicit
// headers before publish (spec.md §4.2 step 2; caller's headers win on
// conflict).
type DefaultHeadersHook func(ctx context.Context, msgType string, version SchemaVersion) Headers

// TraceInjectHook writes trace-propagation headers into carrier.
type TraceInjectHook func(ctx context.Context, carrier TraceCarrier)

// TraceExtractHook derives a context carrying the extracted span/trace from
// inbound transport attributes.
type TraceExtractHook func(ctx context.Context, attributes map[string]string) context.Context

// PreProcessHook runs before a raw entry is turned into a Message. Returning
// an error nacks the entry and skips it (spec.md §4.3 step 2).
type PreProcessHook func(ctx context.Context, entry Entry) error

// PostProcessHook runs after a successful callback invocation. Returning an
// error nacks the entry to avoid a double-ack race (spec.md §4.3 step 4).
type PostProcessHook func(ctx context.Context, entry Entry) error

// HeartbeatHook is called once per pull iteration with the current error
// counter (spec.md §4.3).
type HeartbeatHook func(errorCount int)

// OnReceiveHook observes every entry as soon as it is pulled, before any
// hook or processing runs. Named after original_source/hedwig/instrumentation's
// on_receive hook (SPEC_FULL.md §13).
type OnReceiveHook func(ctx context.Context, entry Entry)

// OnMessageExceptionHook observes any error raised anywhere in the per-entry
// pipeline, named after original_source's on_message_exception hook
// (SPEC_FULL.md §13).
type OnMessageExceptionHook func(ctx context.Context, entry Entry, err error)

// Settings is the resolved configuration record the core consumes; how it
// was built (env vars, a framework settings object, literal Go values) is
// out of scope per spec.md §1.
type Settings struct {
	// Publisher identifies this process as the producer of outgoing
	// messages (spec.md §3).
	Publisher string

	// Routes maps (type, major) to a publish destination.
	Routes *RoutingTable

	// Callbacks maps (type, major) to a handler.
	Callbacks *CallbackRegistry

	// Validator performs envelope/payload (de)serialization.
	Validator Validator

	// Backend is the consumer-side transport implementation in use.
	Backend Backend

	// Transport is the publish-side capability used by Publisher. On
	// backends where one client handles both directions (Pub/Sub, Redis
	// Streams) the same concrete value typically satisfies both
	// interfaces; SQS+SNS need two distinct clients.
	Transport Transport

	// UseTransportMessageAttributes records the framing choice (true:
	// attributes-mode, false: container-mode). Nothing in this module reads
	// it: the framing a validator uses is fixed by the useAttributes argument
	// of validator.NewJSONValidator / validator.NewProtobufValidator.
	UseTransportMessageAttributes bool

	// PublisherSyncMode runs publish synchronously through the local
	// callback registry instead of a live transport, for in-process
	// testing/staging (spec.md §4.2 step 1).
	PublisherSyncMode bool

	// NumMessages holds a Pull batch size. Nothing in this module reads it:
	// Consumer.FetchAndProcess takes the batch size as an argument.
	NumMessages int32

	// VisibilityTimeout holds a per-entry invisibility window. Nothing in
	// this module reads it: Consumer.FetchAndProcess and
	// redisstream.NewBackend take the timeout as an argument.
	VisibilityTimeout time.Duration

	// MaxDeliveryAttempts holds a redelivery bound. Nothing in this module
	// reads it: the Redis Streams backend uses its own MaxDeliveryAttempts
	// field, set by redisstream.NewBackend, and SQS/Pub/Sub delegate to
	// broker-native redrive policies.
	MaxDeliveryAttempts int

	// InactivityTimeout resets the consumer's error counter after this long
	// without a single pulled message (spec.md §4.3).
	InactivityTimeout time.Duration

	// Disposition decides ack/nack per spec.md §7's error taxonomy. Nil
	// defaults to dispositions.StandardPolicy.
	Disposition dispositions.Policy

	DefaultHeaders       DefaultHeadersHook
	TraceInject          TraceInjectHook
	TraceExtract         TraceExtractHook
	PreProcess           PreProcessHook
	PostProcess          PostProcessHook
	Heartbeat            HeartbeatHook
	OnReceive            OnReceiveHook
	OnMessageException   OnMessageExceptionHook
}

// disposition returns Settings.Disposition or the standard policy.
func (s *Settings) disposition() dispositions.Policy {
	if s.Disposition != nil {
		return s.Disposition
	}
	return dispositions.StandardPolicy{}
}
