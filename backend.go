package hedwig

import (
	"context"
	"time"
)

// Entry is one raw, not-yet-validated delivery handed back by Pull. Native is
// the transport-specific object (an *sqstypes.Message, a *pubsub.Message, a
// redis.XMessage, ...) exposed to Settings.PreProcess/PostProcess the
// way spec.md §4.4's pre_process_hook_kwargs/post_process_hook_kwargs do.
type Entry struct {
	Payload    []byte
	Attributes map[string]string
	Metadata   ProviderMetadata
	Native     any
}

// RequeueReport summarizes a RequeueDeadLetter call.
type RequeueReport struct {
	Moved  int
	Failed int
}

// Transport is the publish-side capability a backend exposes. It is kept
// distinct from Backend (the consumer-side pull/ack contract) because the
// two are asymmetric on more than one transport: SNS publishes where SQS
// consumes, and a Pub/Sub publisher needs only a topic handle while its
// consumer counterpart needs a subscription and a streaming-pull scheduler.
type Transport interface {
	// Publish sends payload+attributes to dest, returning the
	// transport-assigned message id.
	Publish(ctx context.Context, dest TopicDescriptor, payload []byte, attributes map[string]string) (string, error)
}

// Backend is the uniform transport contract of spec.md §4.4, implemented
// once each by backends/sqssns, backends/pubsub, and backends/redisstream.
type Backend interface {
	// Pull returns up to numMessages raw entries, blocking for at most one
	// long-poll/streaming interval. An empty, nil-error result is normal.
	Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]Entry, error)

	// Ack confirms successful processing. Idempotent: acking an
	// already-acked entry must not return an error (spec Testable Property 6).
	Ack(ctx context.Context, e Entry) error

	// Nack signals failure; the entry becomes redeliverable. A no-op on
	// backends where redelivery is driven purely by visibility/idle timeout.
	Nack(ctx context.Context, e Entry) error

	// ExtendVisibilityTimeout extends e's invisibility window.
	ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta ProviderMetadata) error

	// RequeueDeadLetter drains the dead-letter destination back to the main
	// one, returning a partial report; backends differ on whether a single
	// entry failure aborts the whole batch (see each backend's doc comment).
	RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*RequeueReport, error)
}
