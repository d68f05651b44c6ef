// Package redisstream implements hedwig.Backend and hedwig.Transport over
// Redis Streams, grounded on the XReadGroup/consumer-group read loop this
// repo's retrieval pack shows (bus.EventBus.Subscribe), extended with
// XAutoClaim-based pending-message reclaim and XPendingExt-based
// delivery-attempt counting so a message that exceeds its retry budget is
// moved to a dead-letter stream instead of retried forever.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cloudhedwig/hedwig"
)

// StreamName returns the Redis stream key Hedwig publishes/consumes for a
// logical topic/queue.
func StreamName(name string) string { return "hedwig:" + name }

// DLQStreamName returns the dead-letter stream key for a logical queue.
// Redis keeps its own native ":dlq" suffix convention (the other half of
// spec.md §4.4's Open Question (a); decision recorded in DESIGN.md).
func DLQStreamName(queue string) string { return "hedwig:" + queue + ":dlq" }

// Backend implements hedwig.Backend/hedwig.Transport over a single Redis
// Streams consumer group.
type Backend struct {
	Client              *redis.Client
	Stream              string
	DLQStream           string
	ConsumerGroup       string
	ConsumerID          string
	MaxDeliveryAttempts int

	// VisibilityTimeout is the fixed window ExtendVisibilityTimeout
	// enforces; callers must pass this exact value (Open Question (b)).
	VisibilityTimeout time.Duration

	groupReady bool
}

var _ hedwig.Backend = (*Backend)(nil)
var _ hedwig.Transport = (*Backend)(nil)

// NewBackend builds a Backend with a per-process consumer id, per this
// package's "consumer id = a per-process uuid.NewString()" convention.
func NewBackend(client *redis.Client, queue string, maxDeliveryAttempts int, visibilityTimeout time.Duration) *Backend {
	return &Backend{
		Client:              client,
		Stream:              StreamName(queue),
		DLQStream:           DLQStreamName(queue),
		ConsumerGroup:       queue,
		ConsumerID:          uuid.NewString(),
		MaxDeliveryAttempts: maxDeliveryAttempts,
		VisibilityTimeout:   visibilityTimeout,
	}
}

func (b *Backend) ensureGroup(ctx context.Context, stream string) error {
	err := b.Client.XGroupCreateMkStream(ctx, stream, b.ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("redisstream: create consumer group on %s: %w", stream, err)
	}
	return nil
}

// Publish implements hedwig.Transport via XAdd.
func (b *Backend) Publish(ctx context.Context, dest hedwig.TopicDescriptor, payload []byte, attributes map[string]string) (string, error) {
	values := map[string]any{"data": payload}
	for k, v := range attributes {
		values["attr:"+k] = v
	}
	id, err := b.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(dest.Name),
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisstream: xadd: %w", err)
	}
	return id, nil
}

// Pull claims idle pending entries first via XAutoClaim, then reads new
// entries via XReadGroup, per this backend's documented pull order.
func (b *Backend) Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]hedwig.Entry, error) {
	if !b.groupReady {
		if err := b.ensureGroup(ctx, b.Stream); err != nil {
			return nil, err
		}
		b.groupReady = true
	}

	entries := make([]hedwig.Entry, 0, numMessages)

	claimed, _, err := b.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.Stream,
		Group:    b.ConsumerGroup,
		Consumer: b.ConsumerID,
		MinIdle:  visibilityTimeout,
		Start:    "0",
		Count:    int64(numMessages),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisstream: xautoclaim: %w", err)
	}
	for _, msg := range claimed {
		entry, err := b.entryFromMessage(ctx, msg)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	remaining := numMessages - int32(len(entries))
	if remaining <= 0 {
		return entries, nil
	}

	streams, err := b.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.ConsumerGroup,
		Consumer: b.ConsumerID,
		Streams:  []string{b.Stream, ">"},
		Count:    int64(remaining),
		Block:    500 * time.Millisecond,
	}).Result()
	if err != nil && err != redis.Nil {
		return entries, fmt.Errorf("redisstream: xreadgroup: %w", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entry, err := b.entryFromMessage(ctx, msg)
			if err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// parsePayloadAndAttrs extracts the payload and every "attr:"-prefixed
// attribute (prefix stripped) from a stream entry's Values, reversing
// Publish's "data"/"attr:" encoding.
func parsePayloadAndAttrs(id string, values map[string]any) ([]byte, map[string]string, error) {
	dataRaw, ok := values["data"]
	if !ok {
		return nil, nil, fmt.Errorf("redisstream: entry %s missing data field", id)
	}
	payload, ok := dataRaw.(string)
	if !ok {
		return nil, nil, fmt.Errorf("redisstream: entry %s data field is not a string", id)
	}

	attrs := make(map[string]string)
	for k, v := range values {
		if len(k) > 5 && k[:5] == "attr:" {
			if s, ok := v.(string); ok {
				attrs[k[5:]] = s
			}
		}
	}
	return []byte(payload), attrs, nil
}

func (b *Backend) entryFromMessage(ctx context.Context, msg redis.XMessage) (hedwig.Entry, error) {
	payload, attrs, err := parsePayloadAndAttrs(msg.ID, msg.Values)
	if err != nil {
		return hedwig.Entry{}, err
	}

	attempt := b.deliveryAttempt(ctx, msg.ID)
	if b.MaxDeliveryAttempts > 0 && attempt > b.MaxDeliveryAttempts {
		if err := b.moveToDeadLetter(ctx, msg); err != nil {
			return hedwig.Entry{}, err
		}
		return hedwig.Entry{}, fmt.Errorf("redisstream: entry %s exceeded delivery attempts, moved to dead letter", msg.ID)
	}

	return hedwig.Entry{
		Payload:    payload,
		Attributes: attrs,
		Metadata: hedwig.RedisMetadata{
			EntryID:         msg.ID,
			Stream:          b.Stream,
			DeliveryAttempt: attempt,
		},
		Native: msg,
	}, nil
}

func (b *Backend) deliveryAttempt(ctx context.Context, id string) int {
	res, err := b.Client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.Stream,
		Group:  b.ConsumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(res) == 0 {
		return 1
	}
	return int(res[0].RetryCount)
}

// moveToDeadLetter atomically XAdds the entry to the DLQ stream and XAcks
// it on the origin, so the entry is moved rather than merely yielded, per
// spec.md Testable Property 9 / Scenario S5.
func (b *Backend) moveToDeadLetter(ctx context.Context, msg redis.XMessage) error {
	_, err := b.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: b.DLQStream, Values: msg.Values})
		pipe.XAck(ctx, b.Stream, b.ConsumerGroup, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstream: move to dead letter: %w", err)
	}
	return nil
}

// Ack implements hedwig.Backend via XAck.
func (b *Backend) Ack(ctx context.Context, e hedwig.Entry) error {
	msg, ok := e.Native.(redis.XMessage)
	if !ok {
		return fmt.Errorf("redisstream ack: entry has no native redis.XMessage")
	}
	if err := b.Client.XAck(ctx, b.Stream, b.ConsumerGroup, msg.ID).Err(); err != nil {
		return fmt.Errorf("redisstream: xack: %w", err)
	}
	return nil
}

// Nack is a no-op: the entry remains pending and is reclaimed on the next
// XAutoClaim pass once its idle time exceeds the visibility timeout.
func (b *Backend) Nack(ctx context.Context, e hedwig.Entry) error { return nil }

// ExtendVisibilityTimeout implements hedwig.Backend via XClaim with
// MinIdle 0, and, when VisibilityTimeout is non-zero, requires seconds to
// equal it exactly. Redis Streams' idle-time model has no concept of a
// per-message variable invisibility window the way SQS/Pub/Sub do, so this
// backend keeps the original fixed-window assertion rather than loosening
// it (Open Question (b), documented in DESIGN.md); a mismatch returns
// hedwig.ErrVisibilityTimeoutFixed.
func (b *Backend) ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta hedwig.ProviderMetadata) error {
	redisMeta, ok := meta.(hedwig.RedisMetadata)
	if !ok {
		return fmt.Errorf("redisstream extend visibility: metadata is not RedisMetadata")
	}
	expected := int32(b.VisibilityTimeout.Seconds())
	if expected != 0 && seconds != expected {
		return fmt.Errorf("%w: got %d, want %d", hedwig.ErrVisibilityTimeoutFixed, seconds, expected)
	}
	_, err := b.Client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   redisMeta.Stream,
		Group:    b.ConsumerGroup,
		Consumer: b.ConsumerID,
		MinIdle:  0,
		Messages: []string{redisMeta.EntryID},
	}).Result()
	if err != nil {
		return fmt.Errorf("redisstream: xclaim: %w", err)
	}
	return nil
}

// RequeueDeadLetter runs two passes over the DLQ stream (XAutoClaim then
// XReadGroup), each batch moved to the main stream via a TxPipelined
// XAdd-to-main + XAck-on-DLQ.
func (b *Backend) RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*hedwig.RequeueReport, error) {
	if b.DLQStream == "" {
		return nil, fmt.Errorf("%w: no DLQ stream configured", hedwig.ErrBackendNotConfigured)
	}
	if err := b.ensureGroup(ctx, b.DLQStream); err != nil {
		return nil, err
	}

	report := &hedwig.RequeueReport{}
	remaining := numMessages

	claimed, _, err := b.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.DLQStream,
		Group:    b.ConsumerGroup,
		Consumer: b.ConsumerID,
		MinIdle:  visibilityTimeout,
		Start:    "0",
		Count:    int64(remaining),
	}).Result()
	if err != nil && err != redis.Nil {
		return report, fmt.Errorf("redisstream: xautoclaim dlq: %w", err)
	}
	if err := b.requeueBatch(ctx, claimed, report); err != nil {
		return report, err
	}
	remaining -= int32(len(claimed))

	if remaining > 0 {
		streams, err := b.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.ConsumerGroup,
			Consumer: b.ConsumerID,
			Streams:  []string{b.DLQStream, ">"},
			Count:    int64(remaining),
			Block:    500 * time.Millisecond,
		}).Result()
		if err != nil && err != redis.Nil {
			return report, fmt.Errorf("redisstream: xreadgroup dlq: %w", err)
		}
		for _, stream := range streams {
			if err := b.requeueBatch(ctx, stream.Messages, report); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (b *Backend) requeueBatch(ctx context.Context, messages []redis.XMessage, report *hedwig.RequeueReport) error {
	for _, msg := range messages {
		_, err := b.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: b.Stream, Values: msg.Values})
			pipe.XAck(ctx, b.DLQStream, b.ConsumerGroup, msg.ID)
			return nil
		})
		if err != nil {
			report.Failed++
			continue
		}
		report.Moved++
	}
	return nil
}
