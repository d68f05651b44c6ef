// Package pubsub implements hedwig.Backend and hedwig.Transport over Google
// Cloud Pub/Sub, grounded on the errgroup-fan-in-goroutines-into-shared-channel
// shape of the pubsublite consumer referenced in this repo's retrieval pack,
// adapted from Pub/Sub Lite's single-subscription Receive loop to Hedwig's
// multi-subscription uniform Pull contract.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/cloudhedwig/hedwig"
	"github.com/cloudhedwig/hedwig/internal/hedwiglog"
)

// SubscriptionName returns the main subscription name Hedwig consumes for a
// logical queue, per spec.md §4.4.2.
func SubscriptionName(queue string) string { return "hedwig-" + queue }

// NamedSubscriptionName returns a named subscription for a logical queue,
// consumed in addition to the main subscription.
func NamedSubscriptionName(queue, subscription string) string {
	return "hedwig-" + queue + "-" + subscription
}

// CrossProjectSubscriptionName returns a named subscription scoped to a
// source project, for cross-project fan-in.
func CrossProjectSubscriptionName(queue, project, subscription string) string {
	return "hedwig-" + queue + "-" + project + "-" + subscription
}

// TopicName returns the Pub/Sub topic name Hedwig publishes to for a
// logical topic.
func TopicName(topic string) string { return "hedwig-" + topic }

// inbound is one message pushed from a subscription's Receive goroutine
// into the Backend's shared channel.
type inbound struct {
	msg          *pubsub.Message
	subscription string
}

// Backend implements hedwig.Backend by fanning in one streaming-pull
// goroutine per configured subscription into a single shared channel, and
// hedwig.Transport by publishing to a single topic handle.
type Backend struct {
	Topic         *pubsub.Topic
	Subscriptions []*pubsub.Subscription
	DLQSub        *pubsub.Subscription

	// RequeueTopic is where RequeueDeadLetter republishes entries drained
	// from DLQSub. It is typically the same topic as Topic (the main
	// subscription re-receives its own dead letters), not a dedicated
	// DLQ-side topic.
	RequeueTopic *pubsub.Topic

	startOnce sync.Once
	inbox     chan inbound
	cancel    context.CancelFunc
	runErr    chan error
}

var _ hedwig.Backend = (*Backend)(nil)
var _ hedwig.Transport = (*Backend)(nil)

// Publish implements hedwig.Transport.
func (b *Backend) Publish(ctx context.Context, dest hedwig.TopicDescriptor, payload []byte, attributes map[string]string) (string, error) {
	result := b.Topic.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attributes})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	return id, nil
}

// start launches one Receive goroutine per subscription, each pushing
// pulled messages into the shared inbox channel, matching the errgroup
// fan-in shape this package is grounded on.
func (b *Backend) start(numMessages int32, visibilityTimeout time.Duration) {
	b.startOnce.Do(func() {
		b.inbox = make(chan inbound, numMessages*int32(len(b.Subscriptions)+1))
		b.runErr = make(chan error, len(b.Subscriptions))
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel

		for _, sub := range b.Subscriptions {
			sub := sub
			sub.ReceiveSettings.MaxOutstandingMessages = int(numMessages)
			sub.ReceiveSettings.MaxExtension = visibilityTimeout
			go func() {
				err := sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
					select {
					case b.inbox <- inbound{msg: msg, subscription: sub.ID()}:
					case <-ctx.Done():
						msg.Nack()
					}
				})
				if err != nil && ctx.Err() == nil {
					b.runErr <- fmt.Errorf("pubsub subscription %s: %w", sub.ID(), err)
				}
			}()
		}
	})
}

// Pull drains the shared inbox for up to one second, matching spec.md's
// get(timeout=1) semantics, per Testable Scenario S6.
func (b *Backend) Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]hedwig.Entry, error) {
	b.start(numMessages, visibilityTimeout)

	entries := make([]hedwig.Entry, 0, numMessages)
	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()

	for int32(len(entries)) < numMessages {
		select {
		case in := <-b.inbox:
			entries = append(entries, entryFromMessage(in.msg, in.subscription))
		case err := <-b.runErr:
			return entries, err
		case <-deadline.C:
			return entries, nil
		case <-ctx.Done():
			return entries, ctx.Err()
		}
	}
	return entries, nil
}

func entryFromMessage(msg *pubsub.Message, subscription string) hedwig.Entry {
	return hedwig.Entry{
		Payload:    msg.Data,
		Attributes: msg.Attributes,
		Metadata: hedwig.PubSubMetadata{
			// AckID holds the server-assigned message ID (msg.ID), not
			// the subscription's ack id.
			AckID:           msg.ID,
			Subscription:    subscription,
			PublishTime:     msg.PublishTime,
			DeliveryAttempt: deliveryAttempt(msg),
		},
		Native: msg,
	}
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		return *msg.DeliveryAttempt
	}
	return 0
}

// Ack implements hedwig.Backend. Idempotent: acking twice is safe because
// the underlying client library tolerates acking a message whose lease has
// already ended.
func (b *Backend) Ack(ctx context.Context, e hedwig.Entry) error {
	msg, ok := e.Native.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("pubsub ack: entry has no native *pubsub.Message")
	}
	msg.Ack()
	return nil
}

// Nack implements hedwig.Backend, making the message immediately
// redeliverable instead of waiting out the ack deadline.
func (b *Backend) Nack(ctx context.Context, e hedwig.Entry) error {
	msg, ok := e.Native.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("pubsub nack: entry has no native *pubsub.Message")
	}
	msg.Nack()
	return nil
}

// ExtendVisibilityTimeout validates seconds is within Pub/Sub's 0..600s ack
// deadline range. Extension itself happens automatically via each
// subscription's ReceiveSettings; an explicit per-message deadline
// extension is not exposed by the high-level client used here, so this
// bounds-checks and is otherwise a no-op, matching the high-level client's
// auto-extend behavior for messages still being processed.
func (b *Backend) ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta hedwig.ProviderMetadata) error {
	if seconds < 0 || seconds > 600 {
		return fmt.Errorf("%w: %d seconds", hedwig.ErrInvalidVisibilityTimeout, seconds)
	}
	return nil
}

// RequeueDeadLetter pulls from the DLQ subscription in batches, republishing
// each message to the main topic and acking on success. Each per-message
// failure is logged, counted in the report and nacked, and the loop
// continues, deliberately differing from SQS's stop-on-first-failure behavior per spec.md §4.4.2.
func (b *Backend) RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*hedwig.RequeueReport, error) {
	if b.DLQSub == nil || b.RequeueTopic == nil {
		return nil, fmt.Errorf("%w: no DLQ subscription/topic configured", hedwig.ErrBackendNotConfigured)
	}

	report := &hedwig.RequeueReport{}
	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	count := int32(0)
	err := b.DLQSub.Receive(pullCtx, func(msgCtx context.Context, msg *pubsub.Message) {
		mu.Lock()
		if count >= numMessages {
			mu.Unlock()
			msg.Nack()
			return
		}
		count++
		mu.Unlock()

		result := b.RequeueTopic.Publish(msgCtx, &pubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
		if _, err := result.Get(msgCtx); err != nil {
			hedwiglog.Error(msgCtx, "requeue publish failed", "requeue_failure", err, nil)
			mu.Lock()
			report.Failed++
			mu.Unlock()
			msg.Nack()
			return
		}
		msg.Ack()
		mu.Lock()
		report.Moved++
		mu.Unlock()
	})
	if err != nil && pullCtx.Err() == nil {
		return report, fmt.Errorf("pubsub requeue: %w", err)
	}
	return report, nil
}

// Close stops all streaming-pull goroutines and drains the shared channel
// non-blockingly, per spec.md §5 and Testable Scenario S6.
func (b *Backend) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	for {
		select {
		case in := <-b.inbox:
			in.msg.Nack()
		default:
			return
		}
	}
}
