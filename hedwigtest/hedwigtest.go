// Package hedwigtest provides in-process test doubles for Hedwig-based
// applications, grounded on original_source/hedwig/testing/pytest_plugin.py's
// mock_hedwig_publish fixture: wrap the real Publish call, record every
// message that passes through it, and expose assertion helpers shaped like
// the Python fixture's assert_message_published/assert_message_not_published,
// adapted to Go's no-fixtures testing.T style the same way the teacher's
// MockSQSClient (consumer_test.go) wraps testify/mock instead of a pytest
// fixture.
package hedwigtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudhedwig/hedwig"
)

// CapturingPublisher wraps a *hedwig.Publisher, recording every message
// passed to Publish so tests can assert on what was published without a
// live transport.
type CapturingPublisher struct {
	mu       sync.Mutex
	inner    *hedwig.Publisher
	Messages []hedwig.Message
}

// NewCapturingPublisher wraps settings in a Publisher and returns a
// CapturingPublisher around it. settings.PublisherSyncMode is typically true
// in tests so Publish never reaches a live transport.
func NewCapturingPublisher(settings *hedwig.Settings) *CapturingPublisher {
	return &CapturingPublisher{inner: hedwig.NewPublisher(settings)}
}

// Publish records msg and delegates to the wrapped Publisher.
func (c *CapturingPublisher) Publish(ctx context.Context, msg hedwig.Message) (string, error) {
	c.mu.Lock()
	c.Messages = append(c.Messages, msg)
	c.mu.Unlock()
	return c.inner.Publish(ctx, msg)
}

// AssertMessagePublished reports whether a message of msgType and version
// was published, matching data (by ==, if data is non-nil), mirroring the
// Python fixture's assert_message_published.
func (c *CapturingPublisher) AssertMessagePublished(msgType string, version hedwig.SchemaVersion, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.Messages {
		if msg.Type() != msgType || msg.Version() != version {
			continue
		}
		if data != nil && msg.Data() != data {
			continue
		}
		return true
	}
	return false
}

// AssertMessageNotPublished reports whether no message of msgType was
// published, mirroring the Python fixture's assert_message_not_published.
func (c *CapturingPublisher) AssertMessageNotPublished(msgType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.Messages {
		if msg.Type() == msgType {
			return false
		}
	}
	return true
}

// Reset clears recorded messages between test cases.
func (c *CapturingPublisher) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = nil
}

// MockBackend is an in-memory hedwig.Backend/hedwig.Transport double: Publish
// appends to Published and Pull drains Pending, modeling the teacher's
// narrow SQSClient-interface mocking approach but as a concrete fake rather
// than a testify/mock-driven stub, since a Backend has enough methods that a
// hand-rolled fake reads more plainly than a string of .On(...) calls.
type MockBackend struct {
	mu        sync.Mutex
	Published []PublishedMessage
	Pending   []hedwig.Entry
	Acked     []hedwig.Entry
	Nacked    []hedwig.Entry
	Requeued  int
}

// PublishedMessage records one Publish call's arguments.
type PublishedMessage struct {
	Dest       hedwig.TopicDescriptor
	Payload    []byte
	Attributes map[string]string
}

var _ hedwig.Backend = (*MockBackend)(nil)
var _ hedwig.Transport = (*MockBackend)(nil)

// NewMockBackend returns an empty MockBackend.
func NewMockBackend() *MockBackend { return &MockBackend{} }

// Publish records the call and returns a synthetic message id.
func (b *MockBackend) Publish(ctx context.Context, dest hedwig.TopicDescriptor, payload []byte, attributes map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Published = append(b.Published, PublishedMessage{Dest: dest, Payload: payload, Attributes: attributes})
	return fmt.Sprintf("mock-%d", len(b.Published)), nil
}

// Enqueue adds an entry that the next Pull call(s) will return, for tests
// that exercise the consumer side against a scripted backlog.
func (b *MockBackend) Enqueue(e hedwig.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Pending = append(b.Pending, e)
}

// Pull returns up to numMessages entries from the front of Pending.
func (b *MockBackend) Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]hedwig.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int(numMessages)
	if n > len(b.Pending) {
		n = len(b.Pending)
	}
	out := b.Pending[:n]
	b.Pending = b.Pending[n:]
	return out, nil
}

// Ack records e as acked.
func (b *MockBackend) Ack(ctx context.Context, e hedwig.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Acked = append(b.Acked, e)
	return nil
}

// Nack records e as nacked.
func (b *MockBackend) Nack(ctx context.Context, e hedwig.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Nacked = append(b.Nacked, e)
	return nil
}

// ExtendVisibilityTimeout is a no-op recording nothing; tests that need to
// assert on it should wrap MockBackend instead.
func (b *MockBackend) ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta hedwig.ProviderMetadata) error {
	return nil
}

// RequeueDeadLetter counts the call and returns an empty report.
func (b *MockBackend) RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*hedwig.RequeueReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Requeued++
	return &hedwig.RequeueReport{}, nil
}
