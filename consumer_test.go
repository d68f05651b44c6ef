package hedwig

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValidator round-trips a Message's Data field as the payload, skipping
// any real envelope encoding, so consumer/publisher tests can exercise the
// pipeline without pulling in package validator (which itself depends on
// this package).
type fakeValidator struct{}

func (fakeValidator) Serialize(ctx context.Context, msg Message) ([]byte, map[string]string, error) {
	return []byte(msg.Type()), map[string]string{"hedwig_message_type": msg.Type()}, nil
}

func (fakeValidator) Deserialize(ctx context.Context, payload []byte, attributes map[string]string, meta ProviderMetadata) (Message, error) {
	msgType := attributes["hedwig_message_type"]
	if msgType == "" {
		return Message{}, NewValidationError(ErrInvalidMessage)
	}
	return NewDeserializedMessage("id-1", msgType, SchemaVersion{Major: 1}, time.Now(), "my-app", NewHeaders(), string(payload), meta)
}

// fakeBackend is a minimal in-memory Backend/Transport double local to this
// package's tests, mirroring hedwigtest.MockBackend's shape without
// importing it (hedwigtest imports this package, so the reverse would cycle).
type fakeBackend struct {
	mu     sync.Mutex
	acked  []Entry
	nacked []Entry
}

func (b *fakeBackend) Publish(ctx context.Context, dest TopicDescriptor, payload []byte, attributes map[string]string) (string, error) {
	return "msg-1", nil
}

func (b *fakeBackend) Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]Entry, error) {
	return nil, nil
}

func (b *fakeBackend) Ack(ctx context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, e)
	return nil
}

func (b *fakeBackend) Nack(ctx context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked = append(b.nacked, e)
	return nil
}

func (b *fakeBackend) ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta ProviderMetadata) error {
	return nil
}

func (b *fakeBackend) RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*RequeueReport, error) {
	return &RequeueReport{}, nil
}

func testSettings(cb Callback, backend *fakeBackend) *Settings {
	callbacks := NewCallbackRegistry()
	_ = callbacks.Register("user.created", 1, cb)
	return &Settings{
		Publisher: "my-app",
		Routes:    NewRoutingTable().Route("user.created", 1, Topic("dev-myapp")),
		Callbacks: callbacks,
		Validator: fakeValidator{},
		Backend:   backend,
	}
}

func TestConsumer_ProcessOne_AcksOnSuccess(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return nil }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{"hedwig_message_type": "user.created"}}
	c.processOne(context.Background(), entry)

	assert.Len(t, backend.acked, 1)
	assert.Len(t, backend.nacked, 0)
	assert.Equal(t, 0, c.ErrorCount())
}

func TestConsumer_ProcessOne_NacksOnHandlerError(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return assert.AnError }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{"hedwig_message_type": "user.created"}}
	c.processOne(context.Background(), entry)

	assert.Len(t, backend.nacked, 1)
	assert.Equal(t, 1, c.ErrorCount())
}

func TestConsumer_ProcessOne_IgnoreErrorAcks(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return &IgnoreError{} }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{"hedwig_message_type": "user.created"}}
	c.processOne(context.Background(), entry)

	assert.Len(t, backend.acked, 1)
	assert.Equal(t, 0, c.ErrorCount())
}

func TestConsumer_ProcessOne_RetryErrorNacksWithoutBumpingErrors(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return &RetryError{} }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{"hedwig_message_type": "user.created"}}
	c.processOne(context.Background(), entry)

	assert.Len(t, backend.nacked, 1)
	assert.Equal(t, 0, c.ErrorCount())
}

func TestConsumer_ProcessOne_HandlerPanicNacks(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { panic("boom") }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{"hedwig_message_type": "user.created"}}
	require.NotPanics(t, func() { c.processOne(context.Background(), entry) })

	assert.Len(t, backend.nacked, 1)
	assert.Equal(t, 1, c.ErrorCount())
}

func TestConsumer_ProcessOne_ValidationErrorNacksWithoutBumpingErrors(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return nil }, backend)
	c := NewConsumer(settings)

	entry := Entry{Payload: []byte("data"), Attributes: map[string]string{}}
	c.processOne(context.Background(), entry)

	assert.Len(t, backend.nacked, 1)
	assert.Equal(t, 0, c.ErrorCount())
}

func TestConsumer_FetchAndProcess_StopsOnCancel(t *testing.T) {
	backend := &fakeBackend{}
	settings := testSettings(func(ctx context.Context, msg Message) error { return nil }, backend)
	c := NewConsumer(settings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.FetchAndProcess(ctx, 10, time.Second)
	assert.NoError(t, err)
}
