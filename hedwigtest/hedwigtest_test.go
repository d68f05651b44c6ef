package hedwigtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudhedwig/hedwig"
	"github.com/cloudhedwig/hedwig/routing"
	"github.com/cloudhedwig/hedwig/validator"
)

func newTestSettings(t *testing.T) *hedwig.Settings {
	t.Helper()
	routes := hedwig.NewRoutingTable().Route("user.created", 1, hedwig.Topic("dev-myapp"))
	callbacks := hedwig.NewCallbackRegistry()
	require.NoError(t, callbacks.Register("user.created", 1, func(ctx context.Context, msg hedwig.Message) error { return nil }))

	v, err := validator.NewJSONValidator("https://schemas.example.com/schema", "my-app", true,
		map[routing.Key]validator.JSONSchema{
			{Type: "user.created", Major: 1}: {Minor: 0, Schema: `{"type":"object"}`},
		}, routes, callbacks)
	require.NoError(t, err)

	return &hedwig.Settings{
		Publisher:          "my-app",
		Routes:             routes,
		Callbacks:          callbacks,
		Validator:          v,
		PublisherSyncMode:  true,
	}
}

func TestCapturingPublisher_RecordsAndAsserts(t *testing.T) {
	settings := newTestSettings(t)
	pub := NewCapturingPublisher(settings)

	msg, err := hedwig.NewMessage("user.created", hedwig.SchemaVersion{Major: 1, Minor: 0}, "my-app",
		hedwig.NewHeaders(), map[string]any{"user_id": "U1"})
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, pub.AssertMessagePublished("user.created", hedwig.SchemaVersion{Major: 1, Minor: 0}, nil))
	assert.False(t, pub.AssertMessagePublished("user.deleted", hedwig.SchemaVersion{Major: 1, Minor: 0}, nil))
	assert.True(t, pub.AssertMessageNotPublished("user.deleted"))

	pub.Reset()
	assert.False(t, pub.AssertMessagePublished("user.created", hedwig.SchemaVersion{Major: 1, Minor: 0}, nil))
}

func TestMockBackend_PublishAndPull(t *testing.T) {
	b := NewMockBackend()

	id, err := b.Publish(context.Background(), hedwig.Topic("dev-myapp"), []byte(`{}`), map[string]string{"hedwig_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "mock-1", id)
	require.Len(t, b.Published, 1)

	b.Enqueue(hedwig.Entry{Payload: []byte(`{"a":1}`)})
	b.Enqueue(hedwig.Entry{Payload: []byte(`{"a":2}`)})

	entries, err := b.Pull(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte(`{"a":1}`), entries[0].Payload)

	require.NoError(t, b.Ack(context.Background(), entries[0]))
	assert.Len(t, b.Acked, 1)

	remaining, err := b.Pull(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, []byte(`{"a":2}`), remaining[0].Payload)

	require.NoError(t, b.Nack(context.Background(), remaining[0]))
	assert.Len(t, b.Nacked, 1)

	report, err := b.RequeueDeadLetter(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, report)
	assert.Equal(t, 1, b.Requeued)
}
