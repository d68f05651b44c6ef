package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudhedwig/hedwig"
)

func TestSubscriptionNaming(t *testing.T) {
	assert.Equal(t, "hedwig-dev-myapp", SubscriptionName("dev-myapp"))
	assert.Equal(t, "hedwig-dev-myapp-billing", NamedSubscriptionName("dev-myapp", "billing"))
	assert.Equal(t, "hedwig-dev-myapp-otherproj-billing", CrossProjectSubscriptionName("dev-myapp", "otherproj", "billing"))
	assert.Equal(t, "hedwig-dev-myapp", TopicName("dev-myapp"))
}

func TestExtendVisibilityTimeout_RejectsOutOfRange(t *testing.T) {
	b := &Backend{}
	err := b.ExtendVisibilityTimeout(context.Background(), 601, hedwig.PubSubMetadata{})
	assert.ErrorIs(t, err, hedwig.ErrInvalidVisibilityTimeout)

	err = b.ExtendVisibilityTimeout(context.Background(), 600, hedwig.PubSubMetadata{})
	assert.NoError(t, err)
}

func TestRequeueDeadLetter_RequiresDLQConfigured(t *testing.T) {
	b := &Backend{}
	_, err := b.RequeueDeadLetter(context.Background(), 10, 0)
	assert.ErrorIs(t, err, hedwig.ErrBackendNotConfigured)
}

func TestAckNack_RequireNativeMessage(t *testing.T) {
	b := &Backend{}
	err := b.Ack(context.Background(), hedwig.Entry{})
	assert.Error(t, err)

	err = b.Nack(context.Background(), hedwig.Entry{})
	assert.Error(t, err)
}
