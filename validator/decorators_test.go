package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudhedwig/hedwig"
	"github.com/cloudhedwig/hedwig/routing"
)

func buildTestJSONValidator(t *testing.T) *JSONValidator {
	t.Helper()
	routes := hedwig.NewRoutingTable().Route("user.created", 1, hedwig.Topic("dev-myapp"))
	callbacks := hedwig.NewCallbackRegistry()
	require.NoError(t, callbacks.Register("user.created", 1, func(ctx context.Context, msg hedwig.Message) error {
		return nil
	}))
	v, err := NewJSONValidator("https://schemas.example.com/schema", "my-app", true,
		map[routing.Key]JSONSchema{
			{Type: "user.created", Major: 1}: {Minor: 0, Schema: `{"type":"object"}`},
		}, routes, callbacks)
	require.NoError(t, err)
	return v
}

func TestContainerize_JSONValidator(t *testing.T) {
	v := buildTestJSONValidator(t)
	v.useAttributes = true

	containerized := Containerize(v)
	cv, ok := containerized.(*JSONValidator)
	require.True(t, ok)
	assert.False(t, cv.useAttributes)
	assert.False(t, cv.firehose)
	assert.True(t, v.useAttributes, "original validator must be untouched")
}

func TestFirehose_JSONValidator(t *testing.T) {
	v := buildTestJSONValidator(t)

	fh := Firehose(v)
	fv, ok := fh.(*JSONValidator)
	require.True(t, ok)
	assert.False(t, fv.useAttributes)
	assert.True(t, fv.firehose)
}

func TestContainerize_UnrecognizedValidatorPassesThrough(t *testing.T) {
	var v hedwig.Validator = unrecognizedValidator{}
	assert.Equal(t, v, Containerize(v))
	assert.Equal(t, v, Firehose(v))
}

type unrecognizedValidator struct{}

func (unrecognizedValidator) Serialize(ctx context.Context, msg hedwig.Message) ([]byte, map[string]string, error) {
	return nil, nil, nil
}

func (unrecognizedValidator) Deserialize(ctx context.Context, payload []byte, attributes map[string]string, meta hedwig.ProviderMetadata) (hedwig.Message, error) {
	return hedwig.Message{}, nil
}
