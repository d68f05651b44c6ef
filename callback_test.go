package hedwig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCallback(ctx context.Context, msg Message) error { return nil }

func TestCallbackRegistry_RegisterAndFind(t *testing.T) {
	r := NewCallbackRegistry()
	require.NoError(t, r.Register("user.created", 1, noopCallback))

	cb, err := r.Find("user.created", 1)
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestCallbackRegistry_Find_NotFound(t *testing.T) {
	r := NewCallbackRegistry()
	_, err := r.Find("user.created", 1)
	assert.ErrorIs(t, err, ErrCallbackNotFound)
}

func TestCallbackRegistry_Register_NilCallback(t *testing.T) {
	r := NewCallbackRegistry()
	assert.ErrorIs(t, r.Register("user.created", 1, nil), ErrNilCallback)
}

func TestCallbackRegistry_Register_AlreadyRegistered(t *testing.T) {
	r := NewCallbackRegistry()
	require.NoError(t, r.Register("user.created", 1, noopCallback))
	err := r.Register("user.created", 1, noopCallback)
	assert.ErrorIs(t, err, ErrCallbackAlreadyRegistered)
}

func TestCallbackRegistry_Keys(t *testing.T) {
	r := NewCallbackRegistry()
	require.NoError(t, r.Register("user.created", 1, noopCallback))
	require.NoError(t, r.Register("user.deleted", 2, noopCallback))

	assert.Len(t, r.Keys(), 2)
}
