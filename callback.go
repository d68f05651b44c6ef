package hedwig

import (
	"context"
	"fmt"

	"github.com/cloudhedwig/hedwig/routing"
)

// Callback processes one Message. Registered per (message type, major
// version) in a CallbackRegistry. Go's static typing collapses the Python
// source's reflection-based signature validation (reject varargs, require a
// single `message` parameter, etc.) into "the value satisfies this function
// type" — there is no runtime signature to mis-declare.
type Callback func(ctx context.Context, msg Message) error

// CallbackRegistry maps (message type, major version) to a Callback.
// find_by_message in spec.md §4.5 is CallbackRegistry.Find here; a miss
// returns ErrCallbackNotFound, which Consumer wraps into a ValidationError
// before it reaches the disposition table (spec.md §7 row "CallbackNotFound").
type CallbackRegistry struct {
	table *routing.Table[Callback]
}

// NewCallbackRegistry builds an empty registry using exact (type, major)
// matching.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{table: routing.NewTable[Callback](nil)}
}

// Register adds cb for (msgType, major). Returns ErrNilCallback if cb is
// nil, or ErrCallbackAlreadyRegistered if the slot is already taken —
// callers that want to intentionally override should build a fresh registry
// rather than silently clobbering a route.
func (r *CallbackRegistry) Register(msgType string, major int, cb Callback) error {
	if cb == nil {
		return ErrNilCallback
	}
	key := routing.Key{Type: msgType, Major: major}
	if !r.table.SetIfAbsent(key, cb) {
		return fmt.Errorf("%w: %s", ErrCallbackAlreadyRegistered, key)
	}
	return nil
}

// Find resolves the callback for (msgType, major).
func (r *CallbackRegistry) Find(msgType string, major int) (Callback, error) {
	cb, ok := r.table.Find(routing.Key{Type: msgType, Major: major})
	if !ok {
		return nil, fmt.Errorf("%w: %s:%d", ErrCallbackNotFound, msgType, major)
	}
	return cb, nil
}

// Keys returns every registered (type, major) pair, used by the validator's
// startup schema sanity check (spec.md §4.1).
func (r *CallbackRegistry) Keys() []routing.Key {
	return r.table.Keys()
}
