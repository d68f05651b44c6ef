// Package lazyclient provides a generic, first-use-guarded initializer for
// transport clients, the build-once guarantee that main.go in the teacher
// repo gets by calling config.LoadDefaultConfig and sqs.NewFromConfig once,
// up front. Its only user is cmd/hedwigctl, which wraps the SQS, SNS and
// Pub/Sub client construction in a Once and calls Get right away while
// building a backend. The backend packages themselves take already-built
// clients and do not use this package; the Redis client is built directly.
package lazyclient

import "sync"

// Once lazily constructs and caches a single value of type T. Build one with
// New; the zero value has no build function, and Get on it panics.
type Once[T any] struct {
	once sync.Once
	val  T
	err  error
	new  func() (T, error)
}

// New returns a Once that will call build exactly once, on the first call to
// Get, no matter how many goroutines call Get concurrently.
func New[T any](build func() (T, error)) *Once[T] {
	return &Once[T]{new: build}
}

// Get returns the lazily-built value, constructing it on the first call.
// A construction error is cached and returned again on every subsequent call.
func (o *Once[T]) Get() (T, error) {
	o.once.Do(func() {
		o.val, o.err = o.new()
	})
	return o.val, o.err
}
