package hedwig

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudhedwig/hedwig/internal/dispositions"
	"github.com/cloudhedwig/hedwig/internal/hedwiglog"
)

// Consumer implements the transport-agnostic fetch/process loop of
// spec.md §4.3.
type Consumer struct {
	settings *Settings

	mu              sync.Mutex
	errorCount      int
	lastMessageTime time.Time
}

// NewConsumer builds a Consumer over settings. settings.Backend,
// settings.Validator, and settings.Callbacks must be non-nil.
func NewConsumer(settings *Settings) *Consumer {
	return &Consumer{settings: settings, lastMessageTime: time.Now()}
}

// ErrorCount returns the current consecutive-failure counter, exposed for
// tests and for callers wiring their own heartbeat/metrics sink.
func (c *Consumer) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount
}

// FetchAndProcess runs the long-running loop until ctx is canceled. It pulls
// up to numMessages entries at a time with the given visibilityTimeout, and
// returns nil on clean shutdown (ctx.Err() != nil) or a non-nil error if
// Pull itself fails in a way that isn't simple cancellation.
func (c *Consumer) FetchAndProcess(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := c.settings.Backend.Pull(ctx, numMessages, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if len(entries) == 0 {
			c.maybeResetOnInactivity()
			c.heartbeat()
			continue
		}

		c.mu.Lock()
		c.lastMessageTime = time.Now()
		c.mu.Unlock()

		for _, entry := range entries {
			if ctx.Err() != nil {
				return nil
			}
			c.processOne(ctx, entry)
		}

		c.heartbeat()
	}
}

func (c *Consumer) maybeResetOnInactivity() {
	if c.settings.InactivityTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastMessageTime) >= c.settings.InactivityTimeout {
		c.errorCount = 0
		c.lastMessageTime = time.Now()
	}
}

func (c *Consumer) heartbeat() {
	if c.settings.Heartbeat == nil {
		return
	}
	c.settings.Heartbeat(c.ErrorCount())
}

// processOne runs the per-entry pipeline and applies its own ack/nack;
// unlike processEntry (used by sync-mode publish), it never propagates an
// error to the caller — every failure is logged and dispositioned in place.
func (c *Consumer) processOne(ctx context.Context, entry Entry) {
	if c.settings.OnReceive != nil {
		c.settings.OnReceive(ctx, entry)
	}

	kind, procErr, extra := c.runPipeline(ctx, entry)

	if c.settings.OnMessageException != nil && procErr != nil {
		c.settings.OnMessageException(ctx, entry, procErr)
	}

	result := c.settings.disposition().Decide(ctx, kind, procErr, extra)

	switch kind {
	case dispositions.KindNone:
		c.resetErrors()
	case dispositions.KindIgnore:
		hedwiglog.Info(ctx, "message ignored", kind.String(), extra)
	case dispositions.KindRetry:
		hedwiglog.Info(ctx, "retrying", kind.String(), nil)
	default:
		hedwiglog.Error(ctx, "message processing failed", kind.String(), procErr, extra)
	}

	if result.IncrementErrors {
		c.bumpErrors()
	}

	if result.Ack {
		if err := c.settings.Backend.Ack(ctx, entry); err != nil {
			// Ack failures are logged but swallowed: the transport will
			// redeliver (spec.md §7 row "Ack failure").
			hedwiglog.Error(ctx, "ack failed", dispositions.KindAckFailure.String(), err, nil)
		}
		return
	}
	if err := c.settings.Backend.Nack(ctx, entry); err != nil {
		hedwiglog.Error(ctx, "nack failed", dispositions.KindAckFailure.String(), err, nil)
	}
}

func (c *Consumer) resetErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount = 0
}

func (c *Consumer) bumpErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// runPipeline runs pre-hook -> deserialize -> callback -> post-hook and
// classifies the outcome into a dispositions.Kind, mirroring processEntry
// below but returning the classification instead of acting on it, so both
// Consumer (which owns the error counter) and Publisher's sync mode (which
// doesn't) can share the classification logic.
func (c *Consumer) runPipeline(ctx context.Context, entry Entry) (dispositions.Kind, error, map[string]any) {
	if c.settings.TraceExtract != nil {
		ctx = c.settings.TraceExtract(ctx, entry.Attributes)
	}

	if c.settings.PreProcess != nil {
		if err := c.settings.PreProcess(ctx, entry); err != nil {
			return dispositions.KindPreHook, err, nil
		}
	}

	msg, err := c.settings.Validator.Deserialize(ctx, entry.Payload, entry.Attributes, entry.Metadata)
	if err != nil {
		return dispositions.KindValidation, NewValidationError(err), nil
	}

	cb, err := c.settings.Callbacks.Find(msg.Type(), msg.Version().Major)
	if err != nil {
		return dispositions.KindCallbackNotFound, NewValidationError(err), nil
	}

	kind, cbErr, extra := invokeCallback(ctx, cb, msg)
	if kind != dispositions.KindNone {
		return kind, cbErr, extra
	}

	if c.settings.PostProcess != nil {
		if err := c.settings.PostProcess(ctx, entry); err != nil {
			return dispositions.KindPostHook, err, nil
		}
	}

	return dispositions.KindNone, nil, nil
}

// invokeCallback runs cb with panic recovery and classifies its outcome
// against spec.md §7's taxonomy.
func invokeCallback(ctx context.Context, cb Callback, msg Message) (kind dispositions.Kind, err error, extra map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			kind = dispositions.KindHandlerPanic
			err = panicError{r}
		}
	}()

	cbErr := cb(ctx, msg)
	if cbErr == nil {
		return dispositions.KindNone, nil, nil
	}

	var ignore *IgnoreError
	if errors.As(cbErr, &ignore) {
		return dispositions.KindIgnore, cbErr, nil
	}
	var logging *LoggingError
	if errors.As(cbErr, &logging) {
		return dispositions.KindLogging, cbErr, logging.Extra
	}
	var retry *RetryError
	if errors.As(cbErr, &retry) {
		return dispositions.KindRetry, cbErr, nil
	}
	return dispositions.KindHandlerError, cbErr, nil
}

type panicError struct{ value any }

func (p panicError) Error() string { return "panic in callback" }

// processEntry runs the full pipeline and returns a plain error for callers
// (Publisher's sync mode) that want Go-idiomatic error propagation instead
// of an ack/nack side effect.
func processEntry(ctx context.Context, s *Settings, entry Entry) error {
	c := &Consumer{settings: s}
	kind, err, _ := c.runPipeline(ctx, entry)
	if kind != dispositions.KindNone && kind != dispositions.KindIgnore {
		return err
	}
	return nil
}
