package hedwig

import (
	"context"
	"fmt"

	"github.com/cloudhedwig/hedwig/internal/hedwiglog"
)

// headerCarrier adapts a *Headers to TraceCarrier so tracing hooks can read
// and write message headers without Hedwig depending on a concrete tracer.
type headerCarrier struct{ h *Headers }

func (c headerCarrier) Get(key string) string       { v, _ := c.h.Get(key); return v }
func (c headerCarrier) Set(key, value string)        { c.h.Set(key, value) }
func (c headerCarrier) Keys() []string               { return c.h.Keys() }

// Publisher implements spec.md §4.2.
type Publisher struct {
	settings *Settings
}

// NewPublisher builds a Publisher over settings. settings.Validator and,
// unless PublisherSyncMode is set, settings.Transport and settings.Routes
// must be non-nil.
func NewPublisher(settings *Settings) *Publisher {
	return &Publisher{settings: settings}
}

// Publish implements the algorithm of spec.md §4.2.
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	if p.settings.PublisherSyncMode {
		return p.publishSync(ctx, msg)
	}
	return p.publishTransport(ctx, msg)
}

// publishSync builds a fake transport entry and runs it through the same
// per-entry pipeline the consumer uses, against the local callback registry,
// without touching a real transport (spec.md §4.2 step 1).
func (p *Publisher) publishSync(ctx context.Context, msg Message) (string, error) {
	payload, attributes, err := p.settings.Validator.Serialize(ctx, msg)
	if err != nil {
		return "", err
	}
	entry := Entry{Payload: payload, Attributes: attributes}
	if err := processEntry(ctx, p.settings, entry); err != nil {
		return "", err
	}
	return msg.ID(), nil
}

// publishTransport runs the default-headers/tracing/serialize/publish
// pipeline of spec.md §4.2 steps 2-4.
func (p *Publisher) publishTransport(ctx context.Context, msg Message) (string, error) {
	if p.settings.DefaultHeaders != nil {
		defaults := p.settings.DefaultHeaders(ctx, msg.Type(), msg.Version())
		msg = msg.WithHeaders(msg.Headers().Merge(defaults))
	}

	if p.settings.TraceInject != nil {
		injected := msg.Headers().Clone()
		p.settings.TraceInject(ctx, headerCarrier{&injected})
		msg = msg.WithHeaders(msg.Headers().Merge(injected))
	}

	payload, attributes, err := p.settings.Validator.Serialize(ctx, msg)
	if err != nil {
		return "", err
	}

	dest, ok := p.settings.Routes.Resolve(msg.Type(), msg.Version().Major)
	if !ok {
		return "", fmt.Errorf("%w: %s/%d", ErrUnroutableMessage, msg.Type(), msg.Version().Major)
	}
	if p.settings.Transport == nil {
		return "", ErrBackendNotConfigured
	}

	id, err := p.settings.Transport.Publish(ctx, dest, payload, attributes)
	if err != nil {
		hedwiglog.Error(ctx, "publish failed", "publish_error", err, map[string]any{
			"message_type": msg.Type(), "message_id": msg.ID(),
		})
		return "", err
	}
	hedwiglog.Info(ctx, "published", "publish_ok", map[string]any{
		"message_type": msg.Type(), "message_id": msg.ID(), "transport_id": id,
	})
	return id, nil
}
