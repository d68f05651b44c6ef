package hedwig

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReservedHeaderPrefix is forbidden on user-supplied headers; Hedwig itself
// uses it for the reserved transport attributes listed in SPEC_FULL.md §5.
const ReservedHeaderPrefix = "hedwig_"

// SchemaVersion is a message's major.minor version. Only the major component
// participates in routing and callback resolution; the minor component
// governs additive-field tolerance in the validator.
type SchemaVersion struct {
	Major int
	Minor int
}

// String renders "major.minor".
func (v SchemaVersion) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// IsZero reports whether the major component is unset, which is invalid for
// any constructed Message.
func (v SchemaVersion) IsZero() bool { return v.Major == 0 }

// Headers is a user-defined, ordered-insertion string-to-string mapping.
// Order is preserved the way Python's dict preserves insertion order, which
// original_source/hedwig/models.py relies on for deterministic envelope
// encoding; Go's map has no such guarantee, so Headers tracks key order
// alongside a lookup map.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns an empty Headers value. Entries are added with Set,
// which keeps keys in first-insertion order.
func NewHeaders() Headers {
	return Headers{values: make(map[string]string)}
}

// Set inserts or overwrites a header, preserving first-insertion order.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, exists := h.values[key]; !exists {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the header value and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Len reports the number of headers.
func (h Headers) Len() int { return len(h.keys) }

// Keys returns header keys in insertion order.
func (h Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	out := NewHeaders()
	for _, k := range h.keys {
		out.Set(k, h.values[k])
	}
	return out
}

// Map returns a plain map snapshot, losing order; used when handing headers
// to transport attribute maps, which have no ordering concept anyway.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Merge returns a copy of h with other's keys overlaid; on conflict the
// caller's existing value in h wins, matching Publisher Core's
// "user headers win on conflict" rule (spec.md §4.2 step 2).
func (h Headers) Merge(other Headers) Headers {
	out := h.Clone()
	for _, k := range other.keys {
		if _, exists := out.values[k]; !exists {
			out.Set(k, other.values[k])
		}
	}
	return out
}

// ValidateUserHeaders rejects any key with the reserved hedwig_ prefix.
func ValidateUserHeaders(h Headers) error {
	for _, k := range h.keys {
		if strings.HasPrefix(k, ReservedHeaderPrefix) {
			return fmt.Errorf("%w: %q", ErrReservedHeaderPrefix, k)
		}
	}
	return nil
}

// ProviderMetadata is the sum type of transport-specific receipt
// information. Concrete types are SQSMetadata, PubSubMetadata, and
// RedisMetadata; callbacks type-switch on it to read transport-native
// fields (spec.md §9 design note "Provider metadata as a sum").
type ProviderMetadata interface {
	providerMetadata()
}

// SQSMetadata carries the fields SQS attaches to a delivered message.
type SQSMetadata struct {
	ReceiptHandle                    string
	SentTimestamp                    time.Time
	ApproximateFirstReceiveTimestamp time.Time
	ApproximateReceiveCount          int
}

func (SQSMetadata) providerMetadata() {}

// PubSubMetadata carries the fields Google Cloud Pub/Sub attaches to a
// delivered message.
type PubSubMetadata struct {
	AckID           string
	Subscription    string
	PublishTime     time.Time
	DeliveryAttempt int
}

func (PubSubMetadata) providerMetadata() {}

// RedisMetadata carries the fields a Redis Streams consumer group attaches
// to a delivered entry.
type RedisMetadata struct {
	EntryID         string
	Stream          string
	DeliveryAttempt int
}

func (RedisMetadata) providerMetadata() {}

// Message is Hedwig's immutable event record. Construct with NewMessage;
// WithHeaders and WithProviderMetadata return modified copies, everything
// else is set once at construction.
type Message struct {
	id               string
	msgType          string
	version          SchemaVersion
	timestamp        time.Time
	publisher        string
	headers          Headers
	data             any
	providerMetadata ProviderMetadata
}

// NewMessage builds a Message with a fresh UUID id and the current time,
// mirroring the publisher's constructor in spec.md §3 "Lifecycle". Publisher
// is taken from Settings by callers; it is a constructor parameter here so
// the core stays decoupled from the Settings type during construction.
func NewMessage(msgType string, version SchemaVersion, publisher string, headers Headers, data any) (Message, error) {
	m := Message{
		id:        uuid.NewString(),
		msgType:   msgType,
		version:   version,
		timestamp: time.Now(),
		publisher: publisher,
		headers:   headers,
		data:      data,
	}
	return m, m.Validate()
}

// newDeserializedMessage is used by validators to construct a Message whose
// identity fields come off the wire rather than being freshly generated.
func newDeserializedMessage(id, msgType string, version SchemaVersion, timestamp time.Time, publisher string, headers Headers, data any, meta ProviderMetadata) (Message, error) {
	m := Message{
		id:               id,
		msgType:          msgType,
		version:          version,
		timestamp:        timestamp,
		publisher:        publisher,
		headers:          headers,
		data:             data,
		providerMetadata: meta,
	}
	return m, m.Validate()
}

// NewDeserializedMessage is the exported form of newDeserializedMessage, used
// by package validator (which lives outside package hedwig to keep wire
// format concerns out of the core) to build a Message from decoded envelope
// fields.
func NewDeserializedMessage(id, msgType string, version SchemaVersion, timestamp time.Time, publisher string, headers Headers, data any, meta ProviderMetadata) (Message, error) {
	return newDeserializedMessage(id, msgType, version, timestamp, publisher, headers, data, meta)
}

// Validate enforces the invariants of spec.md §3: non-empty id/type,
// non-zero major version, no reserved-prefix headers, positive timestamp.
func (m Message) Validate() error {
	if m.id == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidMessage)
	}
	if m.msgType == "" {
		return fmt.Errorf("%w: type must not be empty", ErrInvalidMessage)
	}
	if m.version.IsZero() {
		return fmt.Errorf("%w: version major must be non-zero", ErrInvalidMessage)
	}
	if m.timestamp.IsZero() || m.timestamp.Unix() <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidMessage)
	}
	if err := ValidateUserHeaders(m.headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (m Message) ID() string                       { return m.id }
func (m Message) Type() string                      { return m.msgType }
func (m Message) Version() SchemaVersion            { return m.version }
func (m Message) Timestamp() time.Time              { return m.timestamp }
func (m Message) Publisher() string                 { return m.publisher }
func (m Message) Headers() Headers                  { return m.headers }
func (m Message) Data() any                         { return m.data }
func (m Message) ProviderMetadata() ProviderMetadata { return m.providerMetadata }

// WithHeaders returns a copy of m with its headers replaced.
func (m Message) WithHeaders(h Headers) Message {
	m.headers = h
	return m
}

// WithProviderMetadata returns a copy of m with provider metadata attached.
// Used exclusively by backends on the consume path; publishers never call
// this (spec.md §3: "set on deserialization only").
func (m Message) WithProviderMetadata(pm ProviderMetadata) Message {
	m.providerMetadata = pm
	return m
}
