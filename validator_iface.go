package hedwig

import "context"

// Validator owns both envelope and payload (de)serialization for one wire
// format (JSON-Schema or Protobuf), as described in SPEC_FULL.md §5. It is
// defined here, in the package that owns Message, rather than in the
// validator subpackage, specifically to avoid an import cycle: concrete
// validators (package validator) need to construct and inspect Message
// values, so they import this package; Settings below only needs the
// interface, not the concrete types.
type Validator interface {
	// Serialize encodes msg to a transport-ready (payload, attributes) pair.
	// Implementations must round-trip their own output through Deserialize
	// before returning, per spec.md §4.1, so a producer can never emit
	// something it could not itself parse.
	Serialize(ctx context.Context, msg Message) (payload []byte, attributes map[string]string, err error)

	// Deserialize parses a transport-delivered (payload, attributes) pair
	// into a Message. meta is passed to NewDeserializedMessage, so the
	// returned Message carries it as its ProviderMetadata.
	Deserialize(ctx context.Context, payload []byte, attributes map[string]string, meta ProviderMetadata) (Message, error)
}
