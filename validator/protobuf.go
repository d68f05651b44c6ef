package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cloudhedwig/hedwig"
	"github.com/cloudhedwig/hedwig/internal/envelope"
	"github.com/cloudhedwig/hedwig/routing"
)

// ProtobufMessage registers one message class for ProtobufValidator: a
// zero-value factory returning the application's own generated proto.Message
// type, and the highest minor version this binary knows how to produce/read.
// Hedwig never generates protobuf types of its own; New is expected to
// return a value built by the application's protoc pipeline.
type ProtobufMessage struct {
	Minor int
	New   func() proto.Message
}

type protoEntry struct {
	minor int
	new   func() proto.Message
}

// ProtobufValidator implements hedwig.Validator over application-supplied
// proto.Message types using the standard protobuf wire format. Because
// Hedwig does not ship a generated "envelope" .proto message, the envelope
// itself (id, schema, timestamp, publisher, headers) is carried as a
// google.protobuf.Struct — genuinely generated protobuf runtime types
// (structpb, anypb) rather than a hand-authored descriptor, at the cost of
// the envelope being dynamically typed instead of a fixed message shape
// (see DESIGN.md).
type ProtobufValidator struct {
	publisher     string
	useAttributes bool
	firehose      bool

	classes map[routing.Key]protoEntry
}

// NewProtobufValidator runs the same startup sanity check as
// NewJSONValidator, against registered proto message classes instead of
// JSON schemas.
func NewProtobufValidator(
	publisher string,
	useAttributes bool,
	classes map[routing.Key]ProtobufMessage,
	routes *hedwig.RoutingTable,
	callbacks *hedwig.CallbackRegistry,
) (*ProtobufValidator, error) {
	v := &ProtobufValidator{
		publisher:     publisher,
		useAttributes: useAttributes,
		classes:       make(map[routing.Key]protoEntry, len(classes)),
	}
	for key, def := range classes {
		if def.New == nil {
			return nil, &hedwig.SchemaError{Cause: fmt.Errorf("class %s: nil factory", key)}
		}
		v.classes[key] = protoEntry{minor: def.Minor, new: def.New}
	}

	if routes != nil {
		for _, k := range routes.Keys() {
			if _, ok := v.classes[k]; !ok {
				return nil, &hedwig.SchemaError{Cause: fmt.Errorf("no protobuf class registered for routed message %s", k)}
			}
		}
	}
	if callbacks != nil {
		for _, k := range callbacks.Keys() {
			if _, ok := v.classes[k]; !ok {
				return nil, &hedwig.SchemaError{Cause: fmt.Errorf("no protobuf class registered for callback %s", k)}
			}
		}
	}

	return v, nil
}

// lookup reads v.classes, which is built once at construction and never
// mutated afterward, so no lock is needed for concurrent readers.
func (v *ProtobufValidator) lookup(msgType string, major int) (protoEntry, bool) {
	e, ok := v.classes[routing.Key{Type: msgType, Major: major}]
	return e, ok
}

// Serialize implements hedwig.Validator.
func (v *ProtobufValidator) Serialize(ctx context.Context, msg hedwig.Message) ([]byte, map[string]string, error) {
	entry, ok := v.lookup(msg.Type(), msg.Version().Major)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no protobuf class for %s/%d", hedwig.ErrSchema, msg.Type(), msg.Version().Major)
	}
	unknownMinor := msg.Version().Minor > entry.minor
	if unknownMinor && !v.firehose {
		return nil, nil, fmt.Errorf("%w: %s/%d.%d declared but class only knows up to minor %d",
			hedwig.ErrUnknownMinorVersion, msg.Type(), msg.Version().Major, msg.Version().Minor, entry.minor)
	}
	if err := hedwig.ValidateUserHeaders(msg.Headers()); err != nil {
		return nil, nil, err
	}

	dataMsg, ok := msg.Data().(proto.Message)
	if !ok {
		return nil, nil, fmt.Errorf("%w: message data is not a proto.Message", hedwig.ErrInvalidMessage)
	}

	schemaID := envelope.BuildProtoSchemaID(msg.Type(), msg.Version().Major, msg.Version().Minor)

	var payload []byte
	var attributes map[string]string
	var err error
	switch {
	case v.firehose:
		payload, err = encodeProtoFirehose(msg, schemaID, dataMsg, unknownMinor)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding firehose envelope: %w", err)
		}
		attributes = msg.Headers().Map()
	case v.useAttributes:
		dataBytes, merr := proto.Marshal(dataMsg)
		if merr != nil {
			return nil, nil, fmt.Errorf("marshaling protobuf data: %w", merr)
		}
		payload, attributes = encodeProtoAttributesMode(msg, schemaID, dataBytes)
	default:
		anyMsg, aerr := anypb.New(dataMsg)
		if aerr != nil {
			return nil, nil, fmt.Errorf("packing Any: %w", aerr)
		}
		payload, err = encodeProtoContainer(msg, schemaID, anyMsg)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding envelope: %w", err)
		}
		attributes = msg.Headers().Map()
	}

	if _, err := v.Deserialize(ctx, payload, attributes, nil); err != nil {
		return nil, nil, fmt.Errorf("producer cannot parse its own output: %w", err)
	}

	return payload, attributes, nil
}

// Deserialize implements hedwig.Validator.
func (v *ProtobufValidator) Deserialize(ctx context.Context, payload []byte, attributes map[string]string, meta hedwig.ProviderMetadata) (hedwig.Message, error) {
	var env decodedProtoEnvelope
	var err error
	switch {
	case v.firehose:
		env, err = decodeProtoFirehose(payload)
	case v.useAttributes:
		env, err = decodeProtoAttributesMode(attributes, payload)
	default:
		env, err = decodeProtoContainer(payload)
	}
	if err != nil {
		return hedwig.Message{}, hedwig.NewValidationError(err)
	}

	if env.formatVersion != envelope.FormatVersion {
		return hedwig.Message{}, hedwig.NewValidationError(
			fmt.Errorf("%w: got %q want %q", hedwig.ErrFormatVersionMismatch, env.formatVersion, envelope.FormatVersion))
	}

	headers, err := headersFromMap(env.headers)
	if err != nil {
		return hedwig.Message{}, hedwig.NewValidationError(err)
	}

	msgType, major, minor, err := envelope.ParseSchemaID(env.schemaID)
	if err != nil {
		return hedwig.Message{}, hedwig.NewValidationError(err)
	}

	entry, ok := v.lookup(msgType, major)
	if !ok {
		return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("no protobuf class registered for %s/%d", msgType, major))
	}
	if entry.minor < minor && !v.firehose {
		return hedwig.Message{}, hedwig.NewValidationError(
			fmt.Errorf("%w: %s/%d.%d, known up to minor %d", hedwig.ErrUnknownMinorVersion, msgType, major, minor, entry.minor))
	}

	domainMsg := entry.new()
	switch {
	case env.wrapped:
		anyMsg := &anypb.Any{TypeUrl: env.typeURL, Value: env.rawData}
		if err := anyMsg.UnmarshalTo(domainMsg); err != nil {
			return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("unpacking Any: %w", err))
		}
	case env.firehoseJSON != nil:
		if err := protojson.Unmarshal(env.firehoseJSON, domainMsg); err != nil {
			return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("unmarshaling firehose data: %w", err))
		}
	default:
		if err := proto.Unmarshal(env.rawData, domainMsg); err != nil {
			return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("decoding protobuf data: %w", err))
		}
	}

	return hedwig.NewDeserializedMessage(env.id, msgType, hedwig.SchemaVersion{Major: major, Minor: minor},
		env.timestamp, env.publisher, headers, domainMsg, meta)
}

type decodedProtoEnvelope struct {
	formatVersion string
	id            string
	schemaID      string
	timestamp     time.Time
	publisher     string
	headers       map[string]string
	rawData       []byte
	wrapped       bool // true when rawData+typeURL form an Any, as in container mode
	typeURL       string
	firehoseJSON  []byte // set when data arrived as a structured (non-string) firehose value
}

func encodeProtoContainer(msg hedwig.Message, schemaID string, anyMsg *anypb.Any) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"format_version": envelope.FormatVersion,
		"id":             msg.ID(),
		"schema":         schemaID,
		"metadata": map[string]any{
			"timestamp": float64(msg.Timestamp().UnixMilli()),
			"publisher": msg.Publisher(),
			"headers":   stringMapToAny(msg.Headers().Map()),
		},
		"data": map[string]any{
			"type_url": anyMsg.TypeUrl,
			"value":    base64.StdEncoding.EncodeToString(anyMsg.Value),
		},
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func decodeProtoContainer(payload []byte) (decodedProtoEnvelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(payload, &st); err != nil {
		return decodedProtoEnvelope{}, fmt.Errorf("decoding envelope struct: %w", err)
	}
	fields := st.GetFields()
	id := fields["id"].GetStringValue()
	schemaID := fields["schema"].GetStringValue()
	if id == "" || schemaID == "" {
		return decodedProtoEnvelope{}, fmt.Errorf("missing required envelope field")
	}
	meta := fields["metadata"].GetStructValue()
	headers := map[string]string{}
	for k, fv := range meta.GetFields()["headers"].GetStructValue().GetFields() {
		headers[k] = fv.GetStringValue()
	}
	data := fields["data"].GetStructValue()
	value, err := base64.StdEncoding.DecodeString(data.GetFields()["value"].GetStringValue())
	if err != nil {
		return decodedProtoEnvelope{}, fmt.Errorf("decoding Any value: %w", err)
	}

	return decodedProtoEnvelope{
		formatVersion: fields["format_version"].GetStringValue(),
		id:            id,
		schemaID:      schemaID,
		timestamp:     time.UnixMilli(int64(meta.GetFields()["timestamp"].GetNumberValue())),
		publisher:     meta.GetFields()["publisher"].GetStringValue(),
		headers:       headers,
		rawData:       value,
		wrapped:       true,
		typeURL:       data.GetFields()["type_url"].GetStringValue(),
	}, nil
}

func encodeProtoAttributesMode(msg hedwig.Message, schemaID string, dataBytes []byte) ([]byte, map[string]string) {
	text, encAttr := envelope.EncodeBinary(dataBytes)
	attrs := msg.Headers().Map()
	attrs[envelope.AttrFormatVersion] = envelope.FormatVersion
	attrs[envelope.AttrID] = msg.ID()
	attrs[envelope.AttrSchema] = schemaID
	attrs[envelope.AttrTimestamp] = strconv.FormatInt(msg.Timestamp().UnixMilli(), 10)
	attrs[envelope.AttrPublisher] = msg.Publisher()
	attrs[envelope.AttrEncoding] = encAttr
	return []byte(text), attrs
}

func decodeProtoAttributesMode(attributes map[string]string, payload []byte) (decodedProtoEnvelope, error) {
	id, ok := attributes[envelope.AttrID]
	if !ok {
		return decodedProtoEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrID)
	}
	schemaID, ok := attributes[envelope.AttrSchema]
	if !ok {
		return decodedProtoEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrSchema)
	}
	tsRaw, ok := attributes[envelope.AttrTimestamp]
	if !ok {
		return decodedProtoEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrTimestamp)
	}
	tsMillis, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return decodedProtoEnvelope{}, fmt.Errorf("malformed %s attribute: %w", envelope.AttrTimestamp, err)
	}

	data := payload
	if attributes[envelope.AttrEncoding] == envelope.EncodingBase64 {
		decoded, err := envelope.DecodeBinary(string(payload))
		if err != nil {
			return decodedProtoEnvelope{}, fmt.Errorf("decoding base64 payload: %w", err)
		}
		data = decoded
	}

	headers := make(map[string]string)
	for k, val := range attributes {
		if envelope.IsReserved(k) {
			continue
		}
		if envelope.HasReservedPrefix(k) {
			return decodedProtoEnvelope{}, fmt.Errorf("unrecognized reserved attribute %q", k)
		}
		headers[k] = val
	}

	return decodedProtoEnvelope{
		formatVersion: attributes[envelope.AttrFormatVersion],
		id:            id,
		schemaID:      schemaID,
		timestamp:     time.UnixMilli(tsMillis),
		publisher:     attributes[envelope.AttrPublisher],
		headers:       headers,
		rawData:       data,
		wrapped:       false,
	}, nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// encodeProtoFirehose builds the always-container, JSON-wire envelope used
// by the firehose archival path (spec.md §4.1 "Firehose line"). When
// unknownMinor is true the data field is a base64 string placeholder instead
// of a structured object, so archivers that don't know this minor version
// can still skip past it without choking on unrecognized structure.
func encodeProtoFirehose(msg hedwig.Message, schemaID string, dataMsg proto.Message, unknownMinor bool) ([]byte, error) {
	var dataField any
	if unknownMinor {
		raw, err := proto.Marshal(dataMsg)
		if err != nil {
			return nil, fmt.Errorf("marshaling protobuf data: %w", err)
		}
		dataField = base64.StdEncoding.EncodeToString(raw)
	} else {
		jsonBytes, err := protojson.Marshal(dataMsg)
		if err != nil {
			return nil, fmt.Errorf("marshaling protojson data: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(jsonBytes, &decoded); err != nil {
			return nil, fmt.Errorf("decoding protojson data: %w", err)
		}
		dataField = decoded
	}

	st, err := structpb.NewStruct(map[string]any{
		"format_version": envelope.FormatVersion,
		"id":             msg.ID(),
		"schema":         schemaID,
		"metadata": map[string]any{
			"timestamp": float64(msg.Timestamp().UnixMilli()),
			"publisher": msg.Publisher(),
			"headers":   stringMapToAny(msg.Headers().Map()),
		},
		"data": dataField,
	})
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}

// decodeProtoFirehose reverses encodeProtoFirehose. A string-kind data value
// means the producer didn't know this minor version and wrapped the raw
// bytes; anything else is the structured protojson form of the domain
// message, re-marshaled into standalone JSON for protojson.Unmarshal.
func decodeProtoFirehose(payload []byte) (decodedProtoEnvelope, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(payload, &st); err != nil {
		return decodedProtoEnvelope{}, fmt.Errorf("decoding firehose envelope: %w", err)
	}
	fields := st.GetFields()
	id := fields["id"].GetStringValue()
	schemaID := fields["schema"].GetStringValue()
	if id == "" || schemaID == "" {
		return decodedProtoEnvelope{}, fmt.Errorf("missing required envelope field")
	}
	meta := fields["metadata"].GetStructValue()
	headers := map[string]string{}
	for k, fv := range meta.GetFields()["headers"].GetStructValue().GetFields() {
		headers[k] = fv.GetStringValue()
	}

	env := decodedProtoEnvelope{
		formatVersion: fields["format_version"].GetStringValue(),
		id:            id,
		schemaID:      schemaID,
		timestamp:     time.UnixMilli(int64(meta.GetFields()["timestamp"].GetNumberValue())),
		publisher:     meta.GetFields()["publisher"].GetStringValue(),
		headers:       headers,
	}

	dataValue := fields["data"]
	if _, isString := dataValue.GetKind().(*structpb.Value_StringValue); isString {
		raw, err := base64.StdEncoding.DecodeString(dataValue.GetStringValue())
		if err != nil {
			return decodedProtoEnvelope{}, fmt.Errorf("decoding firehose placeholder: %w", err)
		}
		env.rawData = raw
		return env, nil
	}

	jsonBytes, err := protojson.Marshal(dataValue)
	if err != nil {
		return decodedProtoEnvelope{}, fmt.Errorf("re-marshaling firehose data: %w", err)
	}
	env.firehoseJSON = jsonBytes
	return env, nil
}
