// Package validator implements hedwig.Validator for JSON-Schema and Protobuf
// payloads, grounded on the teacher's NewRouter/RegisterSchema pair in
// router.go, generalized from "one envelope schema plus per-message payload
// schemas" into the full container/attributes framing split of spec.md §4.1.
// JSON-Schema compilation/validation calls gojsonschema directly rather than
// through an adapter package, since this file is its only caller.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cloudhedwig/hedwig"
	"github.com/cloudhedwig/hedwig/internal/envelope"
	"github.com/cloudhedwig/hedwig/routing"
)

// JSONSchema is one registered message schema: the raw JSON-Schema document
// text and the highest minor version it accepts.
type JSONSchema struct {
	Minor  int
	Schema string
}

type jsonSchemaEntry struct {
	loader gojsonschema.JSONLoader
	minor  int
}

// formatSchemaErrors collapses a gojsonschema validation outcome into a
// single error, or nil on success.
func formatSchemaErrors(result *gojsonschema.Result, err error) error {
	if err != nil {
		return fmt.Errorf("schema validation system error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var msg string
	for _, desc := range result.Errors() {
		msg += fmt.Sprintf("- %s; ", desc)
	}
	return fmt.Errorf("schema validation failed: %s", msg)
}

// JSONValidator implements hedwig.Validator using JSON-Schema draft-4
// documents, one per (message type, major version), via gojsonschema.
type JSONValidator struct {
	schemaRoot    string
	publisher     string
	useAttributes bool
	firehose      bool

	schemas map[routing.Key]jsonSchemaEntry
}

// NewJSONValidator compiles every schema in schemas and runs the startup
// sanity check of spec.md §4.1's last paragraph: every (type, major) reachable
// through routes or callbacks must have a matching schema. schemaRoot is the
// JSON-Schema document id used as the schema-identifier prefix.
func NewJSONValidator(
	schemaRoot, publisher string,
	useAttributes bool,
	schemas map[routing.Key]JSONSchema,
	routes *hedwig.RoutingTable,
	callbacks *hedwig.CallbackRegistry,
) (*JSONValidator, error) {
	v := &JSONValidator{
		schemaRoot:    schemaRoot,
		publisher:     publisher,
		useAttributes: useAttributes,
		schemas:       make(map[routing.Key]jsonSchemaEntry, len(schemas)),
	}
	for key, def := range schemas {
		loader := gojsonschema.NewStringLoader(def.Schema)
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return nil, &hedwig.SchemaError{Cause: fmt.Errorf("schema %s: %w", key, err)}
		}
		v.schemas[key] = jsonSchemaEntry{loader: loader, minor: def.Minor}
	}

	if routes != nil {
		for _, k := range routes.Keys() {
			if _, ok := v.schemas[k]; !ok {
				return nil, &hedwig.SchemaError{Cause: fmt.Errorf("no schema registered for routed message %s", k)}
			}
		}
	}
	if callbacks != nil {
		for _, k := range callbacks.Keys() {
			if _, ok := v.schemas[k]; !ok {
				return nil, &hedwig.SchemaError{Cause: fmt.Errorf("no schema registered for callback %s", k)}
			}
		}
	}

	return v, nil
}

// lookup reads v.schemas, which is built once at construction and never
// mutated afterward, so no lock is needed for concurrent readers.
func (v *JSONValidator) lookup(msgType string, major int) (jsonSchemaEntry, bool) {
	e, ok := v.schemas[routing.Key{Type: msgType, Major: major}]
	return e, ok
}

// Serialize implements hedwig.Validator.
func (v *JSONValidator) Serialize(ctx context.Context, msg hedwig.Message) ([]byte, map[string]string, error) {
	entry, ok := v.lookup(msg.Type(), msg.Version().Major)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no schema for %s/%d", hedwig.ErrSchema, msg.Type(), msg.Version().Major)
	}
	unknownMinor := msg.Version().Minor > entry.minor
	if unknownMinor && !v.firehose {
		return nil, nil, fmt.Errorf("%w: %s/%d.%d declared but schema only knows up to minor %d",
			hedwig.ErrUnknownMinorVersion, msg.Type(), msg.Version().Major, msg.Version().Minor, entry.minor)
	}

	if err := hedwig.ValidateUserHeaders(msg.Headers()); err != nil {
		return nil, nil, err
	}

	dataBytes, err := marshalJSONData(msg.Data())
	if err != nil {
		return nil, nil, fmt.Errorf("encoding message data: %w", err)
	}

	if !unknownMinor {
		result, err := gojsonschema.Validate(entry.loader, gojsonschema.NewBytesLoader(dataBytes))
		if formatErr := formatSchemaErrors(result, err); formatErr != nil {
			return nil, nil, hedwig.NewValidationError(formatErr)
		}
	}

	schemaID := envelope.BuildJSONSchemaID(v.schemaRoot, msg.Type(), msg.Version().Major, msg.Version().Minor)

	var payload []byte
	var attributes map[string]string
	if v.useAttributes && !v.firehose {
		payload, attributes = encodeAttributesMode(msg, schemaID, dataBytes)
	} else {
		payload, err = encodeContainer(msg, schemaID, json.RawMessage(dataBytes))
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
func (v *JSONValidator) Deserialize(ctx context.Context, payload []byte, attributes map[string]string, meta hedwig.ProviderMetadata) (hedwig.Message, error) {
	var env decodedEnvelope
	var err error
	if v.useAttributes && !v.firehose {
		env, err = decodeAttributesMode(attributes, payload)
	} else {
		env, err = decodeContainer(payload)
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
		return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("no schema registered for %s/%d", msgType, major))
	}
	unknownMinor := entry.minor < minor
	if unknownMinor && !v.firehose {
		return hedwig.Message{}, hedwig.NewValidationError(
			fmt.Errorf("%w: %s/%d.%d, known up to minor %d", hedwig.ErrUnknownMinorVersion, msgType, major, minor, entry.minor))
	}

	if !unknownMinor {
		result, verr := gojsonschema.Validate(entry.loader, gojsonschema.NewBytesLoader(env.rawData))
		if formatErr := formatSchemaErrors(result, verr); formatErr != nil {
			return hedwig.Message{}, hedwig.NewValidationError(formatErr)
		}
	}

	var data any
	if err := json.Unmarshal(env.rawData, &data); err != nil {
		return hedwig.Message{}, hedwig.NewValidationError(fmt.Errorf("decoding message data: %w", err))
	}

	return hedwig.NewDeserializedMessage(env.id, msgType, hedwig.SchemaVersion{Major: major, Minor: minor},
		env.timestamp, env.publisher, headers, data, meta)
}

func marshalJSONData(data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// decodedEnvelope is the framing-mode-agnostic intermediate result of
// extracting (meta-attributes, raw-data) per spec.md §4.1 step 1.
type decodedEnvelope struct {
	formatVersion string
	id            string
	schemaID      string
	timestamp     time.Time
	publisher     string
	headers       map[string]string
	rawData       []byte
}

type containerEnvelope struct {
	FormatVersion string            `json:"format_version"`
	ID            string            `json:"id"`
	Schema        string            `json:"schema"`
	Metadata      containerMetadata `json:"metadata"`
	Data          json.RawMessage   `json:"data"`
}

type containerMetadata struct {
	Timestamp int64             `json:"timestamp"`
	Publisher string            `json:"publisher"`
	Headers   map[string]string `json:"headers"`
}

func encodeContainer(msg hedwig.Message, schemaID string, data json.RawMessage) ([]byte, error) {
	env := containerEnvelope{
		FormatVersion: envelope.FormatVersion,
		ID:            msg.ID(),
		Schema:        schemaID,
		Metadata: containerMetadata{
			Timestamp: msg.Timestamp().UnixMilli(),
			Publisher: msg.Publisher(),
			Headers:   msg.Headers().Map(),
		},
		Data: data,
	}
	return json.Marshal(env)
}

func decodeContainer(payload []byte) (decodedEnvelope, error) {
	var env containerEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return decodedEnvelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.ID == "" || env.Schema == "" {
		return decodedEnvelope{}, fmt.Errorf("missing required envelope field")
	}
	return decodedEnvelope{
		formatVersion: env.FormatVersion,
		id:            env.ID,
		schemaID:      env.Schema,
		timestamp:     time.UnixMilli(env.Metadata.Timestamp),
		publisher:     env.Metadata.Publisher,
		headers:       env.Metadata.Headers,
		rawData:       []byte(env.Data),
	}, nil
}

func encodeAttributesMode(msg hedwig.Message, schemaID string, dataBytes []byte) ([]byte, map[string]string) {
	attrs := msg.Headers().Map()
	attrs[envelope.AttrFormatVersion] = envelope.FormatVersion
	attrs[envelope.AttrID] = msg.ID()
	attrs[envelope.AttrSchema] = schemaID
	attrs[envelope.AttrTimestamp] = strconv.FormatInt(msg.Timestamp().UnixMilli(), 10)
	attrs[envelope.AttrPublisher] = msg.Publisher()
	return dataBytes, attrs
}

func decodeAttributesMode(attributes map[string]string, payload []byte) (decodedEnvelope, error) {
	id, ok := attributes[envelope.AttrID]
	if !ok {
		return decodedEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrID)
	}
	schemaID, ok := attributes[envelope.AttrSchema]
	if !ok {
		return decodedEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrSchema)
	}
	tsRaw, ok := attributes[envelope.AttrTimestamp]
	if !ok {
		return decodedEnvelope{}, fmt.Errorf("missing %s attribute", envelope.AttrTimestamp)
	}
	tsMillis, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("malformed %s attribute: %w", envelope.AttrTimestamp, err)
	}

	data := payload
	if enc, ok := attributes[envelope.AttrEncoding]; ok && enc == envelope.EncodingBase64 {
		decoded, err := envelope.DecodeBinary(string(payload))
		if err != nil {
			return decodedEnvelope{}, fmt.Errorf("decoding base64 payload: %w", err)
		}
		data = decoded
	}

	headers := make(map[string]string)
	for k, val := range attributes {
		if envelope.IsReserved(k) {
			continue
		}
		if envelope.HasReservedPrefix(k) {
			return decodedEnvelope{}, fmt.Errorf("unrecognized reserved attribute %q", k)
		}
		headers[k] = val
	}

	return decodedEnvelope{
		formatVersion: attributes[envelope.AttrFormatVersion],
		id:            id,
		schemaID:      schemaID,
		timestamp:     time.UnixMilli(tsMillis),
		publisher:     attributes[envelope.AttrPublisher],
		headers:       headers,
		rawData:       data,
	}, nil
}

func headersFromMap(m map[string]string) (hedwig.Headers, error) {
	h := hedwig.NewHeaders()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, m[k])
	}
	return h, hedwig.ValidateUserHeaders(h)
}
