// Package envelope implements the wire-level framing shared by both
// validator implementations: reserved attribute names, schema-identifier
// encoding/parsing, and the binary/text bridging rules of spec.md §4.1 and
// §6. Neither JSONValidator nor ProtobufValidator duplicates this logic —
// both call into this package, which is the Go analogue of the single
// "framing-mode branching lives inside each implementation" abstract
// contract spec.md §9 calls for.
package envelope

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Reserved transport attribute keys (spec.md §4.1, §6).
const (
	AttrFormatVersion = "hedwig_format_version"
	AttrID            = "hedwig_id"
	AttrTimestamp     = "hedwig_message_timestamp"
	AttrPublisher     = "hedwig_publisher"
	AttrSchema        = "hedwig_schema"
	AttrEncoding      = "hedwig_encoding"

	EncodingBase64 = "base64"
	EncodingUTF8   = "utf8"

	// FormatVersion is the only envelope format version this implementation
	// understands; a mismatch is a ValidationError (spec.md §4.1 step 1).
	FormatVersion = "1.0"
)

var reservedAttrs = map[string]bool{
	AttrFormatVersion: true,
	AttrID:            true,
	AttrTimestamp:     true,
	AttrPublisher:     true,
	AttrSchema:        true,
	AttrEncoding:      true,
}

// IsReserved reports whether key is one of the six reserved hedwig_ names.
func IsReserved(key string) bool { return reservedAttrs[key] }

// HasReservedPrefix reports whether key begins with "hedwig_" at all,
// reserved or not — any other hedwig_-prefixed key is itself a validation
// failure (spec.md §4.1 last bullet).
func HasReservedPrefix(key string) bool { return strings.HasPrefix(key, "hedwig_") }

var schemaIDPattern = regexp.MustCompile(`([^/]+)/([^/]+)$`)

// ParseSchemaID splits a schema identifier's trailing "<type>/<major>.<minor>"
// per the regex in spec.md §6, regardless of whatever schema-root prefix
// precedes it for JSON-Schema identifiers.
func ParseSchemaID(schemaID string) (msgType string, major, minor int, err error) {
	m := schemaIDPattern.FindStringSubmatch(schemaID)
	if m == nil {
		return "", 0, 0, fmt.Errorf("malformed schema identifier %q", schemaID)
	}
	msgType = m[1]
	verParts := strings.SplitN(m[2], ".", 2)
	if len(verParts) != 2 {
		return "", 0, 0, fmt.Errorf("malformed version in schema identifier %q", schemaID)
	}
	major, err = strconv.Atoi(verParts[0])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed major version in %q: %w", schemaID, err)
	}
	minor, err = strconv.Atoi(verParts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed minor version in %q: %w", schemaID, err)
	}
	return msgType, major, minor, nil
}

// BuildJSONSchemaID builds "<schemaRoot>#/schemas/<type>/<major>.<minor>".
func BuildJSONSchemaID(schemaRoot, msgType string, major, minor int) string {
	return fmt.Sprintf("%s#/schemas/%s/%d.%d", schemaRoot, msgType, major, minor)
}

// BuildProtoSchemaID builds "<type>/<major>.<minor>".
func BuildProtoSchemaID(msgType string, major, minor int) string {
	return fmt.Sprintf("%s/%d.%d", msgType, major, minor)
}

// EncodeBinary base64-encodes payload for a text-only transport and reports
// the hedwig_encoding attribute value to attach (spec.md §4.1).
func EncodeBinary(payload []byte) (text string, encodingAttr string) {
	return base64.StdEncoding.EncodeToString(payload), EncodingBase64
}

// DecodeBinary reverses EncodeBinary.
func DecodeBinary(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// EncodeText UTF-8-encodes a string payload for a bytes-only transport and
// reports the hedwig_encoding attribute value to attach.
func EncodeText(s string) (data []byte, encodingAttr string) {
	return []byte(s), EncodingUTF8
}
