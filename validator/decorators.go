package validator

import "github.com/cloudhedwig/hedwig"

// Containerize returns a validator that always produces/accepts container
// form, ignoring whatever UseTransportMessageAttributes the application
// configured, for cross-compatibility dumps (spec.md §4.1 "Containerized").
// Unrecognized validator implementations are returned unchanged.
func Containerize(v hedwig.Validator) hedwig.Validator {
	switch t := v.(type) {
	case *JSONValidator:
		clone := *t
		clone.useAttributes = false
		clone.firehose = false
		return &clone
	case *ProtobufValidator:
		clone := *t
		clone.useAttributes = false
		clone.firehose = false
		return &clone
	default:
		return v
	}
}

// Firehose returns a validator for the archival firehose line: always
// container form, and tolerant of a minor version this binary doesn't know
// about (spec.md §4.1 "Firehose line"). For ProtobufValidator the wire form
// is the JSON variant of the envelope rather than the binary one.
// Unrecognized validator implementations are returned unchanged.
func Firehose(v hedwig.Validator) hedwig.Validator {
	switch t := v.(type) {
	case *JSONValidator:
		clone := *t
		clone.useAttributes = false
		clone.firehose = true
		return &clone
	case *ProtobufValidator:
		clone := *t
		clone.useAttributes = false
		clone.firehose = true
		return &clone
	default:
		return v
	}
}
