package hedwig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("bad json")
	err := NewValidationError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bad json")
}

func TestIgnoreError_NilCause(t *testing.T) {
	err := &IgnoreError{}
	assert.Equal(t, "hedwig: ignored", err.Error())
}

func TestIgnoreError_WithCause(t *testing.T) {
	err := &IgnoreError{Cause: errors.New("duplicate")}
	assert.Contains(t, err.Error(), "duplicate")
}

func TestPartialFailureError_Error(t *testing.T) {
	err := &PartialFailureError{
		Successful: []string{"1", "2"},
		Failed:     []string{"3"},
		Raw:        errors.New("batch failure"),
	}
	msg := err.Error()
	assert.Contains(t, msg, "2 succeeded")
	assert.Contains(t, msg, "1 failed")
	assert.ErrorIs(t, err, err.Raw)
}

func TestSchemaError_Unwrap(t *testing.T) {
	cause := errors.New("missing schema")
	err := &SchemaError{Cause: cause}
	assert.ErrorIs(t, err, cause)
}
