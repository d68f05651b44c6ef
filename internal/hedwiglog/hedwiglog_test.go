package hedwiglog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := L()
	SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { SetDefault(original) })
	return &buf
}

func TestError_LogsKindAndErr(t *testing.T) {
	buf := withCapturedLogger(t)

	Error(context.Background(), "ack failed", "ack_failure", errors.New("boom"), nil)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ack failed", record["msg"])
	assert.Equal(t, "ack_failure", record["kind"])
	assert.Equal(t, "boom", record["error"])
}

func TestInfo_LogsExtras(t *testing.T) {
	buf := withCapturedLogger(t)

	Info(context.Background(), "retrying", "retry", map[string]any{"attempt": 1})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "retrying", record["msg"])
	extra, ok := record["extra"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, extra["attempt"])
}

func TestExtra_EmptyMapYieldsZeroAttr(t *testing.T) {
	assert.Equal(t, slog.Attr{}, Extra(nil))
	assert.Equal(t, slog.Attr{}, Extra(map[string]any{}))
}
