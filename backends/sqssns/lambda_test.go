package sqssns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntriesFromEvent(t *testing.T) {
	raw := []byte(`{
		"Records": [
			{
				"Sns": {
					"MessageId": "m-1",
					"Message": "{\"hello\":\"world\"}",
					"Timestamp": "2024-01-01T00:00:00Z",
					"MessageAttributes": {
						"hedwig_id": {"Type": "String", "Value": "abc"}
					}
				}
			}
		]
	}`)

	entries, err := EntriesFromEvent(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte(`{"hello":"world"}`), entries[0].Payload)
	assert.Equal(t, "abc", entries[0].Attributes["hedwig_id"])
}

func TestEntriesFromEvent_InvalidJSON(t *testing.T) {
	_, err := EntriesFromEvent([]byte(`not json`))
	assert.Error(t, err)
}
