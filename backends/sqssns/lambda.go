package sqssns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudhedwig/hedwig"
)

// LambdaRecord is the shape of one element of an SNS-triggered Lambda
// event's Records list, trimmed to the fields Hedwig reads. Applications
// deployed behind API Gateway/Lambda decode the broker-delivered
// events.SNSEvent JSON into this shape instead of calling Pull.
type LambdaRecord struct {
	SNS struct {
		MessageID         string                   `json:"MessageId"`
		Message           string                   `json:"Message"`
		Timestamp         time.Time                `json:"Timestamp"`
		MessageAttributes map[string]LambdaMsgAttr `json:"MessageAttributes"`
	} `json:"Sns"`
}

// LambdaMsgAttr mirrors the MessageAttributes shape SNS embeds in a Lambda
// event record.
type LambdaMsgAttr struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// LambdaEvent is the top-level payload API Gateway/Lambda hands a Hedwig
// consumer running behind an SNS subscription confirmation, rather than a
// polling Start loop.
type LambdaEvent struct {
	Records []LambdaRecord `json:"Records"`
}

// LambdaBackend adapts a single already-decoded Lambda invocation payload
// into the []hedwig.Entry shape the rest of the consumer core expects, so
// the same Validator/CallbackRegistry/dispositions pipeline handles both a
// long-running Start loop and a broker-invoked function, grounded on the
// teacher's standalone main.go entrypoint style (single build, one pass,
// exit).
type LambdaBackend struct {
	*Backend
}

// EntriesFromEvent decodes a raw Lambda invocation body (JSON) into Entry
// values ready for the consumer's normal process-one-entry path. There is
// no Pull call: the broker already delivered the batch.
func EntriesFromEvent(raw []byte) ([]hedwig.Entry, error) {
	var event LambdaEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("sqssns: decode lambda event: %w", err)
	}

	entries := make([]hedwig.Entry, 0, len(event.Records))
	for _, rec := range event.Records {
		attrs := make(map[string]string, len(rec.SNS.MessageAttributes))
		for k, v := range rec.SNS.MessageAttributes {
			attrs[k] = v.Value
		}
		entries = append(entries, hedwig.Entry{
			Payload:    []byte(rec.SNS.Message),
			Attributes: attrs,
			Metadata: hedwig.SQSMetadata{
				SentTimestamp: rec.SNS.Timestamp,
			},
			Native: rec,
		})
	}
	return entries, nil
}

// Ack and Nack are no-ops for a Lambda-invoked backend: the function's
// return value (error or nil) is Hedwig's only signal back to the broker,
// which requeues the whole batch on a non-nil return.
func (b *LambdaBackend) Ack(ctx context.Context, e hedwig.Entry) error  { return nil }
func (b *LambdaBackend) Nack(ctx context.Context, e hedwig.Entry) error { return nil }
