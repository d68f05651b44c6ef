// Package sqssns implements hedwig.Transport (publish via SNS) and
// hedwig.Backend (consume via SQS), grounded on the teacher's
// consumer/consumer.go SQSClient narrow-interface pattern, generalized from
// its hardcoded maxMessages/waitTimeSeconds constants to Settings-driven
// parameters and extended with SNS publish, visibility-timeout extension,
// and dead-letter requeue.
package sqssns

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cloudhedwig/hedwig"
)

// QueueName returns the SQS queue name Hedwig provisions for a logical
// queue, per spec.md §4.4.1.
func QueueName(queue string) string { return "HEDWIG-" + queue }

// DLQName returns the dead-letter queue name for a logical queue. SQS keeps
// its own native "-DLQ" suffix convention (Open Question (a) in spec.md §9;
// decision recorded in DESIGN.md).
func DLQName(queue string) string { return "HEDWIG-" + queue + "-DLQ" }

// TopicName returns the SNS topic name Hedwig provisions for a logical
// topic, per spec.md §4.4.1.
func TopicName(topic string) string { return "hedwig-" + topic }

// SQSClient is the narrow subset of *sqs.Client the consumer side needs,
// mirroring the teacher's consumer.SQSClient interface so tests can mock it.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SNSClient is the narrow subset of *sns.Client the publish side needs.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Backend implements hedwig.Backend over a single SQS queue, and
// hedwig.Transport over SNS topics addressed by hedwig.TopicDescriptor.
type Backend struct {
	SQS         SQSClient
	SNS         SNSClient
	QueueURL    string
	DLQURL      string
	TopicARNs   map[string]string // topic name -> ARN, resolved by the caller at construction
}

var _ hedwig.Backend = (*Backend)(nil)
var _ hedwig.Transport = (*Backend)(nil)

// Publish implements hedwig.Transport by publishing payload+attributes to
// the SNS topic named by dest.
func (b *Backend) Publish(ctx context.Context, dest hedwig.TopicDescriptor, payload []byte, attributes map[string]string) (string, error) {
	arn, ok := b.TopicARNs[dest.Name]
	if !ok {
		return "", fmt.Errorf("%w: no SNS topic ARN configured for %q", hedwig.ErrBackendNotConfigured, dest.Name)
	}

	attrs := make(map[string]snstypes.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		attrs[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	out, err := b.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(arn),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Pull implements hedwig.Backend with a single long-poll ReceiveMessage
// call, grounded on the teacher's Consumer.Start loop.
func (b *Backend) Pull(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) ([]hedwig.Entry, error) {
	out, err := b.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(b.QueueURL),
		MaxNumberOfMessages:   numMessages,
		WaitTimeSeconds:       20,
		VisibilityTimeout:     int32(visibilityTimeout.Seconds()),
		AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	entries := make([]hedwig.Entry, 0, len(out.Messages))
	for _, m := range out.Messages {
		entries = append(entries, entryFromMessage(m))
	}
	return entries, nil
}

func entryFromMessage(m sqstypes.Message) hedwig.Entry {
	attrs := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		attrs[k] = aws.ToString(v.StringValue)
	}

	meta := hedwig.SQSMetadata{ReceiptHandle: aws.ToString(m.ReceiptHandle)}
	if sentRaw, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		meta.SentTimestamp = parseEpochMillis(sentRaw)
	}
	if firstRaw, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateFirstReceiveTimestamp)]; ok {
		meta.ApproximateFirstReceiveTimestamp = parseEpochMillis(firstRaw)
	}
	if countRaw, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		meta.ApproximateReceiveCount = parseInt(countRaw)
	}

	return hedwig.Entry{
		Payload:    []byte(aws.ToString(m.Body)),
		Attributes: attrs,
		Metadata:   meta,
		Native:     m,
	}
}

// Ack implements hedwig.Backend by deleting the message from the queue.
func (b *Backend) Ack(ctx context.Context, e hedwig.Entry) error {
	meta, ok := e.Metadata.(hedwig.SQSMetadata)
	if !ok {
		return fmt.Errorf("sqs ack: entry has no SQSMetadata")
	}
	_, err := b.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.QueueURL),
		ReceiptHandle: aws.String(meta.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Nack is a no-op: SQS redelivers automatically once the visibility
// timeout elapses.
func (b *Backend) Nack(ctx context.Context, e hedwig.Entry) error { return nil }

// ExtendVisibilityTimeout implements hedwig.Backend via
// ChangeMessageVisibility.
func (b *Backend) ExtendVisibilityTimeout(ctx context.Context, seconds int32, meta hedwig.ProviderMetadata) error {
	sqsMeta, ok := meta.(hedwig.SQSMetadata)
	if !ok {
		return fmt.Errorf("sqs extend visibility: metadata is not SQSMetadata")
	}
	if seconds < 0 || seconds > 43200 {
		return fmt.Errorf("%w: %d seconds", hedwig.ErrInvalidVisibilityTimeout, seconds)
	}
	_, err := b.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(b.QueueURL),
		ReceiptHandle:     aws.String(sqsMeta.ReceiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

// RequeueDeadLetter drains the configured DLQ back onto the main queue in
// batches of up to 10 (the SendMessageBatch/DeleteMessageBatch limit). A
// partial batch failure aborts the whole requeue and is reported via
// hedwig.PartialFailureError, per spec.md Testable Property 10.
func (b *Backend) RequeueDeadLetter(ctx context.Context, numMessages int32, visibilityTimeout time.Duration) (*hedwig.RequeueReport, error) {
	if b.DLQURL == "" {
		return nil, fmt.Errorf("%w: no DLQ configured", hedwig.ErrBackendNotConfigured)
	}

	report := &hedwig.RequeueReport{}
	remaining := numMessages

	for remaining > 0 {
		batchSize := remaining
		if batchSize > 10 {
			batchSize = 10
		}

		out, err := b.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(b.DLQURL),
			MaxNumberOfMessages: batchSize,
			VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
			WaitTimeSeconds:     1,
		})
		if err != nil {
			return report, fmt.Errorf("sqs receive from DLQ: %w", err)
		}
		if len(out.Messages) == 0 {
			break
		}

		sendEntries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(out.Messages))
		for i, m := range out.Messages {
			attrs := make(map[string]sqstypes.MessageAttributeValue, len(m.MessageAttributes))
			for k, v := range m.MessageAttributes {
				attrs[k] = v
			}
			sendEntries = append(sendEntries, sqstypes.SendMessageBatchRequestEntry{
				Id:                fmt.Sprintf("%d", i),
				MessageBody:       m.Body,
				MessageAttributes: attrs,
			})
		}

		sendOut, err := b.SQS.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(b.QueueURL),
			Entries:  sendEntries,
		})
		if err != nil {
			return report, fmt.Errorf("sqs send batch: %w", err)
		}
		if len(sendOut.Failed) > 0 {
			failed := make([]string, 0, len(sendOut.Failed))
			for _, f := range sendOut.Failed {
				failed = append(failed, aws.ToString(f.Id))
			}
			successful := make([]string, 0, len(sendOut.Successful))
			for _, s := range sendOut.Successful {
				successful = append(successful, aws.ToString(s.Id))
			}
			report.Failed += len(failed)
			return report, &hedwig.PartialFailureError{Successful: successful, Failed: failed, Raw: fmt.Errorf("send batch had failures")}
		}

		deleteEntries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(out.Messages))
		for i, m := range out.Messages {
			deleteEntries = append(deleteEntries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            fmt.Sprintf("%d", i),
				ReceiptHandle: m.ReceiptHandle,
			})
		}
		delOut, err := b.SQS.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(b.DLQURL),
			Entries:  deleteEntries,
		})
		if err != nil {
			return report, fmt.Errorf("sqs delete batch: %w", err)
		}
		if len(delOut.Failed) > 0 {
			failed := make([]string, 0, len(delOut.Failed))
			for _, f := range delOut.Failed {
				failed = append(failed, aws.ToString(f.Id))
			}
			report.Failed += len(failed)
			return report, &hedwig.PartialFailureError{Failed: failed, Raw: fmt.Errorf("delete batch had failures")}
		}

		report.Moved += len(out.Messages)
		remaining -= int32(len(out.Messages))
	}

	return report, nil
}

func parseEpochMillis(s string) time.Time {
	var millis int64
	if _, err := fmt.Sscanf(s, "%d", &millis); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

func parseInt(s string) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}
