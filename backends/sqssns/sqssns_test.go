package sqssns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudhedwig/hedwig"
)

type mockSQSClient struct {
	mock.Mock
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *mockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *mockSQSClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageBatchOutput), args.Error(1)
}

func (m *mockSQSClient) SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageBatchOutput), args.Error(1)
}

func (m *mockSQSClient) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ChangeMessageVisibilityOutput), args.Error(1)
}

func (m *mockSQSClient) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueUrlOutput), args.Error(1)
}

type mockSNSClient struct {
	mock.Mock
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestQueueAndTopicNaming(t *testing.T) {
	assert.Equal(t, "HEDWIG-dev-myapp", QueueName("dev-myapp"))
	assert.Equal(t, "HEDWIG-dev-myapp-DLQ", DLQName("dev-myapp"))
	assert.Equal(t, "hedwig-dev-myapp", TopicName("dev-myapp"))
}

func TestBackend_Publish(t *testing.T) {
	sqsClient := &mockSQSClient{}
	snsClient := &mockSNSClient{}
	b := &Backend{SQS: sqsClient, SNS: snsClient, TopicARNs: map[string]string{"dev-myapp": "arn:aws:sns:us-east-1:123:hedwig-dev-myapp"}}

	snsClient.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.TopicArn) == "arn:aws:sns:us-east-1:123:hedwig-dev-myapp"
	})).Return(&sns.PublishOutput{MessageId: aws.String("msg-1")}, nil).Once()

	id, err := b.Publish(context.Background(), hedwig.Topic("dev-myapp"), []byte(`{}`), map[string]string{"hedwig_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	snsClient.AssertExpectations(t)
}

func TestBackend_Publish_UnknownTopic(t *testing.T) {
	b := &Backend{SQS: &mockSQSClient{}, SNS: &mockSNSClient{}, TopicARNs: map[string]string{}}
	_, err := b.Publish(context.Background(), hedwig.Topic("nope"), []byte(`{}`), nil)
	assert.ErrorIs(t, err, hedwig.ErrBackendNotConfigured)
}

func TestBackend_PullAndAck(t *testing.T) {
	sqsClient := &mockSQSClient{}
	b := &Backend{SQS: sqsClient, QueueURL: "https://sqs/HEDWIG-dev-myapp"}

	sqsClient.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{
				Body:          aws.String(`{"hello":"world"}`),
				ReceiptHandle: aws.String("rh-1"),
				MessageAttributes: map[string]sqstypes.MessageAttributeValue{
					"hedwig_id": {StringValue: aws.String("abc")},
				},
				Attributes: map[string]string{
					string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount): "3",
				},
			},
		},
	}, nil).Once()

	entries, err := b.Pull(context.Background(), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte(`{"hello":"world"}`), entries[0].Payload)
	assert.Equal(t, "abc", entries[0].Attributes["hedwig_id"])

	meta, ok := entries[0].Metadata.(hedwig.SQSMetadata)
	require.True(t, ok)
	assert.Equal(t, "rh-1", meta.ReceiptHandle)
	assert.Equal(t, 3, meta.ApproximateReceiveCount)

	sqsClient.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "rh-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil).Once()
	require.NoError(t, b.Ack(context.Background(), entries[0]))

	sqsClient.AssertExpectations(t)
}

func TestBackend_Nack_IsNoop(t *testing.T) {
	b := &Backend{SQS: &mockSQSClient{}}
	assert.NoError(t, b.Nack(context.Background(), hedwig.Entry{}))
}

func TestBackend_ExtendVisibilityTimeout(t *testing.T) {
	sqsClient := &mockSQSClient{}
	b := &Backend{SQS: sqsClient, QueueURL: "https://sqs/HEDWIG-dev-myapp"}

	sqsClient.On("ChangeMessageVisibility", mock.Anything, mock.MatchedBy(func(in *sqs.ChangeMessageVisibilityInput) bool {
		return in.VisibilityTimeout == 60
	})).Return(&sqs.ChangeMessageVisibilityOutput{}, nil).Once()

	err := b.ExtendVisibilityTimeout(context.Background(), 60, hedwig.SQSMetadata{ReceiptHandle: "rh-1"})
	require.NoError(t, err)
	sqsClient.AssertExpectations(t)
}

func TestBackend_ExtendVisibilityTimeout_RejectsOutOfRange(t *testing.T) {
	b := &Backend{SQS: &mockSQSClient{}}
	err := b.ExtendVisibilityTimeout(context.Background(), 99999, hedwig.SQSMetadata{ReceiptHandle: "rh-1"})
	assert.ErrorIs(t, err, hedwig.ErrInvalidVisibilityTimeout)
}

func TestBackend_RequeueDeadLetter(t *testing.T) {
	sqsClient := &mockSQSClient{}
	b := &Backend{SQS: sqsClient, QueueURL: "https://sqs/HEDWIG-dev-myapp", DLQURL: "https://sqs/HEDWIG-dev-myapp-DLQ"}

	sqsClient.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "https://sqs/HEDWIG-dev-myapp-DLQ"
	})).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{Body: aws.String("m1"), ReceiptHandle: aws.String("rh-1")},
		},
	}, nil).Once()
	sqsClient.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "https://sqs/HEDWIG-dev-myapp-DLQ"
	})).Return(&sqs.ReceiveMessageOutput{Messages: nil}, nil).Once()

	sqsClient.On("SendMessageBatch", mock.Anything, mock.Anything).Return(&sqs.SendMessageBatchOutput{
		Successful: []sqstypes.SendMessageBatchResultEntry{{Id: aws.String("0")}},
	}, nil).Once()
	sqsClient.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(&sqs.DeleteMessageBatchOutput{
		Successful: []sqstypes.DeleteMessageBatchResultEntry{{Id: aws.String("0")}},
	}, nil).Once()

	report, err := b.RequeueDeadLetter(context.Background(), 10, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, 0, report.Failed)
	sqsClient.AssertExpectations(t)
}

func TestBackend_RequeueDeadLetter_PartialFailureAborts(t *testing.T) {
	sqsClient := &mockSQSClient{}
	b := &Backend{SQS: sqsClient, QueueURL: "https://sqs/HEDWIG-dev-myapp", DLQURL: "https://sqs/HEDWIG-dev-myapp-DLQ"}

	sqsClient.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{Body: aws.String("m1"), ReceiptHandle: aws.String("rh-1")},
			{Body: aws.String("m2"), ReceiptHandle: aws.String("rh-2")},
		},
	}, nil).Once()

	sqsClient.On("SendMessageBatch", mock.Anything, mock.Anything).Return(&sqs.SendMessageBatchOutput{
		Successful: []sqstypes.SendMessageBatchResultEntry{{Id: aws.String("0")}},
		Failed:     []sqstypes.BatchResultErrorEntry{{Id: aws.String("1")}},
	}, nil).Once()

	_, err := b.RequeueDeadLetter(context.Background(), 10, 30*time.Second)
	var partial *hedwig.PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"1"}, partial.Failed)
	sqsClient.AssertExpectations(t)
}
