// Command hedwigctl is the CLI shell around Hedwig's operational commands,
// grounded on the teacher's example/basic/main.go flag-parsing +
// signal-handling shape (context cancellation on SIGINT/SIGTERM, config
// loaded once up front, fatal errors logged and exited). This is the only
// place in the module that reads os.Getenv; everything else takes
// explicit Go values, per spec.md §1's "configuration plumbing is out of
// scope" stance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/cloudhedwig/hedwig"
	pubsubbackend "github.com/cloudhedwig/hedwig/backends/pubsub"
	"github.com/cloudhedwig/hedwig/backends/redisstream"
	"github.com/cloudhedwig/hedwig/backends/sqssns"
	"github.com/cloudhedwig/hedwig/internal/lazyclient"
)

func main() {
	flag.Parse()
	switch flag.Arg(0) {
	case "requeue-dead-letter":
		runRequeueDeadLetter()
	default:
		fmt.Fprintln(os.Stderr, "usage: hedwigctl requeue-dead-letter")
		os.Exit(2)
	}
}

func runRequeueDeadLetter() {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		slog.Warn("received shutdown signal, cancelling requeue", "signal", s.String())
		cancel()
	}()

	numMessages := envInt("HEDWIG_REQUEUE_NUM_MESSAGES", 10)

	backend, visibilityTimeout, err := buildBackend(ctx)
	if err != nil {
		slog.Error("failed to build backend", "error", err)
		os.Exit(1)
	}

	report, err := backend.RequeueDeadLetter(ctx, int32(numMessages), visibilityTimeout)
	if report != nil {
		slog.Info("requeue-dead-letter complete", "moved", report.Moved, "failed", report.Failed)
	}
	if err != nil {
		slog.Error("requeue-dead-letter failed", "error", err)
		os.Exit(1)
	}
}

// buildBackend reads HEDWIG_TRANSPORT (one of "sqs", "pubsub", "redis") and
// the corresponding env vars to construct the matching hedwig.Backend,
// following the teacher's single build-once-at-startup client pattern via
// internal/lazyclient.
func buildBackend(ctx context.Context) (hedwig.Backend, time.Duration, error) {
	visibilityTimeout := time.Duration(envInt("HEDWIG_VISIBILITY_TIMEOUT_SECONDS", 30)) * time.Second

	switch os.Getenv("HEDWIG_TRANSPORT") {
	case "sqs":
		return buildSQSBackend(ctx, visibilityTimeout)
	case "pubsub":
		return buildPubSubBackend(ctx, visibilityTimeout)
	case "redis":
		return buildRedisBackend(visibilityTimeout)
	default:
		return nil, 0, fmt.Errorf("HEDWIG_TRANSPORT must be one of sqs, pubsub, redis")
	}
}

func buildSQSBackend(ctx context.Context, visibilityTimeout time.Duration) (hedwig.Backend, time.Duration, error) {
	queue := requireEnv("HEDWIG_QUEUE")

	sqsClient, err := lazyclient.New(func() (*sqs.Client, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return sqs.NewFromConfig(cfg), nil
	}).Get()
	if err != nil {
		return nil, 0, err
	}
	snsClient, err := lazyclient.New(func() (*sns.Client, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return sns.NewFromConfig(cfg), nil
	}).Get()
	if err != nil {
		return nil, 0, err
	}

	queueURL, err := sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(sqssns.QueueName(queue))})
	if err != nil {
		return nil, 0, fmt.Errorf("resolve queue url: %w", err)
	}
	dlqURL, err := sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(sqssns.DLQName(queue))})
	if err != nil {
		return nil, 0, fmt.Errorf("resolve dlq url: %w", err)
	}

	return &sqssns.Backend{
		SQS:      sqsClient,
		SNS:      snsClient,
		QueueURL: aws.ToString(queueURL.QueueUrl),
		DLQURL:   aws.ToString(dlqURL.QueueUrl),
	}, visibilityTimeout, nil
}

func buildPubSubBackend(ctx context.Context, visibilityTimeout time.Duration) (hedwig.Backend, time.Duration, error) {
	project := requireEnv("HEDWIG_GCP_PROJECT")
	queue := requireEnv("HEDWIG_QUEUE")

	client, err := lazyclient.New(func() (*gcppubsub.Client, error) {
		return gcppubsub.NewClient(ctx, project)
	}).Get()
	if err != nil {
		return nil, 0, err
	}

	dlqSubName := pubsubbackend.SubscriptionName(queue) + "-dlq"
	return &pubsubbackend.Backend{
		Topic:        client.Topic(pubsubbackend.TopicName(queue)),
		DLQSub:       client.Subscription(dlqSubName),
		RequeueTopic: client.Topic(pubsubbackend.TopicName(queue)),
	}, visibilityTimeout, nil
}

func buildRedisBackend(visibilityTimeout time.Duration) (hedwig.Backend, time.Duration, error) {
	queue := requireEnv("HEDWIG_QUEUE")
	addr := requireEnv("HEDWIG_REDIS_ADDR")
	maxAttempts := envInt("HEDWIG_MAX_DELIVERY_ATTEMPTS", 0)

	client := redis.NewClient(&redis.Options{Addr: addr})
	return redisstream.NewBackend(client, queue, maxAttempts, visibilityTimeout), visibilityTimeout, nil
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("missing required environment variable", "key", key)
		os.Exit(1)
	}
	return v
}
