package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SQSPublisher sends message events to an SQS queue.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSPublisher creates a publisher for the given queue.
func NewSQSPublisher(client *sqs.Client, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish enqueues one event. Send failures surface to the caller; webhook
// handlers treat them as retryable by returning a 5xx so the provider
// redelivers.
func (p *SQSPublisher) Publish(ctx context.Context, evt MessageEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish to sqs: %w", err)
	}
	return nil
}

// SQSConsumer long-polls the queue and feeds events to a handler. Messages
// are deleted only after the handler succeeds; a failed handler leaves the
// message for redelivery after its visibility timeout.
type SQSConsumer struct {
	client   *sqs.Client
	queueURL string
	done     chan struct{}
}

// NewSQSConsumer creates a consumer for the given queue.
func NewSQSConsumer(client *sqs.Client, queueURL string) *SQSConsumer {
	return &SQSConsumer{
		client:   client,
		queueURL: queueURL,
		done:     make(chan struct{}),
	}
}

// Start begins the poll loop in a background goroutine.
func (c *SQSConsumer) Start(ctx context.Context, h Handler) {
	logger.Info("event consumer started", "queue", c.queueURL)
	go c.poll(ctx, h)
}

// Stop signals the poll loop to exit after its current receive.
func (c *SQSConsumer) Stop() {
	close(c.done)
}

func (c *SQSConsumer) poll(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sqs receive failed", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt MessageEvent
			if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
				logger.Error("dropping malformed event", "error", err.Error())
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := h(ctx, evt); err != nil {
				logger.Error("event handler failed",
					"kind", string(evt.Kind),
					"message_id", evt.MessageID.String(),
					"error", err.Error())
				continue
			}

			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, handle *string) {
	c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
}
