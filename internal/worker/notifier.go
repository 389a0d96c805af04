package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/amillerrr/hls-publisher/pkg/models"
)

// Notifier publishes job outcomes to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, event models.JobEvent) error
}

// SQSAPI defines the SQS operations used by SQSNotifier.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSNotifier sends one message per terminal job to an SQS queue.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

// NewSQSNotifier creates a new SQSNotifier.
func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
	}
}

// Notify sends event as a JSON message tagged with the job state.
func (n *SQSNotifier) Notify(ctx context.Context, event models.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"state": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.State)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send job event: %w", err)
	}
	return nil
}

// Ping verifies the queue is reachable.
func (n *SQSNotifier) Ping(ctx context.Context) error {
	_, err := n.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(n.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	return err
}
