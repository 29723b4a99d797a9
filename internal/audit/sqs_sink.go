package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink forwards events to an SQS queue for downstream anomaly detection.
type SQSSink struct {
	client   sqsSender
	queueURL string
}

// NewSQSSink creates a sink around the provided SQS client.
func NewSQSSink(client *sqs.Client, queueURL string) *SQSSink {
	if client == nil {
		panic("audit: SQS client cannot be nil")
	}
	return newSQSSink(client, queueURL)
}

func newSQSSink(client sqsSender, queueURL string) *SQSSink {
	if queueURL == "" {
		panic("audit: SQS queueURL cannot be empty")
	}
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) Record(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"action": {DataType: aws.String("String"), StringValue: aws.String(string(e.Action))},
			"tenant": {DataType: aws.String("String"), StringValue: aws.String(e.Tenant)},
		},
	})
	if err != nil {
		return fmt.Errorf("audit: send SQS message: %w", err)
	}
	return nil
}
