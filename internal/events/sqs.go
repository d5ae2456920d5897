package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/medspa-booking/internal/clock"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends envelopes to an SQS queue. It serves both as an outbox transport and
// as a direct channel when the database itself is the thing that failed.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	clock    clock.Clock
}

func NewSQSPublisher(client *sqs.Client, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSPublisher(client, queueURL)
}

func newSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL, clock: clock.System()}
}

// Handle implements DeliveryHandler.
func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	return p.send(ctx, entry.ID.String(), entry.Type, string(entry.Payload))
}

// Publish wraps evt in an envelope and sends it immediately.
func (p *SQSPublisher) Publish(ctx context.Context, aggregate string, evt CanonicalEvent) (Envelope, error) {
	env, err := Seal(aggregate, evt, p.clock.Now())
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.send(ctx, env.EventID.String(), env.EventType, string(body)); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (p *SQSPublisher) send(ctx context.Context, eventID, eventType, body string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(eventID)},
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

var _ DeliveryHandler = (*SQSPublisher)(nil)
