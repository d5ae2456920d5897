package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherHandle(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &recordingWriter{}
	pub := newKafkaPublisherWithWriter(w, "medspa.")
	entry := OutboxEntry{ID: uuid.New(), Aggregate: "appointment:9", Type: "appointments.booked.v1", Payload: json.RawMessage(`{}`)}
	require.NoError(t, pub.Handle(ctx, entry))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "medspa.appointments.booked.v1", msg.Topic)
	assert.Equal(t, "appointment:9", string(msg.Key))
	carrier := &kafkaHeaderCarrier{headers: msg.Headers}
	assert.Equal(t, entry.ID.String(), carrier.Get("event_id"))
	assert.Contains(t, carrier.Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), msg))
	assert.Equal(t, traceID, extracted.TraceID())
}

type stubSQS struct {
	inputs []*sqs.SendMessageInput
}

func (s *stubSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.inputs = append(s.inputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSPublisherPublish(t *testing.T) {
	client := &stubSQS{}
	pub := newSQSPublisher(client, "https://sqs.local/reconcile")

	env, err := pub.Publish(context.Background(), "payment:square:p1", PaidBookingFailedV1{
		Provider:    "square",
		ProviderRef: "p1",
		AmountCents: 2500,
		Reason:      "ledger unavailable",
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "https://sqs.local/reconcile", aws.ToString(in.QueueUrl))
	assert.Equal(t, "appointments.paid_booking_failed.v1", aws.ToString(in.MessageAttributes["event_type"].StringValue))

	var sent Envelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &sent))
	assert.Equal(t, env.EventID, sent.EventID)
	assert.Equal(t, "payment:square:p1", sent.Aggregate)
}

func TestSQSPublisherHandle(t *testing.T) {
	client := &stubSQS{}
	pub := newSQSPublisher(client, "https://sqs.local/events")
	entry := OutboxEntry{ID: uuid.New(), Type: "appointments.updated.v1", Payload: json.RawMessage(`{"a":1}`)}
	require.NoError(t, pub.Handle(context.Background(), entry))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, `{"a":1}`, aws.ToString(client.inputs[0].MessageBody))
}
