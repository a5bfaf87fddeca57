package senders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/sirosfoundation/go-msh/internal/msh"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes envelopes to a Kafka topic, keyed by message id
type KafkaSender struct {
	topic  string
	writer messageWriter
}

// NewKafkaSender creates a KAFKA sender. Parameters: brokers (comma
// separated), topic.
func NewKafkaSender(params map[string]string) (Sender, error) {
	topic := params["topic"]
	if topic == "" {
		return nil, errors.New("KAFKA method requires a topic parameter")
	}
	var brokers []string
	for _, b := range strings.Split(params["brokers"], ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("KAFKA method requires a brokers parameter")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSender{topic: topic, writer: w}, nil
}

// Send implements Sender. Broker failures are retryable.
func (s *KafkaSender) Send(ctx context.Context, env *msh.Envelope) Result {
	msg := kafka.Message{
		Key:   []byte(env.MessageID),
		Value: env.Body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(env.ContentType)},
			{Key: "msh-record", Value: []byte(fmt.Sprintf("%s/%d", env.Table, env.EntityID))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return Retryable(fmt.Errorf("publishing to %s: %w", s.topic, err))
	}
	return Succeeded()
}

// Close flushes and closes the writer
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
