package notify

import (
	"context"

	"github.com/ismaiel54/alert-trade-router/internal/msg"
)

// Producer is the subset of msg.Producer the Kafka sink needs.
type Producer interface {
	Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// KafkaSink writes replies to a topic. Attachments carry a filename
// header so the chat bridge can upload them as documents.
type KafkaSink struct {
	producer Producer
	topic    string
	key      string
}

// NewKafkaSink returns a sink keyed by key on topic.
func NewKafkaSink(p Producer, topic, key string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, key: key}
}

// SendMessage implements Sink.
func (k *KafkaSink) SendMessage(ctx context.Context, text string) error {
	return k.producer.Produce(ctx, k.topic, k.key, []byte(text), map[string]string{
		msg.HeaderContentType: "application/json",
	})
}

// SendFile implements Sink.
func (k *KafkaSink) SendFile(ctx context.Context, name string, data []byte) error {
	return k.producer.Produce(ctx, k.topic, k.key, data, map[string]string{
		msg.HeaderContentType: "application/json",
		msg.HeaderFilename:    name,
	})
}
