package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mdao/lm-indexer/internal/domain/event"
)

type Config struct {
	Brokers   []string
	Topic     string
	Partition int
}

// Producer publishes event envelopes to the single partition the indexer
// reads, so offsets follow publish order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg Config) *Producer {
	partition := cfg.Partition
	w := &kafka.Writer{
		Addr:  kafka.TCP(cfg.Brokers...),
		Topic: cfg.Topic,
		Balancer: kafka.BalancerFunc(func(_ kafka.Message, partitions ...int) int {
			for _, p := range partitions {
				if p == partition {
					return p
				}
			}
			return partitions[0]
		}),
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

// Publish encodes one event and writes it synchronously.
func (p *Producer) Publish(ctx context.Context, name, txHash string, args map[string]any) error {
	value, err := event.Encode(name, txHash, args)
	if err != nil {
		return err
	}
	return p.SendMessage(ctx, []byte(txHash), value)
}

func (p *Producer) SendMessage(ctx context.Context, key, value []byte) error {
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   key,
			Value: value,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *Producer) GetTopic() string {
	return p.writer.Topic
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
