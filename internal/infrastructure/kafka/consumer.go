package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/feed"
)

// SourceConfig points the source at one topic partition. Limit bounds the
// number of messages buffered ahead of the indexer.
type SourceConfig struct {
	Brokers   []string
	Topic     string
	Partition int
	Limit     int
}

type messageReader interface {
	SetOffset(offset int64) error
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Source reads the event feed from a Kafka partition. Positions are
// partition offsets. It never commits offsets to a consumer group: the
// indexer's cursor store is the only record of progress.
type Source struct {
	cfg    SourceConfig
	logger *slog.Logger

	newReader func(kafka.ReaderConfig) messageReader
}

var _ feed.Source = (*Source)(nil)

func NewSource(cfg SourceConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		logger: logger,
		newReader: func(rc kafka.ReaderConfig) messageReader {
			return kafka.NewReader(rc)
		},
	}
}

func (s *Source) Subscribe(ctx context.Context, sub cursor.Subscription, from cursor.Position) (feed.Stream, error) {
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queue := s.cfg.Limit
	if queue <= 0 {
		queue = 100
	}
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false,
	}
	r := s.newReader(kafka.ReaderConfig{
		Brokers:       s.cfg.Brokers,
		Topic:         s.cfg.Topic,
		Partition:     s.cfg.Partition,
		MinBytes:      1,
		MaxBytes:      10e6,
		MaxWait:       1 * time.Second,
		QueueCapacity: queue,
		Dialer:        dialer,
	})

	offset := kafka.FirstOffset
	if !from.IsBeginning() {
		offset = int64(from) + 1
	}
	if err := r.SetOffset(offset); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("set offset %d on %s/%d: %w", offset, s.cfg.Topic, s.cfg.Partition, err)
	}

	s.logger.Info("kafka source subscribed",
		"subscription", sub.Key(), "topic", s.cfg.Topic, "partition", s.cfg.Partition, "offset", offset)
	return &stream{
		reader: r,
		guard:  feed.NewOrderGuard(from),
		logger: s.logger.With("subscription", sub.Key()),
	}, nil
}

type stream struct {
	reader messageReader
	guard  *feed.OrderGuard
	logger *slog.Logger
	closed bool
}

// Next returns the next event. A message whose envelope cannot be parsed at
// all is returned with an empty Name so the indexer skips it. A named event
// with malformed args keeps its Name and carries ArgsErr.
func (s *stream) Next(ctx context.Context) (event.Decoded, error) {
	if s.closed {
		return event.Decoded{}, feed.ErrClosed
	}
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return event.Decoded{}, err
		}
		return event.Decoded{}, fmt.Errorf("fetch message: %w", err)
	}

	pos := cursor.Position(msg.Offset)
	if err := s.guard.Check(pos); err != nil {
		return event.Decoded{}, fmt.Errorf("offset %d: %w", msg.Offset, err)
	}

	evt, err := event.Decode(msg.Value, pos)
	if err != nil {
		s.logger.Error("failed to unmarshal event envelope", "error", err, "position", pos.String())
		return event.Decoded{Position: pos, Args: map[string]any{}}, nil
	}
	if evt.ArgsErr != nil {
		s.logger.Error("failed to decode event args", "error", evt.ArgsErr, "event", evt.Name, "position", pos.String())
	}
	return evt, nil
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.reader.Close()
}
