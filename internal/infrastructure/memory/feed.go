package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/feed"
)

// Feed is an append-only event log. Positions are the zero-based index of the
// event in the log.
type Feed struct {
	mu      sync.Mutex
	events  []event.Decoded
	changed chan struct{}

	// Subscriptions records the resume position of every Subscribe call.
	Subscriptions []cursor.Position
}

var _ feed.Source = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{changed: make(chan struct{})}
}

// Append adds an event and wakes blocked streams. It returns the event's
// position.
func (f *Feed) Append(name, txHash string, args map[string]any) cursor.Position {
	f.mu.Lock()
	defer f.mu.Unlock()

	pos := cursor.Position(len(f.events))
	f.events = append(f.events, event.Decoded{
		Name:     name,
		Args:     args,
		TxHash:   txHash,
		Position: pos,
	})
	close(f.changed)
	f.changed = make(chan struct{})
	return pos
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *Feed) Subscribe(ctx context.Context, sub cursor.Subscription, from cursor.Position) (feed.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	f.mu.Lock()
	f.Subscriptions = append(f.Subscriptions, from)
	f.mu.Unlock()

	return &feedStream{feed: f, next: int(from) + 1}, nil
}

type feedStream struct {
	feed   *Feed
	next   int
	closed bool
}

func (s *feedStream) Next(ctx context.Context) (event.Decoded, error) {
	for {
		if s.closed {
			return event.Decoded{}, feed.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return event.Decoded{}, err
		}

		s.feed.mu.Lock()
		if s.next < len(s.feed.events) {
			evt := s.feed.events[s.next]
			s.next++
			s.feed.mu.Unlock()
			return evt, nil
		}
		changed := s.feed.changed
		s.feed.mu.Unlock()

		select {
		case <-ctx.Done():
			return event.Decoded{}, ctx.Err()
		case <-changed:
		}
	}
}

func (s *feedStream) Close() error {
	s.closed = true
	return nil
}
