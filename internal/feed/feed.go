// Package feed defines the event source contract consumed by the indexer.
//
// A Source opens a named, versioned subscription and hands out a Stream: a
// lazy, ordered, possibly endless sequence of decoded events. Delivery is
// at-least-once relative to the last saved cursor; positions never go
// backwards within one stream.
package feed

import (
	"context"
	"errors"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/event"
)

var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("stream closed")
	// ErrOutOfOrder is returned when the remote feed yields a position that is
	// not strictly after the previous one.
	ErrOutOfOrder = errors.New("event delivered out of order")
)

type Source interface {
	// Subscribe resumes sub strictly after from. cursor.Beginning replays the
	// whole feed.
	Subscribe(ctx context.Context, sub cursor.Subscription, from cursor.Position) (Stream, error)
}

type Stream interface {
	// Next blocks until the next event is available or ctx ends.
	Next(ctx context.Context) (event.Decoded, error)
	Close() error
}

// OrderGuard tracks the last delivered position of a stream.
type OrderGuard struct {
	last cursor.Position
}

func NewOrderGuard(from cursor.Position) *OrderGuard {
	return &OrderGuard{last: from}
}

// Check accepts pos only when it moves the stream forward.
func (g *OrderGuard) Check(pos cursor.Position) error {
	if pos <= g.last {
		return ErrOutOfOrder
	}
	g.last = pos
	return nil
}
