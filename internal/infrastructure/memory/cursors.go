package memory

import (
	"context"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

func (s *Store) EnsureSubscription(ctx context.Context, sub cursor.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.cursors[sub.Key()]; !ok {
		s.data.cursors[sub.Key()] = &cursor.Checkpoint{
			Subscription: sub,
			Position:     cursor.Beginning,
			UpdatedAt:    s.now(),
		}
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.data.cursors[sub.Key()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *cp
	return &out, nil
}

func (s *Store) SavePosition(ctx context.Context, sub cursor.Subscription, pos cursor.Position, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "save_position"); err != nil {
		return err
	}

	cp, ok := s.data.cursors[sub.Key()]
	if !ok {
		cp = &cursor.Checkpoint{Subscription: sub, Position: cursor.Beginning}
		s.data.cursors[sub.Key()] = cp
	}
	if pos > cp.Position {
		cp.Position = pos
		cp.TxHash = txHash
		cp.UpdatedAt = s.now()
	}
	return nil
}
