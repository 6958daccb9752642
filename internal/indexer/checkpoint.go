package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

// Checkpointer owns the cursor of one subscription. Positions handed to it
// only move forward; with every > 1 it persists every n-th processed event and
// keeps the rest pending until Flush.
type Checkpointer struct {
	store storage.CursorStore
	sub   cursor.Subscription
	every int

	mu        sync.Mutex
	saved     cursor.Position
	pending   cursor.Position
	pendingTx string
	dirty     int
}

func NewCheckpointer(store storage.CursorStore, sub cursor.Subscription, every int) *Checkpointer {
	if every < 1 {
		every = 1
	}
	return &Checkpointer{
		store:   store,
		sub:     sub,
		every:   every,
		saved:   cursor.Beginning,
		pending: cursor.Beginning,
	}
}

func (c *Checkpointer) Subscription() cursor.Subscription { return c.sub }

// Register creates the subscription row on first use. Calling it again is a
// no-op.
func (c *Checkpointer) Register(ctx context.Context) error {
	if err := c.sub.Validate(); err != nil {
		return err
	}
	if err := c.store.EnsureSubscription(ctx, c.sub); err != nil {
		return fmt.Errorf("ensure subscription %s: %w", c.sub.Key(), err)
	}
	return nil
}

// ResumePosition loads the last saved position, or cursor.Beginning for a
// subscription that never checkpointed.
func (c *Checkpointer) ResumePosition(ctx context.Context) (cursor.Position, error) {
	pos := cursor.Beginning
	cp, err := c.store.LoadCheckpoint(ctx, c.sub)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return cursor.Beginning, fmt.Errorf("load checkpoint %s: %w", c.sub.Key(), err)
	default:
		pos = cp.Position
	}

	c.mu.Lock()
	c.saved, c.pending, c.pendingTx, c.dirty = pos, pos, "", 0
	c.mu.Unlock()
	return pos, nil
}

// Save persists pos immediately. A position behind the saved one fails with
// ErrCursorRegressed; the saved position itself is a no-op.
func (c *Checkpointer) Save(ctx context.Context, pos cursor.Position, txHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, pos, txHash)
}

// Advance records that pos has been fully processed.
func (c *Checkpointer) Advance(ctx context.Context, pos cursor.Position, txHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case pos < c.pending:
		return fmt.Errorf("advance %s to %s from %s: %w", c.sub.Key(), pos, c.pending, ErrCursorRegressed)
	case pos == c.pending:
		return nil
	}
	c.pending, c.pendingTx = pos, txHash
	c.dirty++
	if c.dirty < c.every {
		return nil
	}
	return c.saveLocked(ctx, c.pending, c.pendingTx)
}

// Flush persists any pending position.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty == 0 {
		return nil
	}
	return c.saveLocked(ctx, c.pending, c.pendingTx)
}

// Position is the last processed position, saved or not.
func (c *Checkpointer) Position() cursor.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Saved is the last position known to be persisted.
func (c *Checkpointer) Saved() cursor.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

func (c *Checkpointer) saveLocked(ctx context.Context, pos cursor.Position, txHash string) error {
	switch {
	case pos < c.saved:
		return fmt.Errorf("save %s at %s behind %s: %w", c.sub.Key(), pos, c.saved, ErrCursorRegressed)
	case pos == c.saved:
		c.dirty = 0
		return nil
	}
	if err := c.store.SavePosition(ctx, c.sub, pos, txHash); err != nil {
		return fmt.Errorf("save position %s for %s: %w", pos, c.sub.Key(), err)
	}
	c.saved = pos
	if pos >= c.pending {
		c.pending, c.pendingTx = pos, txHash
		c.dirty = 0
	}
	return nil
}
