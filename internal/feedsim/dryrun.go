package feedsim

import (
	"context"
	"fmt"
	"io"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/indexer"
	"github.com/mdao/lm-indexer/internal/indexer/projection"
	"github.com/mdao/lm-indexer/internal/infrastructure/memory"
	"github.com/mdao/lm-indexer/internal/storage"
)

// FeedPublisher appends to an in-process feed.
type FeedPublisher struct {
	Feed *memory.Feed
}

func (p FeedPublisher) Publish(ctx context.Context, name, txHash string, args map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Feed.Append(name, txHash, args)
	return nil
}

// DryRun indexes the events of r into an in-memory store and reports the
// resulting row counts. It stops at the first fatal pipeline error.
func DryRun(ctx context.Context, r io.Reader, opts Options) (storage.Stats, error) {
	f := memory.NewFeed()
	n, err := Replay(ctx, r, FeedPublisher{Feed: f}, Options{Logger: opts.Logger})
	if err != nil {
		return storage.Stats{}, err
	}

	store := memory.NewStore()
	router := indexer.NewRouter()
	for name, h := range projection.All(projection.Deps{
		Tx:              store,
		LaborMarkets:    store,
		ServiceRequests: store,
		Submissions:     store,
	}) {
		if err := router.Register(name, h); err != nil {
			return storage.Stats{}, err
		}
	}

	sub := cursor.Subscription{Name: "feedsim", Namespace: "dry-run", Version: "0"}
	p := &indexer.Pipeline{
		Source:      f,
		Router:      router,
		Checkpoints: indexer.NewCheckpointer(store, sub, 1),
		Logger:      opts.Logger,
		MaxEvents:   n,
	}
	if n > 0 {
		if err := p.Run(ctx); err != nil {
			return storage.Stats{}, fmt.Errorf("dry run: %w", err)
		}
	}
	return store.Stats(ctx)
}
