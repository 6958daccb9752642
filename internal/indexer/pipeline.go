// Package indexer drives the event pipeline: it resumes a subscription from
// its checkpoint, routes each event to its projection handler and advances the
// cursor only after the handler's writes are durable.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/feed"
	"github.com/mdao/lm-indexer/internal/storage"
)

// ErrOutOfOrder is reported when the source yields a position that does not
// move the stream forward.
var ErrOutOfOrder = feed.ErrOutOfOrder

var errAlreadyRunning = errors.New("pipeline already running")

// errInterrupted stops the loop without checkpointing the in-flight event.
var errInterrupted = errors.New("interrupted")

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

const (
	defaultRetryBase    = time.Second
	defaultRetryMax     = 30 * time.Second
	defaultDrainTimeout = 30 * time.Second
)

// Pipeline processes one subscription strictly in order. Zero durations fall
// back to defaults; MaxRetries is used as given, so 0 disables retries.
type Pipeline struct {
	Source      feed.Source
	Router      *Router
	Checkpoints *Checkpointer
	Logger      *slog.Logger // optional, nil-safe
	Metrics     *Metrics     // optional, nil-safe

	MaxRetries   int
	RetryBase    time.Duration
	RetryMax     time.Duration
	DrainTimeout time.Duration
	MaxEvents    int // 0 = unlimited

	state atomic.Int32
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run blocks until ctx is cancelled, MaxEvents have been processed or a fatal
// error occurs. Cancellation is a clean stop and returns nil: the event being
// handled at that moment is finished and checkpointed within DrainTimeout.
// Fatal errors are returned as *FatalError.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.Source == nil || p.Router == nil || p.Checkpoints == nil {
		return errors.New("pipeline requires Source, Router and Checkpoints")
	}
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return errAlreadyRunning
	}
	p.Metrics.setState(StateRunning)
	defer p.setState(StateStopped)

	sub := p.Checkpoints.Subscription()
	log := p.logger().With("subscription", sub.Key())

	if err := p.Checkpoints.Register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &FatalError{Kind: FailureCheckpoint, Position: cursor.Beginning, Err: err}
	}
	from, err := p.Checkpoints.ResumePosition(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &FatalError{Kind: FailureCheckpoint, Position: cursor.Beginning, Err: err}
	}
	p.Metrics.checkpoint(from)

	stream, err := p.Source.Subscribe(ctx, sub, from)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &FatalError{Kind: FailureSource, Position: from, Err: err}
	}
	defer stream.Close()

	log.Info("indexer started", "from", from.String(), "handlers", p.Router.Names(), "max_events", p.MaxEvents)

	guard := feed.NewOrderGuard(from)
	processed := 0
	for {
		if p.MaxEvents > 0 && processed >= p.MaxEvents {
			log.Info("indexer reached event limit", "processed", processed)
			return p.finish(ctx, log, nil)
		}
		// Sources may hand out buffered events after cancellation.
		if ctx.Err() != nil {
			log.Info("indexer stopping", "processed", processed)
			return p.finish(ctx, log, nil)
		}

		evt, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("indexer stopping", "processed", processed)
				return p.finish(ctx, log, nil)
			}
			return p.finish(ctx, log, &FatalError{Kind: FailureSource, Position: p.Checkpoints.Position(), Err: err})
		}
		if err := guard.Check(evt.Position); err != nil {
			return p.finish(ctx, log, &FatalError{
				Kind:     FailureSource,
				Position: evt.Position,
				Event:    evt.Name,
				Err:      fmt.Errorf("position %s after %s: %w", evt.Position, p.Checkpoints.Position(), err),
			})
		}

		if err := p.process(ctx, log, evt); err != nil {
			if errors.Is(err, errInterrupted) {
				log.Info("indexer stopping before event was applied", "position", evt.Position.String(), "event", evt.Name)
				return p.finish(ctx, log, nil)
			}
			return p.finish(ctx, log, err)
		}
		processed++
	}
}

// process handles and checkpoints one event. Work runs on a context detached
// from ctx so a shutdown signal lets the event complete, bounded by
// DrainTimeout.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, evt event.Decoded) error {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		p.setState(StateDraining)
		timer := time.NewTimer(p.drainTimeout())
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-work.Done():
		}
	})
	defer stop()

	log = log.With("event", evt.Name, "tx_hash", evt.TxHash, "position", evt.Position.String())

	h, ok := p.Router.Route(evt.Name)
	switch {
	case !ok:
		log.Info("no handler for event, skipping")
		p.Metrics.skip(evt.Name)
	case evt.ArgsErr != nil:
		p.Metrics.fail(evt.Name)
		log.Error("event args could not be decoded", "error", evt.ArgsErr)
		return &FatalError{Kind: FailureValidation, Position: evt.Position, Event: evt.Name, Err: evt.ArgsErr}
	default:
		if err := p.handle(ctx, work, log, h, evt); err != nil {
			return err
		}
	}

	if err := p.Checkpoints.Advance(work, evt.Position, evt.TxHash); err != nil {
		return &FatalError{Kind: FailureCheckpoint, Position: evt.Position, Event: evt.Name, Err: err}
	}
	p.Metrics.checkpoint(p.Checkpoints.Saved())
	return nil
}

func (p *Pipeline) handle(ctx, work context.Context, log *slog.Logger, h Handler, evt event.Decoded) error {
	for attempt := 0; ; attempt++ {
		started := time.Now()
		err := h.Handle(work, evt)
		p.Metrics.observe(evt.Name, started)
		if err == nil {
			p.Metrics.applied(evt.Name)
			return nil
		}

		if work.Err() != nil {
			log.Warn("drain timeout exceeded, abandoning event", "error", err)
			return errInterrupted
		}
		if _, ok := validation.AsError(err); ok {
			p.Metrics.fail(evt.Name)
			log.Error("event failed validation", "error", err)
			return &FatalError{Kind: FailureValidation, Position: evt.Position, Event: evt.Name, Err: err}
		}
		if !storage.IsTransient(err) || attempt >= p.MaxRetries {
			p.Metrics.fail(evt.Name)
			log.Error("handler failed", "error", err, "attempts", attempt+1)
			return &FatalError{Kind: FailureStore, Position: evt.Position, Event: evt.Name, Err: err}
		}

		backoff := p.backoff(attempt)
		p.Metrics.retry(evt.Name)
		log.Warn("transient store error, retrying", "error", err, "attempt", attempt+1, "max", p.MaxRetries, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errInterrupted
		case <-timer.C:
		}
	}
}

// finish flushes pending checkpoints on a detached context. A failed
// checkpoint is not retried.
func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, fatal error) error {
	p.setState(StateDraining)

	var fe *FatalError
	if errors.As(fatal, &fe) && fe.Kind == FailureCheckpoint {
		log.Error("indexer stopped", "error", fatal)
		return fatal
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout())
	defer cancel()
	if err := p.Checkpoints.Flush(flushCtx); err != nil {
		flushErr := &FatalError{Kind: FailureCheckpoint, Position: p.Checkpoints.Position(), Err: err}
		if fatal == nil {
			fatal = flushErr
		} else {
			log.Error("flush checkpoint after failure", "error", err)
		}
	} else {
		p.Metrics.checkpoint(p.Checkpoints.Saved())
	}

	if fatal != nil {
		log.Error("indexer stopped", "error", fatal)
		return fatal
	}
	log.Info("indexer stopped", "position", p.Checkpoints.Saved().String())
	return nil
}

func (p *Pipeline) backoff(attempt int) time.Duration {
	base, limit := p.RetryBase, p.RetryMax
	if base <= 0 {
		base = defaultRetryBase
	}
	if limit <= 0 {
		limit = defaultRetryMax
	}
	if attempt > 30 {
		return limit
	}
	d := base << attempt
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

func (p *Pipeline) drainTimeout() time.Duration {
	if p.DrainTimeout <= 0 {
		return defaultDrainTimeout
	}
	return p.DrainTimeout
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.Metrics.setState(s)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
