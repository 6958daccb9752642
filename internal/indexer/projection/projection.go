// Package projection turns decoded contract events into idempotent store
// writes.
//
// Each handler first decodes the event arguments into a write instruction (a
// pure step that fails with a *validation.Error on malformed input) and then
// applies it inside one transaction, so a failed write never leaves part of
// an event behind. Replaying an event converges on the same rows because
// every write is an upsert keyed by the on-chain identifier.
package projection

import (
	"context"

	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/storage"
)

// Handler applies one kind of event.
type Handler interface {
	Handle(ctx context.Context, evt event.Decoded) error
}

// CacheInvalidator drops cached reads of a market after it is rewritten.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, address string)
}

// Deps are the store ports the handlers write through. Cache is optional.
type Deps struct {
	Tx              storage.Transactor
	LaborMarkets    storage.LaborMarketWriter
	ServiceRequests storage.ServiceRequestWriter
	Submissions     storage.SubmissionWriter
	Cache           CacheInvalidator
}

// All returns one handler per supported event name.
func All(d Deps) map[string]Handler {
	return map[string]Handler{
		event.LaborMarketConfigured: &LaborMarketConfigured{tx: d.Tx, markets: d.LaborMarkets, cache: d.Cache},
		event.RequestCreated:        &RequestCreated{tx: d.Tx, requests: d.ServiceRequests},
		event.RequestFulfilled:      &RequestFulfilled{tx: d.Tx, requests: d.ServiceRequests, submissions: d.Submissions},
		event.RequestReviewed:       &RequestReviewed{tx: d.Tx, submissions: d.Submissions},
	}
}
