// Package storage defines the persisted-store contracts shared by the indexer
// (writes), the read use cases and the operator tooling.
package storage

import (
	"context"
	"errors"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/submission"
)

var (
	// ErrNotFound is returned by Find* methods when no row matches the key.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures worth retrying unchanged: lost connections,
	// timeouts, serialization conflicts.
	ErrTransient = errors.New("transient store error")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that IsTransient reports true. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Transactor runs fn atomically: either every write made through ctx inside
// fn is visible afterwards, or none is.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// LaborMarketWriter replaces a market and its project/token links.
type LaborMarketWriter interface {
	UpsertLaborMarket(ctx context.Context, lm *labormarket.LaborMarket) error
}

// ServiceRequestWriter writes one field group of a service request, inserting
// the row when it does not exist yet.
type ServiceRequestWriter interface {
	UpsertServiceRequestCreation(ctx context.Context, w servicerequest.CreationWrite) error
	UpsertServiceRequestFulfillment(ctx context.Context, w servicerequest.FulfillmentWrite) error
}

type SubmissionWriter interface {
	UpsertSubmission(ctx context.Context, s *submission.Submission) error
	UpsertReview(ctx context.Context, r *submission.Review) error
}

type LaborMarketReader interface {
	FindLaborMarket(ctx context.Context, address string) (*labormarket.LaborMarket, error)
	SearchLaborMarkets(ctx context.Context, params labormarket.Search) ([]*labormarket.LaborMarket, error)
	CountLaborMarkets(ctx context.Context, params labormarket.Search) (int, error)
}

type ServiceRequestReader interface {
	FindServiceRequest(ctx context.Context, key servicerequest.Key) (*servicerequest.ServiceRequest, error)
	SearchServiceRequests(ctx context.Context, params servicerequest.Search) ([]*servicerequest.ServiceRequest, error)
}

type SubmissionReader interface {
	FindSubmission(ctx context.Context, laborMarketAddress, internalID string) (*submission.Submission, error)
	SearchSubmissions(ctx context.Context, params submission.Search) ([]*submission.Submission, error)
}

// CursorStore persists subscription positions. SavePosition must never lower
// a stored position.
type CursorStore interface {
	EnsureSubscription(ctx context.Context, sub cursor.Subscription) error
	LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error)
	SavePosition(ctx context.Context, sub cursor.Subscription, pos cursor.Position, txHash string) error
}

// Stats summarises row counts for operators.
type Stats struct {
	LaborMarkets    int64 `json:"labor_markets"`
	ServiceRequests int64 `json:"service_requests"`
	Submissions     int64 `json:"submissions"`
	Reviews         int64 `json:"reviews"`
}
