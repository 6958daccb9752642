package projection

import (
	"context"
	"fmt"

	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

// RequestCreated writes only the creation-owned columns of a service request.
type RequestCreated struct {
	tx       storage.Transactor
	requests storage.ServiceRequestWriter
}

func (h *RequestCreated) Handle(ctx context.Context, evt event.Decoded) error {
	w, err := DecodeRequestCreated(evt)
	if err != nil {
		return err
	}
	return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := h.requests.UpsertServiceRequestCreation(ctx, w); err != nil {
			return fmt.Errorf("upsert service request %s: %w", w.Key, err)
		}
		return nil
	})
}

func DecodeRequestCreated(evt event.Decoded) (servicerequest.CreationWrite, error) {
	var issues validation.Result
	a := newArgs(evt.Args, &issues)

	w := servicerequest.CreationWrite{
		Key: decodeRequestKey(a),
		Creation: servicerequest.Creation{
			Title:                 a.str("title"),
			Description:           a.str("description"),
			URI:                   a.str("uri"),
			RequesterAddress:      a.address("requester", "requesterAddress"),
			PTokenAddress:         a.address("pTokenAddress"),
			PTokenQuantity:        a.str("pTokenQuantity"),
			SignalExpiration:      a.time("signalExpiration"),
			SubmissionExpiration:  a.time("submissionExpiration"),
			EnforcementExpiration: a.time("enforcementExpiration"),
			CreatedTxHash:         evt.TxHash,
		},
	}

	issues.Merge(w.Validate())
	if err := issues.Err(); err != nil {
		return servicerequest.CreationWrite{}, fmt.Errorf("decode %s: %w", event.RequestCreated, err)
	}
	return w, nil
}

// RequestFulfilled writes the fulfillment-owned columns, creating a
// placeholder service request when its creation has not been indexed yet,
// and records the submission it names.
type RequestFulfilled struct {
	tx          storage.Transactor
	requests    storage.ServiceRequestWriter
	submissions storage.SubmissionWriter
}

func (h *RequestFulfilled) Handle(ctx context.Context, evt event.Decoded) error {
	w, sub, err := DecodeRequestFulfilled(evt)
	if err != nil {
		return err
	}
	return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := h.requests.UpsertServiceRequestFulfillment(ctx, w); err != nil {
			return fmt.Errorf("upsert service request %s: %w", w.Key, err)
		}
		if sub == nil {
			return nil
		}
		if err := h.submissions.UpsertSubmission(ctx, sub); err != nil {
			return fmt.Errorf("upsert submission %s/%s: %w", sub.LaborMarketAddress, sub.InternalID, err)
		}
		return nil
	})
}

// DecodeRequestFulfilled returns a nil submission when the event does not
// name one.
func DecodeRequestFulfilled(evt event.Decoded) (servicerequest.FulfillmentWrite, *submission.Submission, error) {
	var issues validation.Result
	a := newArgs(evt.Args, &issues)

	w := servicerequest.FulfillmentWrite{
		Key: decodeRequestKey(a),
		Fulfillment: servicerequest.Fulfillment{
			Outcome:               a.str("outcome"),
			FulfillerAddress:      a.address("fulfiller"),
			FulfilledSubmissionID: a.str("submissionId"),
			FulfilledTxHash:       evt.TxHash,
		},
	}
	issues.Merge(w.Validate())

	var sub *submission.Submission
	if w.FulfilledSubmissionID != "" {
		sub = &submission.Submission{
			InternalID:         w.FulfilledSubmissionID,
			LaborMarketAddress: w.LaborMarketAddress,
			ServiceRequestID:   w.InternalID,
			Title:              a.str("title"),
			Description:        a.str("description"),
			URI:                a.str("uri"),
			CreatorAddress:     w.FulfillerAddress,
			TxHash:             evt.TxHash,
		}
		if w.Key.LaborMarketAddress != "" && w.Key.InternalID != "" {
			issues.Merge(sub.Validate())
		}
	}

	if err := issues.Err(); err != nil {
		return servicerequest.FulfillmentWrite{}, nil, fmt.Errorf("decode %s: %w", event.RequestFulfilled, err)
	}
	return w, sub, nil
}

func decodeRequestKey(a args) servicerequest.Key {
	return servicerequest.Key{
		LaborMarketAddress: a.address("laborMarketAddress", "laborMarket"),
		InternalID:         a.str("internalId", "requestId"),
	}
}
