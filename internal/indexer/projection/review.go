package projection

import (
	"context"
	"fmt"

	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

// RequestReviewed records one reviewer's score for a submission. A reviewer
// re-scoring the same submission overwrites the previous score.
type RequestReviewed struct {
	tx          storage.Transactor
	submissions storage.SubmissionWriter
}

func (h *RequestReviewed) Handle(ctx context.Context, evt event.Decoded) error {
	rv, err := DecodeRequestReviewed(evt)
	if err != nil {
		return err
	}
	return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := h.submissions.UpsertReview(ctx, &rv); err != nil {
			return fmt.Errorf("upsert review of %s/%s: %w", rv.LaborMarketAddress, rv.SubmissionID, err)
		}
		return nil
	})
}

func DecodeRequestReviewed(evt event.Decoded) (submission.Review, error) {
	var issues validation.Result
	a := newArgs(evt.Args, &issues)

	rv := submission.Review{
		LaborMarketAddress: a.address("laborMarketAddress", "laborMarket"),
		SubmissionID:       a.str("submissionId"),
		ReviewerAddress:    a.address("reviewer"),
		RequestID:          a.str("requestId", "internalId"),
		Score:              a.int64("score", "reviewScore"),
		TxHash:             evt.TxHash,
	}

	issues.Merge(rv.Validate())
	if err := issues.Err(); err != nil {
		return submission.Review{}, fmt.Errorf("decode %s: %w", event.RequestReviewed, err)
	}
	return rv, nil
}
