package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

type GetSubmission struct {
	submissions storage.SubmissionReader
}

func NewGetSubmission(submissions storage.SubmissionReader) *GetSubmission {
	return &GetSubmission{submissions: submissions}
}

func (uc *GetSubmission) Execute(ctx context.Context, laborMarketAddress, internalID string) (*submission.Submission, error) {
	laborMarketAddress = validation.NormalizeAddress(laborMarketAddress)
	internalID = strings.TrimSpace(internalID)

	var r validation.Result
	if !validation.IsHexAddress(laborMarketAddress) {
		r.Add("laborMarketAddress", "Invalid address")
	}
	r.Require("submissionId", internalID)
	if err := r.Err(); err != nil {
		return nil, err
	}

	sub, err := uc.submissions.FindSubmission(ctx, laborMarketAddress, internalID)
	if err != nil {
		return nil, fmt.Errorf("get submission %s/%s: %w", laborMarketAddress, internalID, err)
	}
	return sub, nil
}

type SearchSubmissions struct {
	submissions storage.SubmissionReader
}

func NewSearchSubmissions(submissions storage.SubmissionReader) *SearchSubmissions {
	return &SearchSubmissions{submissions: submissions}
}

func (uc *SearchSubmissions) Execute(ctx context.Context, params submission.Search) ([]*submission.Submission, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	items, err := uc.submissions.SearchSubmissions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search submissions: %w", err)
	}
	if items == nil {
		items = []*submission.Submission{}
	}
	return items, nil
}
