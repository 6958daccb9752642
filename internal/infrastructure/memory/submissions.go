package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/storage"
)

func (s *Store) UpsertSubmission(ctx context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "upsert_submission"); err != nil {
		return err
	}

	key := submissionKey{laborMarketAddress: sub.LaborMarketAddress, internalID: sub.InternalID}
	row := copySubmission(sub)
	row.Reviews = nil
	if existing, ok := s.data.submissions[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = newID()
		row.CreatedAt = s.now()
	}
	s.data.submissions[key] = row

	sub.ID = row.ID
	sub.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) UpsertReview(ctx context.Context, rv *submission.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "upsert_review"); err != nil {
		return err
	}

	key := reviewKey{
		laborMarketAddress: rv.LaborMarketAddress,
		submissionID:       rv.SubmissionID,
		reviewerAddress:    rv.ReviewerAddress,
	}
	row := *rv
	if existing, ok := s.data.reviews[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = newID()
		row.CreatedAt = s.now()
	}
	s.data.reviews[key] = &row

	rv.ID = row.ID
	rv.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) FindSubmission(ctx context.Context, laborMarketAddress, internalID string) (*submission.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.submissions[submissionKey{laborMarketAddress: laborMarketAddress, internalID: internalID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.withReviews(row), nil
}

func (s *Store) SearchSubmissions(ctx context.Context, params submission.Search) ([]*submission.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*submission.Submission
	for _, row := range s.data.submissions {
		if params.LaborMarketAddress != "" && row.LaborMarketAddress != params.LaborMarketAddress {
			continue
		}
		if params.ServiceRequestID != "" && row.ServiceRequestID != params.ServiceRequestID {
			continue
		}
		if q := strings.TrimSpace(params.Q); q != "" && !containsFold(row.Title, q) && !containsFold(row.Description, q) {
			continue
		}
		matched = append(matched, s.withReviews(row))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch params.SortBy {
		case submission.SortByTitle:
			less, equal = a.Title < b.Title, a.Title == b.Title
		case submission.SortByDescription:
			less, equal = a.Description < b.Description, a.Description == b.Description
		case submission.SortByReviews:
			less, equal = len(a.Reviews) < len(b.Reviews), len(a.Reviews) == len(b.Reviews)
		case submission.SortByCreatorID:
			less, equal = a.CreatorAddress < b.CreatorAddress, a.CreatorAddress == b.CreatorAddress
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			if a.LaborMarketAddress != b.LaborMarketAddress {
				return a.LaborMarketAddress < b.LaborMarketAddress
			}
			return a.InternalID < b.InternalID
		}
		if params.Order == submission.OrderDesc {
			return !less
		}
		return less
	})

	return page(matched, params.Offset(), params.First), nil
}

// withReviews must be called with s.mu held.
func (s *Store) withReviews(row *submission.Submission) *submission.Submission {
	out := copySubmission(row)
	out.Reviews = []submission.Review{}
	for key, rv := range s.data.reviews {
		if key.laborMarketAddress == row.LaborMarketAddress && key.submissionID == row.InternalID {
			out.Reviews = append(out.Reviews, *rv)
		}
	}
	sort.Slice(out.Reviews, func(i, j int) bool {
		return out.Reviews[i].ReviewerAddress < out.Reviews[j].ReviewerAddress
	})
	return out
}
