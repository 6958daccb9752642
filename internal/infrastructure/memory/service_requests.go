package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/storage"
)

func (s *Store) UpsertServiceRequestCreation(ctx context.Context, w servicerequest.CreationWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "upsert_service_request_creation"); err != nil {
		return err
	}
	row := s.serviceRequestRow(w.Key)
	row.Creation = w.Creation
	return nil
}

func (s *Store) UpsertServiceRequestFulfillment(ctx context.Context, w servicerequest.FulfillmentWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "upsert_service_request_fulfillment"); err != nil {
		return err
	}
	row := s.serviceRequestRow(w.Key)
	row.Fulfillment = w.Fulfillment
	return nil
}

// serviceRequestRow returns the row for key, inserting an empty one first.
// Must be called with s.mu held.
func (s *Store) serviceRequestRow(key servicerequest.Key) *servicerequest.ServiceRequest {
	row, ok := s.data.serviceRequests[key]
	if !ok {
		row = &servicerequest.ServiceRequest{
			ID:                 newID(),
			LaborMarketAddress: key.LaborMarketAddress,
			InternalID:         key.InternalID,
			CreatedAt:          s.now(),
		}
		s.data.serviceRequests[key] = row
	}
	return row
}

func (s *Store) FindServiceRequest(ctx context.Context, key servicerequest.Key) (*servicerequest.ServiceRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.serviceRequests[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (s *Store) SearchServiceRequests(ctx context.Context, params servicerequest.Search) ([]*servicerequest.ServiceRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*servicerequest.ServiceRequest
	for _, row := range s.data.serviceRequests {
		if params.LaborMarket != "" && row.LaborMarketAddress != params.LaborMarket {
			continue
		}
		if q := strings.TrimSpace(params.Q); q != "" && !containsFold(row.Title, q) && !containsFold(row.Description, q) {
			continue
		}
		out := *row
		matched = append(matched, &out)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		if params.SortBy == "createdAt" {
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		} else {
			less, equal = a.Title < b.Title, a.Title == b.Title
		}
		if equal {
			if a.LaborMarketAddress != b.LaborMarketAddress {
				return a.LaborMarketAddress < b.LaborMarketAddress
			}
			return a.InternalID < b.InternalID
		}
		if params.Order == servicerequest.OrderDesc {
			return !less
		}
		return less
	})

	return page(matched, params.Offset(), params.First), nil
}
