package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

type GetServiceRequest struct {
	requests storage.ServiceRequestReader
}

func NewGetServiceRequest(requests storage.ServiceRequestReader) *GetServiceRequest {
	return &GetServiceRequest{requests: requests}
}

func (uc *GetServiceRequest) Execute(ctx context.Context, laborMarketAddress, internalID string) (*servicerequest.ServiceRequest, error) {
	key := servicerequest.Key{
		LaborMarketAddress: validation.NormalizeAddress(laborMarketAddress),
		InternalID:         strings.TrimSpace(internalID),
	}
	var r validation.Result
	key.Validate(&r)
	if err := r.Err(); err != nil {
		return nil, err
	}

	sr, err := uc.requests.FindServiceRequest(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get service request %s: %w", key, err)
	}
	return sr, nil
}

type SearchServiceRequests struct {
	requests storage.ServiceRequestReader
}

func NewSearchServiceRequests(requests storage.ServiceRequestReader) *SearchServiceRequests {
	return &SearchServiceRequests{requests: requests}
}

func (uc *SearchServiceRequests) Execute(ctx context.Context, params servicerequest.Search) ([]*servicerequest.ServiceRequest, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	items, err := uc.requests.SearchServiceRequests(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search service requests: %w", err)
	}
	if items == nil {
		items = []*servicerequest.ServiceRequest{}
	}
	return items, nil
}
