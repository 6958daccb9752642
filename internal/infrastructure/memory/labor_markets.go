package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/storage"
)

func (s *Store) UpsertLaborMarket(ctx context.Context, lm *labormarket.LaborMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite(ctx, "upsert_labor_market"); err != nil {
		return err
	}

	row := copyLaborMarket(lm)
	row.Projects = nil
	row.ServiceRequestCount = 0
	if existing, ok := s.data.laborMarkets[lm.Address]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = newID()
		row.CreatedAt = s.now()
	}
	s.data.laborMarkets[lm.Address] = row

	lm.ID = row.ID
	lm.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) FindLaborMarket(ctx context.Context, address string) (*labormarket.LaborMarket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.laborMarkets[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.hydrate(row), nil
}

func (s *Store) SearchLaborMarkets(ctx context.Context, params labormarket.Search) ([]*labormarket.LaborMarket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matchLaborMarkets(params)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch params.SortBy {
		case labormarket.SortByCreatedAt:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		case labormarket.SortByServiceRequests:
			less, equal = a.ServiceRequestCount < b.ServiceRequestCount, a.ServiceRequestCount == b.ServiceRequestCount
		default:
			less, equal = a.Title < b.Title, a.Title == b.Title
		}
		if equal {
			return a.Address < b.Address
		}
		if params.Order == labormarket.OrderDesc {
			return !less
		}
		return less
	})

	return page(matched, params.Offset(), params.First), nil
}

func (s *Store) CountLaborMarkets(ctx context.Context, params labormarket.Search) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := params.Normalize(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matchLaborMarkets(params)), nil
}

// matchLaborMarkets must be called with s.mu held.
func (s *Store) matchLaborMarkets(params labormarket.Search) []*labormarket.LaborMarket {
	var matched []*labormarket.LaborMarket
	for _, row := range s.data.laborMarkets {
		if params.Type != "" && row.Type != params.Type {
			continue
		}
		if q := strings.TrimSpace(params.Q); q != "" && !containsFold(row.Title, q) && !containsFold(row.Description, q) {
			continue
		}
		if len(params.Token) > 0 && !s.hasToken(row, params.Token) {
			continue
		}
		if len(params.Project) > 0 && !s.hasProject(row, params.Project) {
			continue
		}
		matched = append(matched, s.hydrate(row))
	}
	return matched
}

func (s *Store) hasToken(row *labormarket.LaborMarket, symbols []string) bool {
	for _, id := range row.TokenIDs {
		token, ok := s.data.tokens[id]
		if !ok {
			continue
		}
		for _, symbol := range symbols {
			if token.Symbol == symbol {
				return true
			}
		}
	}
	return false
}

func (s *Store) hasProject(row *labormarket.LaborMarket, slugs []string) bool {
	for _, id := range row.ProjectIDs {
		project, ok := s.data.projects[id]
		if !ok {
			continue
		}
		for _, slug := range slugs {
			if project.Slug == slug {
				return true
			}
		}
	}
	return false
}

// hydrate returns a copy with the derived read fields filled in.
func (s *Store) hydrate(row *labormarket.LaborMarket) *labormarket.LaborMarket {
	out := copyLaborMarket(row)
	out.Projects = nil
	for _, id := range row.ProjectIDs {
		if project, ok := s.data.projects[id]; ok {
			out.Projects = append(out.Projects, project)
		}
	}
	for key := range s.data.serviceRequests {
		if key.LaborMarketAddress == row.Address {
			out.ServiceRequestCount++
		}
	}
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
