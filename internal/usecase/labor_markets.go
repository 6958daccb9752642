package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

// LaborMarketCache is the read-through cache in front of FindLaborMarket. A
// nil cache disables caching.
type LaborMarketCache interface {
	Get(ctx context.Context, address string) (*labormarket.LaborMarket, bool)
	Set(ctx context.Context, lm *labormarket.LaborMarket)
	Invalidate(ctx context.Context, address string)
}

type GetLaborMarket struct {
	cache   LaborMarketCache
	markets storage.LaborMarketReader
}

func NewGetLaborMarket(cache LaborMarketCache, markets storage.LaborMarketReader) *GetLaborMarket {
	return &GetLaborMarket{cache: cache, markets: markets}
}

func (uc *GetLaborMarket) Execute(ctx context.Context, address string) (*labormarket.LaborMarket, error) {
	address = validation.NormalizeAddress(address)
	if !validation.IsHexAddress(address) {
		return nil, validation.Invalid("address", address)
	}

	if uc.cache != nil {
		if lm, ok := uc.cache.Get(ctx, address); ok {
			return lm, nil
		}
	}

	lm, err := uc.markets.FindLaborMarket(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get labor market %s: %w", address, err)
	}

	if uc.cache != nil {
		uc.cache.Set(ctx, lm)
	}
	return lm, nil
}

// Page is one page of a listing together with the size of the whole result.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	First int `json:"first"`
}

type SearchLaborMarkets struct {
	markets storage.LaborMarketReader
}

func NewSearchLaborMarkets(markets storage.LaborMarketReader) *SearchLaborMarkets {
	return &SearchLaborMarkets{markets: markets}
}

func (uc *SearchLaborMarkets) Execute(ctx context.Context, params labormarket.Search) (*Page[*labormarket.LaborMarket], error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}

	items, err := uc.markets.SearchLaborMarkets(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search labor markets: %w", err)
	}
	total, err := uc.markets.CountLaborMarkets(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("count labor markets: %w", err)
	}
	if items == nil {
		items = []*labormarket.LaborMarket{}
	}
	return &Page[*labormarket.LaborMarket]{Items: items, Total: total, Page: params.Page, First: params.First}, nil
}

// IndexLaborMarket writes a market submitted through the dev endpoint. It
// applies the full form rules and then the same upsert as the projection.
type IndexLaborMarket struct {
	txManager storage.Transactor
	markets   storage.LaborMarketWriter
	cache     LaborMarketCache
}

func NewIndexLaborMarket(txManager storage.Transactor, markets storage.LaborMarketWriter, cache LaborMarketCache) *IndexLaborMarket {
	return &IndexLaborMarket{txManager: txManager, markets: markets, cache: cache}
}

func (uc *IndexLaborMarket) Execute(ctx context.Context, lm labormarket.LaborMarket) (*labormarket.LaborMarket, error) {
	lm.Address = validation.NormalizeAddress(lm.Address)
	lm.Title = strings.TrimSpace(lm.Title)
	if err := labormarket.ValidateForm(lm).Err(); err != nil {
		return nil, err
	}

	err := uc.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		return uc.markets.UpsertLaborMarket(txCtx, &lm)
	})
	if err != nil {
		return nil, fmt.Errorf("index labor market %s: %w", lm.Address, err)
	}

	if uc.cache != nil {
		uc.cache.Invalidate(ctx, lm.Address)
	}
	return &lm, nil
}
