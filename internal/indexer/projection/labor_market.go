package projection

import (
	"context"
	"fmt"

	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
)

// LaborMarketConfigured replaces the whole market row on every event.
type LaborMarketConfigured struct {
	tx      storage.Transactor
	markets storage.LaborMarketWriter
	cache   CacheInvalidator
}

func (h *LaborMarketConfigured) Handle(ctx context.Context, evt event.Decoded) error {
	lm, err := DecodeLaborMarket(evt)
	if err != nil {
		return err
	}
	err = h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := h.markets.UpsertLaborMarket(ctx, &lm); err != nil {
			return fmt.Errorf("upsert labor market %s: %w", lm.Address, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Invalidate(ctx, lm.Address)
	}
	return nil
}

// DecodeLaborMarket maps LaborMarketConfigured args onto a market record.
// Launch settings may arrive nested ("launch": {...}) or flattened
// ("launchAccess", ...).
func DecodeLaborMarket(evt event.Decoded) (labormarket.LaborMarket, error) {
	var issues validation.Result
	a := newArgs(evt.Args, &issues)

	lm := labormarket.LaborMarket{
		Address:             a.address("address", "marketAddress"),
		Title:               a.str("title"),
		Description:         a.str("description"),
		Type:                labormarket.Type(a.str("type")),
		SubmitRepMin:        a.int64("submitRepMin"),
		SubmitRepMax:        a.int64("submitRepMax"),
		RewardCurveAddress:  a.address("rewardCurveAddress"),
		ReviewBadgerAddress: a.address("reviewBadgerAddress"),
		ReviewBadgerTokenID: a.str("reviewBadgerTokenId"),
		SponsorAddress:      a.address("sponsorAddress", "sponsor", "owner"),
		URI:                 a.str("uri", "metadataUri"),
		ProjectIDs:          a.ids("projectIds"),
		TokenIDs:            a.ids("tokenIds"),
		ConfiguredTxHash:    evt.TxHash,
	}

	if a.has("launch") {
		launch := a.nested("launch")
		lm.Launch = labormarket.Launch{
			Access:        labormarket.LaunchAccess(launch.str("access")),
			BadgerAddress: launch.address("badgerAddress"),
			BadgerTokenID: launch.str("badgerTokenId"),
		}
	} else {
		lm.Launch = labormarket.Launch{
			Access:        labormarket.LaunchAccess(a.str("launchAccess")),
			BadgerAddress: a.address("launchBadgerAddress"),
			BadgerTokenID: a.str("launchBadgerTokenId"),
		}
	}
	if lm.Launch.Access != labormarket.LaunchDelegates {
		lm.Launch.BadgerAddress = ""
		lm.Launch.BadgerTokenID = ""
	}

	issues.Merge(labormarket.Validate(lm))
	if err := issues.Err(); err != nil {
		return labormarket.LaborMarket{}, fmt.Errorf("decode %s: %w", event.LaborMarketConfigured, err)
	}
	return lm, nil
}
