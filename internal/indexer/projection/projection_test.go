package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/infrastructure/memory"
)

func newHandlers(t *testing.T) (*memory.Store, map[string]Handler) {
	t.Helper()
	store := memory.NewStore()
	return store, All(Deps{
		Tx:              store,
		LaborMarkets:    store,
		ServiceRequests: store,
		Submissions:     store,
	})
}

func decoded(name string, args map[string]any) event.Decoded {
	return event.Decoded{Name: name, Args: args, TxHash: "0xtx-" + name}
}

func TestLaborMarketConfiguredReplayConverges(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	evt := decoded(event.LaborMarketConfigured, map[string]any{"address": "0xabc", "title": "Foo"})

	require.NoError(t, handlers[event.LaborMarketConfigured].Handle(ctx, evt))
	first, err := store.FindLaborMarket(ctx, "0xabc")
	require.NoError(t, err)

	require.NoError(t, handlers[event.LaborMarketConfigured].Handle(ctx, evt))
	second, err := store.FindLaborMarket(ctx, "0xabc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "Foo", second.Title)

	count, err := store.CountLaborMarkets(ctx, labormarket.Search{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type recordingInvalidator struct {
	addresses []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, address string) {
	r.addresses = append(r.addresses, address)
}

func TestLaborMarketConfiguredInvalidatesCache(t *testing.T) {
	store := memory.NewStore()
	cache := &recordingInvalidator{}
	handlers := All(Deps{Tx: store, LaborMarkets: store, ServiceRequests: store, Submissions: store, Cache: cache})
	h := handlers[event.LaborMarketConfigured]
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, decoded(event.LaborMarketConfigured, map[string]any{"address": "0xABC", "title": "Foo"})))
	assert.Equal(t, []string{"0xabc"}, cache.addresses)

	err := h.Handle(ctx, decoded(event.LaborMarketConfigured, map[string]any{"title": "no address"}))
	require.Error(t, err)
	assert.Len(t, cache.addresses, 1)
}

func TestLaborMarketConfiguredFullReplace(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	h := handlers[event.LaborMarketConfigured]

	require.NoError(t, h.Handle(ctx, decoded(event.LaborMarketConfigured, map[string]any{
		"address":     "0xABC",
		"title":       "Foo",
		"description": "first",
		"projectIds":  []any{"2", "1"},
	})))
	require.NoError(t, h.Handle(ctx, decoded(event.LaborMarketConfigured, map[string]any{
		"address": "0xabc",
		"title":   "Bar",
	})))

	lm, err := store.FindLaborMarket(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "Bar", lm.Title)
	assert.Empty(t, lm.Description, "configuration is total, missing fields are cleared")
	assert.Empty(t, lm.ProjectIDs)
}

func TestDecodeLaborMarket(t *testing.T) {
	lm, err := DecodeLaborMarket(decoded(event.LaborMarketConfigured, map[string]any{
		"address":      "0xABC",
		"submitRepMin": json.Number("1"),
		"submitRepMax": "100",
		"type":         "brainstorm",
		"launch": map[string]any{
			"access":        "delegates",
			"badgerAddress": "0xBADGE",
			"badgerTokenId": 7.0,
		},
		"metadata": map[string]any{
			"title":    "From metadata",
			"tokenIds": []any{"3", "1", "3"},
		},
	}))
	require.NoError(t, err)

	assert.Equal(t, "0xabc", lm.Address)
	assert.Equal(t, int64(1), lm.SubmitRepMin)
	assert.Equal(t, int64(100), lm.SubmitRepMax)
	assert.Equal(t, labormarket.TypeBrainstorm, lm.Type)
	assert.Equal(t, labormarket.Launch{Access: labormarket.LaunchDelegates, BadgerAddress: "0xbadge", BadgerTokenID: "7"}, lm.Launch)
	assert.Equal(t, "From metadata", lm.Title)
	assert.Equal(t, []string{"1", "3"}, lm.TokenIDs)
	assert.Equal(t, "0xtx-LaborMarketConfigured", lm.ConfiguredTxHash)
}

func TestDecodeLaborMarketDelegatesWithoutBadger(t *testing.T) {
	_, err := DecodeLaborMarket(decoded(event.LaborMarketConfigured, map[string]any{
		"address":      "0xabc",
		"launchAccess": "delegates",
	}))

	verr, ok := validation.AsError(err)
	require.True(t, ok, "want validation error, got %v", err)
	assert.Len(t, verr.Issues, 2)
}

func TestDecodeLaborMarketRejectsMalformedArgs(t *testing.T) {
	_, err := DecodeLaborMarket(decoded(event.LaborMarketConfigured, map[string]any{
		"title":        map[string]any{"nested": true},
		"submitRepMin": "lots",
	}))

	verr, ok := validation.AsError(err)
	require.True(t, ok)
	fields := map[string]bool{}
	for _, issue := range verr.Issues {
		fields[issue.Field] = true
	}
	assert.True(t, fields["address"])
	assert.True(t, fields["title"])
	assert.True(t, fields["submitRepMin"])
}

func TestRequestCreatedThenFulfilled(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()

	require.NoError(t, handlers[event.RequestCreated].Handle(ctx, decoded(event.RequestCreated, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"title":              "Question",
		"signalExpiration":   json.Number("1700000000"),
	})))
	require.NoError(t, handlers[event.RequestFulfilled].Handle(ctx, decoded(event.RequestFulfilled, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"outcome":            "paid",
	})))

	sr, err := store.FindServiceRequest(ctx, servicerequest.Key{LaborMarketAddress: "0xabc", InternalID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "Question", sr.Title)
	assert.Equal(t, "paid", sr.Outcome)
	require.NotNil(t, sr.SignalExpiration)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *sr.SignalExpiration)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ServiceRequests)
}

func TestRequestFulfilledBeforeCreated(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	key := servicerequest.Key{LaborMarketAddress: "0xabc", InternalID: "1"}

	require.NoError(t, handlers[event.RequestFulfilled].Handle(ctx, decoded(event.RequestFulfilled, map[string]any{
		"laborMarketAddress": "0xabc",
		"requestId":          "1",
		"outcome":            "paid",
		"submissionId":       "9",
		"fulfiller":          "0xF00",
		"title":              "My answer",
	})))

	placeholder, err := store.FindServiceRequest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "paid", placeholder.Outcome)
	assert.Empty(t, placeholder.Title)

	require.NoError(t, handlers[event.RequestCreated].Handle(ctx, decoded(event.RequestCreated, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"title":              "Question",
	})))

	sr, err := store.FindServiceRequest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Question", sr.Title)
	assert.Equal(t, "paid", sr.Outcome, "creation must not clobber fulfillment fields")
	assert.Equal(t, "9", sr.FulfilledSubmissionID)
	assert.Equal(t, placeholder.ID, sr.ID)

	sub, err := store.FindSubmission(ctx, "0xabc", "9")
	require.NoError(t, err)
	assert.Equal(t, "1", sub.ServiceRequestID)
	assert.Equal(t, "0xf00", sub.CreatorAddress)
	assert.Equal(t, "My answer", sub.Title)
}

func TestRequestFulfilledIsIdempotent(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	evt := decoded(event.RequestFulfilled, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"submissionId":       "2",
	})

	require.NoError(t, handlers[event.RequestFulfilled].Handle(ctx, evt))
	once, err := store.FindSubmission(ctx, "0xabc", "2")
	require.NoError(t, err)

	require.NoError(t, handlers[event.RequestFulfilled].Handle(ctx, evt))
	twice, err := store.FindSubmission(ctx, "0xabc", "2")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ServiceRequests)
	assert.Equal(t, int64(1), stats.Submissions)
}

func TestRequestFulfilledRollsBackOnPartialFailure(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	outage := errors.New("connection reset")
	store.BeforeWrite = func(op string) error {
		if op == "upsert_submission" {
			return outage
		}
		return nil
	}

	err := handlers[event.RequestFulfilled].Handle(ctx, decoded(event.RequestFulfilled, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"submissionId":       "2",
	}))
	require.ErrorIs(t, err, outage)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ServiceRequests, "service request write must be rolled back with the failed submission")
	assert.Zero(t, stats.Submissions)
}

func TestRequestReviewedUpsertsPerReviewer(t *testing.T) {
	store, handlers := newHandlers(t)
	ctx := context.Background()
	h := handlers[event.RequestReviewed]

	require.NoError(t, handlers[event.RequestFulfilled].Handle(ctx, decoded(event.RequestFulfilled, map[string]any{
		"laborMarketAddress": "0xabc",
		"internalId":         "1",
		"submissionId":       "2",
	})))
	for _, score := range []any{1, 3} {
		require.NoError(t, h.Handle(ctx, decoded(event.RequestReviewed, map[string]any{
			"laborMarketAddress": "0xabc",
			"submissionId":       "2",
			"reviewer":           "0xaaa",
			"score":              score,
		})))
	}
	require.NoError(t, h.Handle(ctx, decoded(event.RequestReviewed, map[string]any{
		"laborMarketAddress": "0xabc",
		"submissionId":       "2",
		"reviewer":           "0xbbb",
		"score":              "2",
	})))

	sub, err := store.FindSubmission(ctx, "0xabc", "2")
	require.NoError(t, err)
	require.Len(t, sub.Reviews, 2)
	assert.Equal(t, int64(3), sub.Reviews[0].Score)
	assert.Equal(t, int64(2), sub.Reviews[1].Score)
}

func TestDecodeRequestKeyRequired(t *testing.T) {
	_, err := DecodeRequestCreated(decoded(event.RequestCreated, map[string]any{"title": "x"}))
	verr, ok := validation.AsError(err)
	require.True(t, ok)
	assert.Len(t, verr.Issues, 2)

	_, _, err = DecodeRequestFulfilled(decoded(event.RequestFulfilled, map[string]any{"laborMarketAddress": "nope", "internalId": "1"}))
	_, ok = validation.AsError(err)
	assert.True(t, ok)
}

func TestDecodeRequestCreatedExpirationOrder(t *testing.T) {
	_, err := DecodeRequestCreated(decoded(event.RequestCreated, map[string]any{
		"laborMarketAddress":   "0xabc",
		"internalId":           "1",
		"signalExpiration":     "2024-02-01T00:00:00Z",
		"submissionExpiration": "2024-01-01T00:00:00Z",
	}))
	verr, ok := validation.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "submissionExpiration", verr.Issues[0].Field)
}
