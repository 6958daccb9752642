package event

import (
	"encoding/json"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
)

// Event names emitted by the labor market contracts.
const (
	LaborMarketConfigured = "LaborMarketConfigured"
	RequestCreated        = "RequestCreated"
	RequestFulfilled      = "RequestFulfilled"
	RequestReviewed       = "RequestReviewed"
)

// Raw is the envelope carried on the feed.
type Raw struct {
	Decoded     RawDecoded `json:"decoded"`
	TxHash      string     `json:"txHash"`
	Contract    string     `json:"contract,omitempty"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
}

type RawDecoded struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Decoded is one event ready for routing. It is never mutated after the
// source produces it.
type Decoded struct {
	Name     string          `json:"name"`
	Args     map[string]any  `json:"args"`
	TxHash   string          `json:"txHash"`
	Position cursor.Position `json:"position"`

	// ArgsErr is set when the envelope named an event but its args could
	// not be decoded. It is always a *validation.Error.
	ArgsErr error `json:"-"`
}
