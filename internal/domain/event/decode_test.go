package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/validation"
)

func TestDecodeKeepsBigNumbersExact(t *testing.T) {
	value := []byte(`{"decoded":{"name":"RequestCreated","args":{"laborMarketAddress":"0xabc","internalId":"1","pTokenQuantity":123456789012345678901234567890}},"txHash":"0xdead"}`)

	evt, err := Decode(value, cursor.Position(7))
	require.NoError(t, err)

	assert.Equal(t, RequestCreated, evt.Name)
	assert.Equal(t, "0xdead", evt.TxHash)
	assert.Equal(t, cursor.Position(7), evt.Position)
	assert.Equal(t, json.Number("123456789012345678901234567890"), evt.Args["pTokenQuantity"])
}

func TestDecodeWithoutArgs(t *testing.T) {
	evt, err := Decode([]byte(`{"decoded":{"name":"SomeFutureEvent"},"txHash":"0x1"}`), cursor.Position(0))
	require.NoError(t, err)
	assert.Equal(t, "SomeFutureEvent", evt.Name)
	assert.Empty(t, evt.Args)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`), cursor.Position(0))
	assert.Error(t, err)
}

func TestDecodeKeepsNameWhenArgsAreMalformed(t *testing.T) {
	value := []byte(`{"decoded":{"name":"RequestFulfilled","args":["0xabc","1","paid"]},"txHash":"0x1"}`)

	evt, err := Decode(value, cursor.Position(4))
	require.NoError(t, err)
	assert.Equal(t, RequestFulfilled, evt.Name)
	assert.Equal(t, "0x1", evt.TxHash)
	assert.Equal(t, cursor.Position(4), evt.Position)
	assert.Empty(t, evt.Args)

	verr, ok := validation.AsError(evt.ArgsErr)
	require.True(t, ok)
	assert.Equal(t, "args", verr.Issues[0].Field)
}

func TestEncodeDecodeEnvelope(t *testing.T) {
	value, err := Encode(LaborMarketConfigured, "0xfeed", map[string]any{"address": "0xabc", "title": "Foo"})
	require.NoError(t, err)

	evt, err := Decode(value, cursor.Position(3))
	require.NoError(t, err)
	assert.Equal(t, LaborMarketConfigured, evt.Name)
	assert.Equal(t, "Foo", evt.Args["title"])
}
