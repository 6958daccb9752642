package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCollectsOneIssuePerField(t *testing.T) {
	var r Result
	r.Require("title", " ")
	r.Require("description", "ok")
	r.Address("sponsorAddress", "not-an-address")

	assert.False(t, r.OK())
	assert.Len(t, r.Issues, 2)
	assert.True(t, r.Has("title"))
	assert.True(t, r.Has("sponsorAddress"))
	assert.False(t, r.Has("description"))
}

func TestResultErr(t *testing.T) {
	var ok Result
	assert.NoError(t, ok.Err())

	var bad Result
	bad.Add("address", "Required")
	err := fmt.Errorf("decode: %w", bad.Err())

	verr, found := AsError(err)
	require.True(t, found)
	assert.Equal(t, []Issue{{Field: "address", Message: "Required"}}, verr.Issues)
	assert.Contains(t, err.Error(), "address: Required")
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsHexAddress("0xabc"))
	assert.True(t, IsHexAddress("0XABC"))
	assert.False(t, IsHexAddress("0x"))
	assert.False(t, IsHexAddress("abc"))
	assert.False(t, IsHexAddress("0xzz"))

	assert.True(t, IsEVMAddress("0x2791bca1f2de4661ed88a30c99a7a9449aa84174"))
	assert.False(t, IsEVMAddress("0xabc"))

	assert.Equal(t, "0xabcdef", NormalizeAddress(" 0xABCdef "))
}
