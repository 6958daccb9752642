package labormarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() LaborMarket {
	return LaborMarket{
		Address:             "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
		Title:               "Test",
		Description:         "Test",
		Type:                TypeBrainstorm,
		SubmitRepMin:        1,
		SubmitRepMax:        100,
		RewardCurveAddress:  "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		ReviewBadgerAddress: "0x8f3cf7ad23cd3cadbd9735aff958023239c6a063",
		ReviewBadgerTokenID: "foo",
		TokenIDs:            []string{"1"},
		ProjectIDs:          []string{"1"},
		Launch:              Launch{Access: LaunchAnyone},
	}
}

func TestValidateFormDelegatesRequiresBadgerProps(t *testing.T) {
	lm := validForm()
	lm.Launch = Launch{Access: LaunchDelegates}

	result := ValidateForm(lm)

	require.False(t, result.OK())
	assert.Len(t, result.Issues, 2)
	assert.True(t, result.Has("launch.badgerAddress"))
	assert.True(t, result.Has("launch.badgerTokenId"))
}

func TestValidateFormDelegatesWithBadgerProps(t *testing.T) {
	lm := validForm()
	lm.Launch = Launch{
		Access:        LaunchDelegates,
		BadgerAddress: "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270",
		BadgerTokenID: "1",
	}

	assert.True(t, ValidateForm(lm).OK())
}

func TestValidateFormRequiresMetadata(t *testing.T) {
	lm := validForm()
	lm.Title = ""
	lm.Description = ""
	lm.Type = "poll"

	result := ValidateForm(lm)
	assert.True(t, result.Has("title"))
	assert.True(t, result.Has("description"))
	assert.True(t, result.Has("type"))
}

func TestValidateAcceptsSparseProjection(t *testing.T) {
	result := Validate(LaborMarket{Address: "0xabc", Title: "Foo"})
	assert.True(t, result.OK(), "issues: %v", result.Issues)
}

func TestValidateProjectionRules(t *testing.T) {
	result := Validate(LaborMarket{
		Type:         "poll",
		SubmitRepMin: 10,
		SubmitRepMax: 5,
		Launch:       Launch{Access: LaunchDelegates, BadgerAddress: "0x1"},
	})

	assert.True(t, result.Has("address"))
	assert.True(t, result.Has("type"))
	assert.True(t, result.Has("submitRepMax"))
	assert.True(t, result.Has("launch.badgerTokenId"))
	assert.False(t, result.Has("launch.badgerAddress"))
}

func TestSearchNormalize(t *testing.T) {
	s := Search{}
	require.NoError(t, s.Normalize())
	assert.Equal(t, SortByTitle, s.SortBy)
	assert.Equal(t, OrderDesc, s.Order)
	assert.Equal(t, 1, s.Page)
	assert.Equal(t, 12, s.First)
	assert.Equal(t, 0, s.Offset())

	s = Search{Page: 3, First: 500}
	require.NoError(t, s.Normalize())
	assert.Equal(t, MaxPageSize, s.First)
	assert.Equal(t, 200, s.Offset())

	s = Search{SortBy: "votes"}
	assert.Error(t, s.Normalize())
}
