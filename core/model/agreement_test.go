package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgreementValidate(t *testing.T) {
	assert.NoError(t, Agreement{Value: 10, Flexibility: 2}.Validate())
	assert.ErrorIs(t, Agreement{Value: 0}.Validate(), ErrNonPositiveValue)
	assert.Error(t, Agreement{Value: 1, ValuePrice: -1}.Validate())
}

func TestEnergySourceText(t *testing.T) {
	s, err := ParseEnergySource(" Wind ")
	require.NoError(t, err)
	assert.Equal(t, SourceWind, s)
	_, err = ParseEnergySource("coal")
	assert.Error(t, err)
	assert.Equal(t, "unknown", EnergySource(42).String())

	b, err := json.Marshal(Agreement{Value: 1, Source: SourceSolar})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"source":"solar"`)

	var a Agreement
	require.NoError(t, json.Unmarshal([]byte(`{"value":3,"source":"hydro"}`), &a))
	assert.Equal(t, SourceHydro, a.Source)
}

func TestFlexibilityEventWindow(t *testing.T) {
	ev := FlexibilityEvent{Start: 10, Stop: 20}
	assert.False(t, ev.Contains(9))
	assert.True(t, ev.Contains(10))
	assert.True(t, ev.Contains(20))
	assert.False(t, ev.Contains(21))
	assert.True(t, ev.HasEnded(21))
}
