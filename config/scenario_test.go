package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`requests:
  - at_tick: 30
    percent: -10
  - at_tick: 5
    percent: 20
variations:
  - at_tick: 5
    category: wind
    delta: -2
`))
	require.NoError(t, err)
	require.Len(t, s.Requests, 2)
	assert.Equal(t, int64(5), s.Requests[0].AtTick)

	reqs, vars := s.At(5)
	assert.Equal(t, []ScheduledRequest{{AtTick: 5, Percent: 20}}, reqs)
	assert.Equal(t, []ScheduledVariation{{AtTick: 5, Category: "wind", Delta: -2}}, vars)
	reqs, vars = s.At(6)
	assert.Empty(t, reqs)
	assert.Empty(t, vars)
	assert.Equal(t, int64(30), s.LastTick())
}

func TestParseScenarioRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "requests:\n  - at_tick: 1\n    pct: 3\n",
		"unknown category": "variations:\n  - at_tick: 1\n    category: hydro\n    delta: 1\n",
		"zero delta":       "variations:\n  - at_tick: 1\n    category: solar\n    delta: 0\n",
		"negative tick":    "requests:\n  - at_tick: -1\n    percent: 3\n",
		"full reduction":   "requests:\n  - at_tick: 1\n    percent: -100\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestEmptyScenario(t *testing.T) {
	s, err := ParseScenario([]byte("requests: []\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), s.LastTick())
}
