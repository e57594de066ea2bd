package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/barrier-explorer/internal/facet"
)

func TestDimensionValues(t *testing.T) {
	d := facet.Dimension{Field: "condition", Values: []string{"0", "1", "2"}}
	totals := map[string]int{"2": 1, "0": 3, "9": 1, "7": 2}

	assert.Equal(t, []string{"0", "2", "7", "9"}, dimensionValues(d, totals))
}

func TestValueLabel(t *testing.T) {
	d := facet.Dimension{Labels: map[string]string{"1": "Good"}}
	assert.Equal(t, "Good", valueLabel(d, "1"))
	assert.Equal(t, "2", valueLabel(d, "2"))
}

func TestFormatSnapshot(t *testing.T) {
	snap := &facet.Snapshot{
		ValueField:    "dams",
		Total:         10,
		FilteredTotal: 4,
		Filters:       facet.FilterState{"condition": {"1"}},
		DimensionTotals: map[string]map[string]int{
			"condition": {"1": 4, "2": 3},
			"state":     {},
		},
	}
	dims := []facet.Dimension{
		{Field: "condition", Label: "Structural condition", Values: []string{"1", "2"}, Labels: map[string]string{"1": "Good", "2": "Fair"}},
		{Field: "state"},
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap, dims)
	out := buf.String()

	require.Contains(t, out, "dams: 4 of 10")
	assert.Contains(t, out, "filters: condition=1")
	assert.Contains(t, out, "Structural condition")
	assert.Contains(t, out, "*Good")
	assert.Contains(t, out, "Fair")
	assert.NotContains(t, out, "*Fair")
	assert.NotContains(t, out, "state", "dimensions without counts are omitted")
}
