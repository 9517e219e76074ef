package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		column string
		want   Func
	}{
		// energy patterns win, regardless of case
		{"active_energy", FuncSum},
		{"Active_Energy", FuncSum},
		{"TOTAL_KWH", FuncSum},
		{"reactive_kvarh", FuncSum},
		{"apparent_kvah", FuncSum},
		{"energy_kwh", FuncSum},
		{"power_energy", FuncSum},
		{"active_energy_kwh", FuncSum},

		// factor before power
		{"power_factor", FuncAvg},
		{"PowerFactor", FuncAvg},
		{"thd_l1", FuncAvg},
		{"harmonic_5", FuncAvg},
		{"distortion", FuncAvg},

		// power-like
		{"power", FuncMax},
		{"power_kw", FuncMax},
		{"current_l1", FuncMax},
		{"voltage", FuncMax},
		{"reactive_kvar", FuncMax},

		// default
		{"frequency", FuncSum},
		{"temperature", FuncSum},
		{"id", FuncSum},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.column))
		})
	}
}

func TestParseGrouping(t *testing.T) {
	for _, s := range []string{"none", "hourly", "daily", "weekly", "monthly", "Daily"} {
		g, err := ParseGrouping(s)
		require.NoError(t, err, s)
		assert.True(t, g.valid())
	}

	g, err := ParseGrouping("")
	require.NoError(t, err)
	assert.Equal(t, GroupNone, g)

	_, err = ParseGrouping("yearly")
	require.ErrorIs(t, err, ErrUnsupportedGrouping)
	require.ErrorContains(t, err, "unsupported grouping type")
}

func TestGrouping_Bucketed(t *testing.T) {
	assert.False(t, GroupNone.Bucketed())
	assert.True(t, GroupHourly.Bucketed())
	assert.True(t, GroupMonthly.Bucketed())
}
