package aggregation

import (
	"errors"
	"fmt"
	"strings"
)

// Func is the SQL aggregate applied to a column.
type Func string

const (
	FuncSum Func = "SUM" // cumulative energy counters
	FuncMax Func = "MAX" // instantaneous power, current, voltage
	FuncAvg Func = "AVG" // ratios and quality factors
)

// Pattern sets are matched as case-insensitive substrings. Order matters:
// energy first, then factor, then power.
var (
	energyPatterns = []string{"energy", "kwh", "kvarh", "kvah", "wh", "varh", "vah"}
	factorPatterns = []string{"factor", "thd", "distortion", "harmonic"}
	powerPatterns  = []string{"power", "kw", "kvar", "kva", "w", "var", "va", "current", "voltage"}
)

// Classify picks the aggregate for a column name. Names matching no pattern
// default to SUM.
func Classify(column string) Func {
	name := strings.ToLower(column)
	switch {
	case containsAny(name, energyPatterns):
		return FuncSum
	case containsAny(name, factorPatterns):
		return FuncAvg
	case containsAny(name, powerPatterns):
		return FuncMax
	default:
		return FuncSum
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Grouping selects the time bucketing of an aggregation.
type Grouping string

const (
	GroupNone    Grouping = "none"
	GroupHourly  Grouping = "hourly"
	GroupDaily   Grouping = "daily"
	GroupWeekly  Grouping = "weekly"
	GroupMonthly Grouping = "monthly"
)

// ErrUnsupportedGrouping is returned for any grouping outside the five modes.
var ErrUnsupportedGrouping = errors.New("unsupported grouping type")

// ParseGrouping accepts the five grouping names. An empty string means none.
func ParseGrouping(s string) (Grouping, error) {
	g := Grouping(strings.ToLower(strings.TrimSpace(s)))
	if g == "" {
		return GroupNone, nil
	}
	if !g.valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGrouping, s)
	}
	return g, nil
}

func (g Grouping) valid() bool {
	switch g {
	case GroupNone, GroupHourly, GroupDaily, GroupWeekly, GroupMonthly:
		return true
	default:
		return false
	}
}

// Bucketed reports whether results come back as a time series.
func (g Grouping) Bucketed() bool {
	return g != GroupNone && g != ""
}
