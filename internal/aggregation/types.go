package aggregation

import "time"

// Request asks for aggregated readings of one meter element.
type Request struct {
	MeterElementID  int64    `json:"meterElementId"`
	TenantID        int64    `json:"tenantId"`
	SelectedColumns []string `json:"selectedColumns"`
	StartDate       string   `json:"startDate"` // 2006-01-02 or RFC3339
	EndDate         string   `json:"endDate"`
	Grouping        Grouping `json:"grouping,omitempty"`
}

// Query is a built SQL statement and its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Row maps requested column names to aggregate values. A nil value is SQL NULL.
type Row map[string]*float64

// Bucket is one time slot of a bucketed aggregation. Hour is set only for
// hourly grouping.
type Bucket struct {
	Start  time.Time `json:"start"`
	Hour   *int      `json:"hour,omitempty"`
	Values Row       `json:"values"`
}

// Result holds the outcome of AggregateCardData: Row for grouping none,
// Buckets otherwise.
type Result struct {
	Grouping Grouping `json:"grouping"`
	Row      Row      `json:"row,omitempty"`
	Buckets  []Bucket `json:"buckets,omitempty"`
}

// ColumnCheck splits candidate names into real and unknown readings columns.
type ColumnCheck struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
	IsValid bool     `json:"isValid"`
}

// ColumnStats is a diagnostic summary of one column for one meter element.
type ColumnStats struct {
	Column        string   `json:"column"`
	Count         int64    `json:"count"`
	DistinctCount int64    `json:"distinctCount"`
	Min           *float64 `json:"min"`
	Max           *float64 `json:"max"`
	Avg           *float64 `json:"avg"`
	Sum           *float64 `json:"sum"`
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if v == nil {
			out[k] = nil
			continue
		}
		f := *v
		out[k] = &f
	}
	return out
}

func cloneBuckets(in []Bucket) []Bucket {
	out := make([]Bucket, len(in))
	for i, b := range in {
		out[i] = Bucket{Start: b.Start, Values: b.Values.clone()}
		if b.Hour != nil {
			h := *b.Hour
			out[i].Hour = &h
		}
	}
	return out
}
