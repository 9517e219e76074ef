package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"github.com/aevon-lab/meterflow/internal/core/storage"
)

const (
	queryTableColumns = `SELECT column_name FROM information_schema.columns WHERE table_name = $1 AND column_name = ANY($2)`
)

// Planner runs aggregation queries against the readings table. It holds no
// per-request state and is safe for concurrent use; identical queries in
// flight at the same time share one database round trip.
type Planner struct {
	db    storage.Querier
	group singleflight.Group
}

// NewPlanner creates a planner over db.
func NewPlanner(db storage.Querier) *Planner {
	return &Planner{db: db}
}

// AggregateCardData dispatches on req.Grouping.
func (p *Planner) AggregateCardData(ctx context.Context, req Request) (Result, error) {
	grouping, err := ParseGrouping(string(req.Grouping))
	if err != nil {
		return Result{}, err
	}
	if !grouping.Bucketed() {
		row, err := p.Aggregate(ctx, req)
		if err != nil {
			return Result{}, err
		}
		return Result{Grouping: grouping, Row: row}, nil
	}
	buckets, err := p.AggregateSeries(ctx, req, grouping)
	if err != nil {
		return Result{}, err
	}
	return Result{Grouping: grouping, Buckets: buckets}, nil
}

// Aggregate returns one row over the whole window. When the query yields no
// row at all, every requested column is present with a nil value.
func (p *Planner) Aggregate(ctx context.Context, req Request) (Row, error) {
	q, err := BuildQuery(req, GroupNone)
	if err != nil {
		return nil, err
	}

	v, shared, err := p.share(ctx, q, func(ctx context.Context) (any, error) {
		return p.queryRow(ctx, q, req.SelectedColumns)
	})
	if err != nil {
		return nil, err
	}
	row := v.(Row)
	if shared {
		row = row.clone()
	}
	return row, nil
}

// AggregateHourly buckets by calendar date and hour of day.
func (p *Planner) AggregateHourly(ctx context.Context, req Request) ([]Bucket, error) {
	return p.AggregateSeries(ctx, req, GroupHourly)
}

// AggregateDaily buckets by calendar date.
func (p *Planner) AggregateDaily(ctx context.Context, req Request) ([]Bucket, error) {
	return p.AggregateSeries(ctx, req, GroupDaily)
}

// AggregateWeekly buckets by week start.
func (p *Planner) AggregateWeekly(ctx context.Context, req Request) ([]Bucket, error) {
	return p.AggregateSeries(ctx, req, GroupWeekly)
}

// AggregateMonthly buckets by month start.
func (p *Planner) AggregateMonthly(ctx context.Context, req Request) ([]Bucket, error) {
	return p.AggregateSeries(ctx, req, GroupMonthly)
}

// AggregateSeries returns buckets in ascending time order, or an empty slice
// when nothing matched.
func (p *Planner) AggregateSeries(ctx context.Context, req Request, grouping Grouping) ([]Bucket, error) {
	if !grouping.Bucketed() {
		return nil, fmt.Errorf("%w: %q is not a bucketed grouping", ErrUnsupportedGrouping, string(grouping))
	}
	q, err := BuildQuery(req, grouping)
	if err != nil {
		return nil, err
	}

	v, shared, err := p.share(ctx, q, func(ctx context.Context) (any, error) {
		return p.queryBuckets(ctx, q, req.SelectedColumns, grouping == GroupHourly)
	})
	if err != nil {
		return nil, err
	}
	buckets := v.([]Bucket)
	if shared {
		buckets = cloneBuckets(buckets)
	}
	return buckets, nil
}

// ValidateColumns reports which names are real columns of the readings table.
// Order of the input is preserved in both lists.
func (p *Planner) ValidateColumns(ctx context.Context, names []string) (ColumnCheck, error) {
	check := ColumnCheck{Valid: []string{}, Invalid: []string{}}
	if len(names) == 0 {
		check.IsValid = true
		return check, nil
	}

	folded := make([]string, len(names))
	for i, n := range names {
		folded[i] = strings.ToLower(n)
	}

	rows, err := p.db.QueryContext(ctx, queryTableColumns, readingsTable, pq.Array(folded))
	if err != nil {
		return ColumnCheck{}, fmt.Errorf("query table columns: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return ColumnCheck{}, fmt.Errorf("scan column name: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return ColumnCheck{}, fmt.Errorf("iterate table columns: %w", err)
	}

	for _, n := range names {
		if existing[strings.ToLower(n)] {
			check.Valid = append(check.Valid, n)
		} else {
			check.Invalid = append(check.Invalid, n)
		}
	}
	check.IsValid = len(check.Invalid) == 0
	return check, nil
}

// ColumnStats summarizes one column for a meter element across all time.
func (p *Planner) ColumnStats(ctx context.Context, column string, meterElementID, tenantID int64) (ColumnStats, error) {
	if !columnNamePattern.MatchString(column) {
		return ColumnStats{}, invalidRequestf("invalid column name %q", column)
	}
	if meterElementID == 0 {
		return ColumnStats{}, invalidRequestf("meterElementId is required")
	}
	if tenantID == 0 {
		return ColumnStats{}, invalidRequestf("tenantId is required")
	}

	col := columnIdent(column)
	query := fmt.Sprintf(
		`SELECT COUNT(%[1]s), COUNT(DISTINCT %[1]s), MIN(%[1]s), MAX(%[1]s), AVG(%[1]s), SUM(%[1]s) FROM %[2]s WHERE tenant_id = $1 AND meter_element_id = $2`,
		col, readingsTable,
	)

	rows, err := p.db.QueryContext(ctx, query, tenantID, meterElementID)
	if err != nil {
		return ColumnStats{}, fmt.Errorf("query column stats for %s: %w", column, err)
	}
	defer rows.Close()

	stats := ColumnStats{Column: column}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ColumnStats{}, fmt.Errorf("query column stats for %s: %w", column, err)
		}
		return stats, nil
	}

	var minV, maxV, avgV, sumV sql.NullFloat64
	if err := rows.Scan(&stats.Count, &stats.DistinctCount, &minV, &maxV, &avgV, &sumV); err != nil {
		return ColumnStats{}, fmt.Errorf("scan column stats for %s: %w", column, err)
	}
	stats.Min = nullableFloat(minV)
	stats.Max = nullableFloat(maxV)
	stats.Avg = nullableFloat(avgV)
	stats.Sum = nullableFloat(sumV)
	return stats, nil
}

func (p *Planner) queryRow(ctx context.Context, q Query, columns []string) (Row, error) {
	rows, err := p.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("aggregate query: %w", err)
		}
		return nullRow(columns), nil
	}

	vals := make([]sql.NullFloat64, len(columns))
	dest := make([]any, len(columns))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan aggregate row: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate query: %w", err)
	}
	return toRow(columns, vals), nil
}

func (p *Planner) queryBuckets(ctx context.Context, q Query, columns []string, hourly bool) ([]Bucket, error) {
	rows, err := p.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate series query: %w", err)
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var (
			start time.Time
			hour  sql.NullInt64
		)
		vals := make([]sql.NullFloat64, len(columns))
		dest := make([]any, 0, len(columns)+2)
		dest = append(dest, &start)
		if hourly {
			dest = append(dest, &hour)
		}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}

		b := Bucket{Start: start.UTC(), Values: toRow(columns, vals)}
		if hourly && hour.Valid {
			h := int(hour.Int64)
			b.Hour = &h
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate series query: %w", err)
	}

	slog.Debug("[Planner] Series query complete", "buckets", len(buckets))
	return buckets, nil
}

func nullRow(columns []string) Row {
	row := make(Row, len(columns))
	for _, c := range columns {
		row[c] = nil
	}
	return row
}

func toRow(columns []string, vals []sql.NullFloat64) Row {
	row := make(Row, len(columns))
	for i, c := range columns {
		row[c] = nullableFloat(vals[i])
	}
	return row
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// share runs fn once for every concurrent caller of the same query. The
// shared query is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx ends.
func (p *Planner) share(ctx context.Context, q Query, fn func(context.Context) (any, error)) (any, bool, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(flightKey(q), func() (interface{}, error) {
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, fmt.Errorf("aggregate query: %w", ctx.Err())
	}
}

func flightKey(q Query) string {
	var b strings.Builder
	b.WriteString(q.SQL)
	for _, a := range q.Args {
		fmt.Fprintf(&b, "|%v", a)
	}
	return b.String()
}
