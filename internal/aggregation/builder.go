package aggregation

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const (
	readingsTable    = "meter_readings"
	bucketStartAlias = "bucket_start"
	bucketHourAlias  = "bucket_hour"
)

// scopeClause is shared by every grouping. The upper bound is inclusive.
const scopeClause = `tenant_id = $1 AND meter_element_id = $2 AND created_at >= $3 AND created_at <= $4`

// columnIdent quotes a readings column the way PostgreSQL would resolve it
// unquoted: folded to lower case.
func columnIdent(name string) string {
	return pq.QuoteIdentifier(strings.ToLower(name))
}

// BuildQuery validates req and assembles the aggregate query for grouping.
// Every column is emitted as FUNC("col") AS "Requested" so results key by
// the requested name whatever its case.
func BuildQuery(req Request, grouping Grouping) (Query, error) {
	if !grouping.valid() {
		return Query{}, fmt.Errorf("%w: %q", ErrUnsupportedGrouping, string(grouping))
	}
	w, err := validate(req)
	if err != nil {
		return Query{}, err
	}

	aggs := make([]string, len(req.SelectedColumns))
	for i, c := range req.SelectedColumns {
		aggs[i] = fmt.Sprintf("%s(%s) AS %s", Classify(c), columnIdent(c), pq.QuoteIdentifier(c))
	}
	selectList := strings.Join(aggs, ", ")
	from := fmt.Sprintf("FROM %s WHERE %s", readingsTable, scopeClause)

	var sql string
	switch grouping {
	case GroupNone:
		sql = fmt.Sprintf("SELECT %s %s", selectList, from)
	case GroupHourly:
		sql = fmt.Sprintf(
			"SELECT DATE(created_at) AS %[1]s, EXTRACT(HOUR FROM created_at)::int AS %[2]s, %[3]s %[4]s GROUP BY %[1]s, %[2]s ORDER BY %[1]s ASC, %[2]s ASC",
			bucketStartAlias, bucketHourAlias, selectList, from,
		)
	case GroupDaily:
		sql = fmt.Sprintf(
			"SELECT DATE(created_at) AS %[1]s, %[2]s %[3]s GROUP BY %[1]s ORDER BY %[1]s ASC",
			bucketStartAlias, selectList, from,
		)
	case GroupWeekly:
		sql = fmt.Sprintf(
			"SELECT DATE_TRUNC('week', created_at) AS %[1]s, %[2]s %[3]s GROUP BY %[1]s ORDER BY %[1]s ASC",
			bucketStartAlias, selectList, from,
		)
	case GroupMonthly:
		sql = fmt.Sprintf(
			"SELECT DATE_TRUNC('month', created_at) AS %[1]s, %[2]s %[3]s GROUP BY %[1]s ORDER BY %[1]s ASC",
			bucketStartAlias, selectList, from,
		)
	}

	return Query{
		SQL:  sql,
		Args: []any{req.TenantID, req.MeterElementID, w.start, w.end},
	}, nil
}
