package aggregation

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPlanner(t *testing.T) (*Planner, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewPlanner(db), mock, db
}

func mustBuild(t *testing.T, req Request, g Grouping) Query {
	t.Helper()
	q, err := BuildQuery(req, g)
	require.NoError(t, err)
	return q
}

func TestPlanner_Aggregate_ReturnsRowUnchanged(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WithArgs(int64(1), int64(5), q.Args[2], q.Args[3]).
		WillReturnRows(sqlmock.NewRows([]string{"active_energy", "power", "power_factor"}).
			AddRow(1250.5, 45.25, 0.95))

	row, err := planner.Aggregate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, 1250.5, *row["active_energy"])
	assert.Equal(t, 45.25, *row["power"])
	assert.Equal(t, 0.95, *row["power_factor"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_Aggregate_NoRowsYieldsNullForEveryColumn(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"active_energy", "power", "power_factor"}))

	row, err := planner.Aggregate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, row, 3)
	for _, c := range req.SelectedColumns {
		v, ok := row[c]
		require.True(t, ok, c)
		assert.Nil(t, v, c)
	}
}

func TestPlanner_Aggregate_NullAggregatesPassThrough(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"active_energy", "power", "power_factor"}).
			AddRow(nil, 12.0, nil))

	row, err := planner.Aggregate(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, row["active_energy"])
	assert.Equal(t, 12.0, *row["power"])
	assert.Nil(t, row["power_factor"])
}

func TestPlanner_Aggregate_QueryErrorPropagates(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	boom := errors.New("connection reset")
	q := mustBuild(t, validRequest(), GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).WillReturnError(boom)

	_, err := planner.Aggregate(context.Background(), validRequest())
	require.ErrorIs(t, err, boom)
}

func TestPlanner_Aggregate_ValidationBeforeQuery(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	req.EndDate = req.StartDate
	_, err := planner.Aggregate(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_AggregateDaily_EmptyIsEmptySlice(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupDaily)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "active_energy", "power", "power_factor"}))

	buckets, err := planner.AggregateDaily(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, buckets)
	assert.Empty(t, buckets)
}

func TestPlanner_AggregateDaily_OrderedBuckets(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupDaily)
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "active_energy", "power", "power_factor"}).
			AddRow(d1, 100.0, 10.0, 0.9).
			AddRow(d2, 110.0, 12.0, 0.91).
			AddRow(d3, 90.0, nil, 0.88))

	buckets, err := planner.AggregateDaily(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	for i := 1; i < len(buckets); i++ {
		assert.False(t, buckets[i].Start.Before(buckets[i-1].Start))
	}
	assert.Equal(t, d1, buckets[0].Start)
	assert.Nil(t, buckets[0].Hour)
	assert.Equal(t, 110.0, *buckets[1].Values["active_energy"])
	assert.Nil(t, buckets[2].Values["power"])
}

func TestPlanner_AggregateHourly_ScansHour(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	req.SelectedColumns = []string{"power"}
	q := mustBuild(t, req, GroupHourly)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "bucket_hour", "power"}).
			AddRow(day, int64(0), 40.0).
			AddRow(day, int64(1), 42.5))

	buckets, err := planner.AggregateHourly(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.NotNil(t, buckets[1].Hour)
	assert.Equal(t, 1, *buckets[1].Hour)
	assert.Equal(t, 42.5, *buckets[1].Values["power"])
}

func TestPlanner_WeeklyAndMonthlyUseTruncation(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	req.SelectedColumns = []string{"active_energy"}
	week := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	qw := mustBuild(t, req, GroupWeekly)
	mock.ExpectQuery(regexp.QuoteMeta(qw.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "active_energy"}).AddRow(week, 700.0))
	qm := mustBuild(t, req, GroupMonthly)
	mock.ExpectQuery(regexp.QuoteMeta(qm.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "active_energy"}).AddRow(week, 3100.0))

	weekly, err := planner.AggregateWeekly(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, 700.0, *weekly[0].Values["active_energy"])

	monthly, err := planner.AggregateMonthly(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, 3100.0, *monthly[0].Values["active_energy"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_AggregateCardData(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	req.Grouping = "yearly"
	_, err := planner.AggregateCardData(context.Background(), req)
	require.ErrorIs(t, err, ErrUnsupportedGrouping)
	require.ErrorContains(t, err, "unsupported grouping type")

	req.Grouping = GroupDaily
	q := mustBuild(t, req, GroupDaily)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "active_energy", "power", "power_factor"}))

	res, err := planner.AggregateCardData(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, GroupDaily, res.Grouping)
	assert.Empty(t, res.Buckets)
	assert.Nil(t, res.Row)

	req.Grouping = ""
	q = mustBuild(t, req, GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"active_energy", "power", "power_factor"}))

	res, err = planner.AggregateCardData(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, GroupNone, res.Grouping)
	assert.Len(t, res.Row, 3)
}

func TestPlanner_AggregateSeries_RejectsNone(t *testing.T) {
	planner, _, db := newMockPlanner(t)
	defer db.Close()

	_, err := planner.AggregateSeries(context.Background(), validRequest(), GroupNone)
	require.ErrorIs(t, err, ErrUnsupportedGrouping)
}

func TestPlanner_ValidateColumns(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	names := []string{"power", "bogus", "active_energy"}
	mock.ExpectQuery(regexp.QuoteMeta(queryTableColumns)).
		WithArgs("meter_readings", pq.Array(names)).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("active_energy").
			AddRow("power"))

	check, err := planner.ValidateColumns(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, []string{"power", "active_energy"}, check.Valid)
	assert.Equal(t, []string{"bogus"}, check.Invalid)
	assert.False(t, check.IsValid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_ValidateColumns_Error(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryTableColumns)).WillReturnError(errors.New("permission denied"))

	_, err := planner.ValidateColumns(context.Background(), []string{"power"})
	require.ErrorContains(t, err, "query table columns")
}

func TestPlanner_ColumnStats(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT("power"), COUNT(DISTINCT "power"), MIN("power"), MAX("power"), AVG("power"), SUM("power") FROM meter_readings WHERE tenant_id = $1 AND meter_element_id = $2`)).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count", "min", "max", "avg", "sum"}).
			AddRow(int64(4), int64(3), 10.0, 40.0, 25.0, 100.0))

	stats, err := planner.ColumnStats(context.Background(), "power", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "power", stats.Column)
	assert.Equal(t, int64(4), stats.Count)
	assert.Equal(t, int64(3), stats.DistinctCount)
	assert.Equal(t, 10.0, *stats.Min)
	assert.Equal(t, 40.0, *stats.Max)
	assert.Equal(t, 25.0, *stats.Avg)
	assert.Equal(t, 100.0, *stats.Sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_ColumnStats_RejectsBadColumn(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	_, err := planner.ColumnStats(context.Background(), `power"; --`, 5, 1)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_Aggregate_CancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	req := validRequest()
	q := mustBuild(t, req, GroupNone)
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"active_energy", "power", "power_factor"}).
			AddRow(10.0, 2.0, 0.9))

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := planner.Aggregate(shortCtx, req)
		shortErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	row, err := planner.Aggregate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 10.0, *row["active_energy"])

	require.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_ValidateColumns_MixedCase(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryTableColumns)).
		WithArgs("meter_readings", pq.Array([]string{"power", "voltage_l1"})).
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("power"))

	check, err := planner.ValidateColumns(context.Background(), []string{"Power", "Voltage_L1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Power"}, check.Valid)
	assert.Equal(t, []string{"Voltage_L1"}, check.Invalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanner_ColumnStats_MixedCaseColumn(t *testing.T) {
	planner, mock, db := newMockPlanner(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT("power"), COUNT(DISTINCT "power")`)).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count", "min", "max", "avg", "sum"}).
			AddRow(int64(1), int64(1), 3.0, 3.0, 3.0, 3.0))

	stats, err := planner.ColumnStats(context.Background(), "POWER", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "POWER", stats.Column)
	require.NoError(t, mock.ExpectationsWereMet())
}
