package consolidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	officialCols = []string{"id", "station_id", "fuel_type", "schedule", "price", "valid_from", "validated", "reported_at"}
	crowdCols    = []string{"station_id", "fuel_type", "schedule", "avg", "count", "min", "max", "last"}
)

func newService(mock pgxmock.PgxPoolIface) *Service {
	s := NewService(NewStore(mock), DefaultConfig())
	s.now = func() time.Time { return now }
	return s
}

func expectOfficial(mock pgxmock.PgxPoolIface, prices ...model.Price) {
	rows := pgxmock.NewRows(officialCols)
	for i, p := range prices {
		rows.AddRow(int64(i+1), p.StationID, string(p.FuelType), string(p.Schedule), p.Price, p.ValidFrom, p.Validated, p.ValidFrom)
	}
	mock.ExpectQuery("SELECT DISTINCT ON \\(p.station_id, p.fuel_type, p.schedule\\) .+ FROM fuel.prices p").
		WillReturnRows(rows)
}

func expectCrowd(mock pgxmock.PgxPoolIface, aggs ...CrowdAggregate) {
	rows := pgxmock.NewRows(crowdCols)
	for _, a := range aggs {
		rows.AddRow(a.StationID, string(a.FuelType), string(a.Schedule), a.Average, int64(a.Count), a.Min, a.Max, a.LastReportAt)
	}
	mock.ExpectQuery("FROM fuel.crowd_reports c .+ GROUP BY c.station_id, c.fuel_type, c.schedule").
		WillReturnRows(rows)
}

func TestConsolidate_AppliesOverrideAndCaches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectOfficial(mock, official("s1", model.FuelRegular, model.ScheduleDay, "850", 40*day))
	expectCrowd(mock, crowd("s1", model.FuelRegular, model.ScheduleDay, "900", 2))

	svc := newService(mock)
	q := Query{StationIDs: []string{"s1"}, Schedule: model.ScheduleDay}

	res, err := svc.Consolidate(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, res.CrowdDegraded)
	require.Len(t, res.Prices["s1"], 1)
	assert.True(t, res.Prices["s1"][0].UsingCrowdPrice)
	assert.Len(t, res.Crowd["s1"], 1)

	// served from cache, no further queries
	again, err := svc.Consolidate(context.Background(), q)
	require.NoError(t, err)
	assert.Same(t, res, again)
	assert.Equal(t, int64(1), svc.CacheStats().Hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsolidate_InvalidateStationForcesReload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectOfficial(mock, official("s1", model.FuelRegular, model.ScheduleDay, "850", day))
	expectCrowd(mock)
	expectOfficial(mock, official("s1", model.FuelRegular, model.ScheduleDay, "870", 0))
	expectCrowd(mock)

	svc := newService(mock)
	q := Query{StationIDs: []string{"s1", "s2"}}

	first, err := svc.Consolidate(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, first.Prices["s1"][0].Price.Equal(dec("850")))

	assert.Equal(t, 0, svc.InvalidateStation("s9"))
	assert.Equal(t, 1, svc.InvalidateStation("s2"))

	second, err := svc.Consolidate(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Prices["s1"][0].Price.Equal(dec("870")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsolidate_CrowdFailureDegradesAndSkipsCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 2 {
		expectOfficial(mock, official("s1", model.FuelRegular, model.ScheduleDay, "850", 40*day))
		mock.ExpectQuery("FROM fuel.crowd_reports").WillReturnError(errors.New("relation does not exist"))
	}

	svc := newService(mock)
	q := Query{StationIDs: []string{"s1"}}

	for range 2 {
		res, err := svc.Consolidate(context.Background(), q)
		require.NoError(t, err)
		assert.True(t, res.CrowdDegraded)
		require.Len(t, res.Prices["s1"], 1)
		v := res.Prices["s1"][0]
		assert.True(t, v.AdjustedPrice.Equal(dec("850")))
		assert.False(t, v.UsingCrowdPrice)
		assert.Empty(t, res.Crowd)
	}
	assert.Equal(t, 0, svc.CacheStats().Entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsolidate_OfficialFailureIsFatal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM fuel.prices").WillReturnError(errors.New("connection reset"))

	_, err = newService(mock).Consolidate(context.Background(), Query{StationIDs: []string{"s1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consolidate: query official prices")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsolidate_NoStationsSkipsQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	res, err := newService(mock).Consolidate(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, res.Prices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CrowdAggregatesRoundsAverage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := crowd("s1", model.FuelRegular, model.ScheduleDay, "0", 3)
	a.Average = dec("866.6666666")
	expectCrowd(mock, a)

	out, err := NewStore(mock).CrowdAggregates(context.Background(), Query{StationIDs: []string{"s1"}}, now.Add(-5*day))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Average.Equal(dec("866.667")), out[0].Average.String())
	assert.Equal(t, 3, out[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_OfficialPricesIgnoresPriceRange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("WHERE p.source = \\$1 AND p.station_id = ANY\\(\\$2\\) ORDER BY").
		WithArgs("official", []string{"s1"}).
		WillReturnRows(pgxmock.NewRows(officialCols).
			AddRow(int64(1), "s1", "regular", "day", dec("1200"), now.Add(-day), true, now.Add(-day)))

	lo, hi := dec("800"), dec("1000")
	out, err := NewStore(mock).OfficialPrices(context.Background(), Query{StationIDs: []string{"s1"}, MinPrice: &lo, MaxPrice: &hi}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Price.Equal(dec("1200")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
