package upsert

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fuel-index/internal/model"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func price(station string, ft model.FuelType, sch model.Schedule, amount string, validFrom time.Time) model.Price {
	return model.Price{
		StationID: station,
		FuelType:  ft,
		Schedule:  sch,
		Price:     decimal.RequireFromString(amount),
		ValidFrom: validFrom,
		Source:    model.SourceOfficial,
		Validated: true,
	}
}

func station(id, name string, lat, lng float64) model.Station {
	return model.Station{ID: id, Name: name, Company: "YPF", Province: "Salta", Region: "NOA", Latitude: lat, Longitude: lng}
}

func TestDedupPrices_LatestValidityWins(t *testing.T) {
	in := []model.Price{
		price("1", model.FuelRegular, model.ScheduleDay, "900", t0.Add(48*time.Hour)),
		price("1", model.FuelRegular, model.ScheduleDay, "850", t0),
		price("1", model.FuelRegular, model.ScheduleDay, "950", t0.Add(72*time.Hour)),
		price("1", model.FuelRegular, model.ScheduleNight, "700", t0),
		price("2", model.FuelRegular, model.ScheduleDay, "800", t0),
	}

	out, dropped := DedupPrices(in)

	require.Len(t, out, 3)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "950", out[0].Price.String())
	assert.Equal(t, model.ScheduleNight, out[1].Schedule)
	assert.Equal(t, "2", out[2].StationID)
}

func TestDedupPrices_TieKeepsLaterRow(t *testing.T) {
	out, _ := DedupPrices([]model.Price{
		price("1", model.FuelCNG, model.ScheduleDay, "300", t0),
		price("1", model.FuelCNG, model.ScheduleDay, "310", t0),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "310", out[0].Price.String())
}

func TestDedupPrices_KeyTrimsStationID(t *testing.T) {
	out, dropped := DedupPrices([]model.Price{
		price("1", model.FuelCNG, model.ScheduleDay, "300", t0),
		price(" 1 ", model.FuelCNG, model.ScheduleDay, "310", t0.Add(time.Hour)),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, "310", out[0].Price.String())
}

func TestPlanStations(t *testing.T) {
	existing := map[string]model.Station{
		"1": station("1", "A", -24.7, -65.4),
		"2": station("2", "B", -24.7, -65.4),
		"3": station("3", "C", -24.7, -65.4),
	}
	candidates := []model.Station{
		station("1", "A", -24.7+1e-8, -65.4), // within epsilon
		station("2", "B renamed", -24.7, -65.4),
		station("3", "C", -24.71, -65.4), // moved
		station("4", "D", -24.7, -65.4),
	}

	plan := PlanStations(candidates, existing)

	assert.Equal(t, 1, plan.Unchanged)
	require.Len(t, plan.Insert, 1)
	assert.Equal(t, "4", plan.Insert[0].ID)
	require.Len(t, plan.Update, 2)
	assert.Equal(t, "2", plan.Update[0].ID)
	assert.Equal(t, "3", plan.Update[1].ID)
}

func TestPlanStations_SourceChangeIsAnUpdate(t *testing.T) {
	cur := station("1", "A", -24.7, -65.4)
	cur.Source = "official_feed"
	next := cur
	next.Source = "official_feed_v2"

	plan := PlanStations([]model.Station{next}, map[string]model.Station{"1": cur})

	assert.Zero(t, plan.Unchanged)
	require.Len(t, plan.Update, 1)
	assert.Equal(t, "official_feed_v2", plan.Update[0].Source)
}

func TestPlanPrices(t *testing.T) {
	cur := price("1", model.FuelRegular, model.ScheduleDay, "900.000", t0)
	existing := map[model.PriceKey]model.Price{cur.Key(): cur}

	t.Run("within epsilon is unchanged", func(t *testing.T) {
		plan := PlanPrices([]model.Price{price("1", model.FuelRegular, model.ScheduleDay, "900.004", t0.Add(time.Hour))}, existing)
		assert.Equal(t, 1, plan.Unchanged)
		assert.Empty(t, plan.Update)
		assert.Empty(t, plan.Insert)
	})

	t.Run("beyond epsilon is updated", func(t *testing.T) {
		plan := PlanPrices([]model.Price{price("1", model.FuelRegular, model.ScheduleDay, "910", t0.Add(time.Hour))}, existing)
		require.Len(t, plan.Update, 1)
		assert.Equal(t, "910", plan.Update[0].Price.String())
	})

	t.Run("other schedule is inserted", func(t *testing.T) {
		plan := PlanPrices([]model.Price{price("1", model.FuelRegular, model.ScheduleNight, "900", t0)}, existing)
		require.Len(t, plan.Insert, 1)
	})

	t.Run("crowd row with same station is a different key", func(t *testing.T) {
		c := price("1", model.FuelRegular, model.ScheduleDay, "900", t0)
		c.Source = model.SourceCrowd
		plan := PlanPrices([]model.Price{c}, existing)
		require.Len(t, plan.Insert, 1)
	})
}

// applyPlan mimics the store writes for an in-memory idempotence check.
func applyPlan(stations map[string]model.Station, prices map[model.PriceKey]model.Price, sp StationPlan, pp PricePlan) {
	for _, s := range append(sp.Insert, sp.Update...) {
		stations[s.ID] = s
	}
	for _, p := range append(pp.Insert, pp.Update...) {
		prices[p.Key()] = p
	}
}

func TestPlan_IdempotentSecondRun(t *testing.T) {
	stations := []model.Station{station("1", "A", -24.7, -65.4), station("2", "B", -31.4, -64.2)}
	prices := []model.Price{
		price("1", model.FuelRegular, model.ScheduleDay, "900", t0),
		price("1", model.FuelRegular, model.ScheduleDay, "905", t0.Add(time.Hour)),
		price("1", model.FuelDiesel, model.ScheduleDay, "1000", t0),
		price("2", model.FuelCNG, model.ScheduleNight, "400", t0),
	}

	storedStations := map[string]model.Station{}
	storedPrices := map[model.PriceKey]model.Price{}

	sp := PlanStations(stations, storedStations)
	pp := PlanPrices(prices, storedPrices)
	assert.Len(t, sp.Insert, 2)
	assert.Len(t, pp.Insert, 3)
	applyPlan(storedStations, storedPrices, sp, pp)

	sp = PlanStations(stations, storedStations)
	pp = PlanPrices(prices, storedPrices)
	assert.Empty(t, sp.Insert)
	assert.Empty(t, sp.Update)
	assert.Equal(t, 2, sp.Unchanged)
	assert.Empty(t, pp.Insert)
	assert.Empty(t, pp.Update)
	assert.Equal(t, 3, pp.Unchanged)
	assert.Equal(t, "905", storedPrices[model.NewPriceKey("1", model.FuelRegular, model.ScheduleDay, model.SourceOfficial)].Price.String())
}

func TestStationIDs(t *testing.T) {
	ids := StationIDs([]model.Price{
		price("b", model.FuelCNG, model.ScheduleDay, "1", t0),
		price("a", model.FuelCNG, model.ScheduleDay, "1", t0),
		price("b", model.FuelDiesel, model.ScheduleDay, "1", t0),
	})
	assert.Equal(t, []string{"b", "a"}, ids)
}
