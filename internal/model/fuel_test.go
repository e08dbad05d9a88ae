package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuelType(t *testing.T) {
	ft, err := ParseFuelType(" Premium_Diesel ")
	require.NoError(t, err)
	assert.Equal(t, FuelPremiumDiesel, ft)

	_, err = ParseFuelType("kerosene")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fuel type")
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("")
	require.NoError(t, err)
	assert.Equal(t, ScheduleDay, s)

	s, err = ParseSchedule("NIGHT")
	require.NoError(t, err)
	assert.Equal(t, ScheduleNight, s)

	_, err = ParseSchedule("evening")
	assert.Error(t, err)
}

func TestPriceChanged(t *testing.T) {
	base := decimal.RequireFromString("899.990")
	assert.False(t, PriceChanged(base, decimal.RequireFromString("899.994")))
	assert.False(t, PriceChanged(base, decimal.RequireFromString("899.995")))
	assert.True(t, PriceChanged(base, decimal.RequireFromString("900.000")))
	assert.True(t, PriceChanged(base, decimal.RequireFromString("850")))
}

func TestStationDiffersFrom(t *testing.T) {
	a := Station{ID: "1", Name: "YPF Centro", Latitude: -34.6037, Longitude: -58.3816}

	b := a
	b.Latitude += 1e-9
	assert.False(t, a.DiffersFrom(b), "sub-epsilon coordinate drift is not a change")

	b.Latitude += 1e-3
	assert.True(t, a.DiffersFrom(b))

	c := a
	c.Company = "SHELL"
	assert.True(t, a.DiffersFrom(c))

	d := a
	d.Source = "manual"
	assert.True(t, a.DiffersFrom(d), "source tag is a mutable attribute")
}

func TestPriceKey(t *testing.T) {
	p := Price{StationID: " 42 ", FuelType: FuelDiesel, Schedule: ScheduleNight, Source: SourceOfficial}
	assert.Equal(t, NewPriceKey("42", FuelDiesel, ScheduleNight, SourceOfficial), p.Key())
	assert.Equal(t, "42|diesel|night|official", p.Key().String())
}

func TestHistoryOf(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Price{StationID: "1", FuelType: FuelCNG, Schedule: ScheduleDay, Source: SourceOfficial,
		Price: decimal.NewFromInt(500), ValidFrom: now.Add(-time.Hour), Validated: true}
	h := HistoryOf(p, now)
	assert.Equal(t, p.Price, h.Price)
	assert.Equal(t, p.ValidFrom, h.ValidFrom)
	assert.True(t, h.Validated)
	assert.Equal(t, now, h.RecordedAt)
}
