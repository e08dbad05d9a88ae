// Package model defines the stations, prices and crowd reports shared across
// the fuel index.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// FuelType is the canonical fuel grade.
type FuelType string

const (
	FuelRegular       FuelType = "regular"
	FuelPremium       FuelType = "premium"
	FuelDiesel        FuelType = "diesel"
	FuelPremiumDiesel FuelType = "premium_diesel"
	FuelCNG           FuelType = "cng"
)

// FuelTypes lists every fuel type in display order.
var FuelTypes = []FuelType{FuelRegular, FuelPremium, FuelDiesel, FuelPremiumDiesel, FuelCNG}

// ParseFuelType validates a canonical fuel type name.
func ParseFuelType(s string) (FuelType, error) {
	ft := FuelType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range FuelTypes {
		if ft == known {
			return ft, nil
		}
	}
	return "", eris.Errorf("model: unknown fuel type %q", s)
}

// Schedule is the pricing period a price applies to.
type Schedule string

const (
	ScheduleDay   Schedule = "day"
	ScheduleNight Schedule = "night"
)

// ParseSchedule validates a schedule name. Empty input means day.
func ParseSchedule(s string) (Schedule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day":
		return ScheduleDay, nil
	case "night":
		return ScheduleNight, nil
	default:
		return "", eris.Errorf("model: unknown schedule %q", s)
	}
}

// Source tags where a price came from.
type Source string

const (
	SourceOfficial Source = "official"
	SourceCrowd    Source = "crowd"
)

// Station is a fuel station. ID is the identity key from the source feed and
// never changes across re-ingestions.
type Station struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	TaxID     string    `json:"tax_id"`
	Address   string    `json:"address"`
	Locality  string    `json:"locality"`
	Province  string    `json:"province"`
	Region    string    `json:"region"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CoordEpsilon is the tolerance for coordinate comparisons (~10 cm).
const CoordEpsilon = 1e-6

// CoordChanged reports whether two coordinates differ beyond CoordEpsilon.
func CoordChanged(a, b float64) bool {
	return math.Abs(a-b) > CoordEpsilon
}

// DiffersFrom reports whether any mutable attribute of s differs from o.
func (s Station) DiffersFrom(o Station) bool {
	return s.Name != o.Name ||
		s.Company != o.Company ||
		s.TaxID != o.TaxID ||
		s.Address != o.Address ||
		s.Locality != o.Locality ||
		s.Province != o.Province ||
		s.Region != o.Region ||
		s.Source != o.Source ||
		CoordChanged(s.Latitude, o.Latitude) ||
		CoordChanged(s.Longitude, o.Longitude)
}

// Price is the current price for one composite key.
type Price struct {
	ID         int64           `json:"id,omitempty"`
	StationID  string          `json:"station_id"`
	FuelType   FuelType        `json:"fuel_type"`
	Schedule   Schedule        `json:"schedule"`
	Price      decimal.Decimal `json:"price"`
	ValidFrom  time.Time       `json:"valid_from"`
	Source     Source          `json:"source"`
	Validated  bool            `json:"validated"`
	ReportedAt time.Time       `json:"reported_at"`
}

// Key returns the composite key of p.
func (p Price) Key() PriceKey {
	return NewPriceKey(p.StationID, p.FuelType, p.Schedule, p.Source)
}

// PriceHistory is an immutable snapshot written when a price value changes.
type PriceHistory struct {
	ID         int64           `json:"id"`
	StationID  string          `json:"station_id"`
	FuelType   FuelType        `json:"fuel_type"`
	Schedule   Schedule        `json:"schedule"`
	Source     Source          `json:"source"`
	Price      decimal.Decimal `json:"price"`
	ValidFrom  time.Time       `json:"valid_from"`
	Validated  bool            `json:"validated"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// HistoryOf snapshots p.
func HistoryOf(p Price, at time.Time) PriceHistory {
	return PriceHistory{
		StationID:  p.StationID,
		FuelType:   p.FuelType,
		Schedule:   p.Schedule,
		Source:     p.Source,
		Price:      p.Price,
		ValidFrom:  p.ValidFrom,
		Validated:  p.Validated,
		RecordedAt: at,
	}
}

// CrowdReport is a single user-submitted price observation.
type CrowdReport struct {
	ID        int64           `json:"id"`
	StationID string          `json:"station_id"`
	UserID    string          `json:"user_id"`
	FuelType  FuelType        `json:"fuel_type"`
	Schedule  Schedule        `json:"schedule"`
	Price     decimal.Decimal `json:"price"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PriceKey is the unit of uniqueness for a current price row:
// (station, fuel type, schedule, source). Both the write path and the
// prefetch lookup build keys through NewPriceKey.
type PriceKey struct {
	StationID string
	FuelType  FuelType
	Schedule  Schedule
	Source    Source
}

// NewPriceKey builds a composite key.
func NewPriceKey(stationID string, ft FuelType, sch Schedule, src Source) PriceKey {
	return PriceKey{
		StationID: strings.TrimSpace(stationID),
		FuelType:  ft,
		Schedule:  sch,
		Source:    src,
	}
}

func (k PriceKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.StationID, k.FuelType, k.Schedule, k.Source)
}

// PriceEpsilon is the tolerance below which two prices are considered equal.
var PriceEpsilon = decimal.RequireFromString("0.005")

// PriceChanged reports whether a and b differ by more than PriceEpsilon.
func PriceChanged(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(PriceEpsilon)
}
