package consolidate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/fuel-index/internal/model"
)

// FuelSummary is the crowd view of one fuel type on the detail page.
type FuelSummary struct {
	FuelType model.FuelType `json:"fuel_type"`
	// Merged is true when day and night averages agreed and were collapsed
	// into All. Otherwise Day and Night are exposed separately.
	Merged bool            `json:"merged"`
	All    *CrowdAggregate `json:"all,omitempty"`
	Day    *CrowdAggregate `json:"day,omitempty"`
	Night  *CrowdAggregate `json:"night,omitempty"`
}

// MergeSchedules collapses day and night aggregates of one fuel type when
// their averages are within model.PriceEpsilon. The merged average is
// weighted by report count.
func MergeSchedules(day, night CrowdAggregate) (CrowdAggregate, bool) {
	if model.PriceChanged(day.Average, night.Average) {
		return CrowdAggregate{}, false
	}
	total := day.Count + night.Count
	if total == 0 {
		return CrowdAggregate{}, false
	}

	sum := day.Average.Mul(decimal.NewFromInt(int64(day.Count))).
		Add(night.Average.Mul(decimal.NewFromInt(int64(night.Count))))

	merged := CrowdAggregate{
		StationID:    day.StationID,
		FuelType:     day.FuelType,
		Average:      sum.DivRound(decimal.NewFromInt(int64(total)), 3),
		Count:        total,
		Min:          decimal.Min(day.Min, night.Min),
		Max:          decimal.Max(day.Max, night.Max),
		LastReportAt: day.LastReportAt,
	}
	if night.LastReportAt.After(merged.LastReportAt) {
		merged.LastReportAt = night.LastReportAt
	}
	return merged, true
}

// Summarize builds per-fuel crowd summaries for one station's aggregates.
func Summarize(aggs []CrowdAggregate) []FuelSummary {
	byFuel := make(map[model.FuelType]*FuelSummary)
	for _, a := range aggs {
		s, ok := byFuel[a.FuelType]
		if !ok {
			s = &FuelSummary{FuelType: a.FuelType}
			byFuel[a.FuelType] = s
		}
		agg := a
		switch a.Schedule {
		case model.ScheduleNight:
			s.Night = &agg
		default:
			s.Day = &agg
		}
	}

	out := make([]FuelSummary, 0, len(byFuel))
	for _, s := range byFuel {
		if s.Day != nil && s.Night != nil {
			if merged, ok := MergeSchedules(*s.Day, *s.Night); ok {
				s.All, s.Day, s.Night, s.Merged = &merged, nil, nil, true
			}
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return fuelRank(out[i].FuelType) < fuelRank(out[j].FuelType) })
	return out
}
