// Package upsert converges parsed feed candidates into persisted station and
// price state with the fewest writes possible.
package upsert

import (
	"github.com/sells-group/fuel-index/internal/model"
)

// StationPlan partitions station candidates against the stored rows.
type StationPlan struct {
	Insert    []model.Station
	Update    []model.Station
	Unchanged int
}

// PlanStations splits candidates into new stations, stations with at least
// one changed mutable attribute, and stations left as they are.
func PlanStations(candidates []model.Station, existing map[string]model.Station) StationPlan {
	var plan StationPlan
	for _, c := range candidates {
		cur, ok := existing[c.ID]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, c)
		case c.DiffersFrom(cur):
			plan.Update = append(plan.Update, c)
		default:
			plan.Unchanged++
		}
	}
	return plan
}

// DedupPrices collapses candidates sharing a composite key to the one with
// the latest ValidFrom. On equal timestamps the later row in the feed wins.
// Output keeps the first-seen order of keys. The second return value is the
// number of dropped candidates.
func DedupPrices(candidates []model.Price) ([]model.Price, int) {
	idx := make(map[model.PriceKey]int, len(candidates))
	out := make([]model.Price, 0, len(candidates))
	for _, c := range candidates {
		k := c.Key()
		i, seen := idx[k]
		if !seen {
			idx[k] = len(out)
			out = append(out, c)
			continue
		}
		if !c.ValidFrom.Before(out[i].ValidFrom) {
			out[i] = c
		}
	}
	return out, len(candidates) - len(out)
}

// PricePlan partitions deduplicated price candidates against stored rows.
type PricePlan struct {
	Insert     []model.Price
	Update     []model.Price // value moved beyond PriceEpsilon; also written to history
	Unchanged  int
	Duplicates int
}

// PlanPrices dedups candidates and diffs them against the current rows.
func PlanPrices(candidates []model.Price, existing map[model.PriceKey]model.Price) PricePlan {
	deduped, dups := DedupPrices(candidates)
	plan := PricePlan{Duplicates: dups}
	for _, c := range deduped {
		cur, ok := existing[c.Key()]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, c)
		case model.PriceChanged(cur.Price, c.Price):
			plan.Update = append(plan.Update, c)
		default:
			plan.Unchanged++
		}
	}
	return plan
}

// StationIDs returns the distinct station IDs referenced by prices.
func StationIDs(prices []model.Price) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range prices {
		if !seen[p.StationID] {
			seen[p.StationID] = true
			ids = append(ids, p.StationID)
		}
	}
	return ids
}
