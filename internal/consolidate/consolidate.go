// Package consolidate merges official prices with recent crowd reports into
// the price view returned to callers.
package consolidate

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/cache"
	"github.com/sells-group/fuel-index/internal/model"
)

// Config holds the consolidation windows.
type Config struct {
	CrowdWindow    time.Duration // crowd reports older than this are ignored
	StaleAfter     time.Duration // official prices older than this may be overridden
	OfficialRowCap int
	CacheTTL       time.Duration
	CacheEntries   int
}

// DefaultConfig returns the stock consolidation settings.
func DefaultConfig() Config {
	return Config{
		CrowdWindow:    5 * 24 * time.Hour,
		StaleAfter:     30 * 24 * time.Hour,
		OfficialRowCap: 5000,
		CacheTTL:       time.Hour,
		CacheEntries:   2048,
	}
}

// Query selects what to consolidate. An empty Schedule means both.
type Query struct {
	StationIDs []string
	Schedule   model.Schedule
	FuelType   *model.FuelType
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
}

// CacheKey identifies q regardless of station ID order.
func (q Query) CacheKey() string {
	ids := slices.Clone(q.StationIDs)
	sort.Strings(ids)
	ids = slices.Compact(ids)

	var b strings.Builder
	b.WriteString(string(q.Schedule))
	b.WriteByte('|')
	if q.FuelType != nil {
		b.WriteString(string(*q.FuelType))
	}
	b.WriteByte('|')
	if q.MinPrice != nil {
		b.WriteString(q.MinPrice.String())
	}
	b.WriteByte('|')
	if q.MaxPrice != nil {
		b.WriteString(q.MaxPrice.String())
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(ids, ","))
	return b.String()
}

// PriceView is one consolidated price. Price/Source/Validated describe the
// stored row; Adjusted* is what should be displayed.
type PriceView struct {
	StationID       string          `json:"station_id"`
	FuelType        model.FuelType  `json:"fuel_type"`
	Schedule        model.Schedule  `json:"schedule"`
	Price           decimal.Decimal `json:"price"`
	Source          model.Source    `json:"source"`
	Validated       bool            `json:"validated"`
	ValidFrom       time.Time       `json:"valid_from"`
	AgeDays         int             `json:"age_days"`
	AdjustedPrice   decimal.Decimal `json:"adjusted_price"`
	AdjustedSource  model.Source    `json:"adjusted_source"`
	UsingCrowdPrice bool            `json:"using_crowd_price"`
	Crowd           *CrowdAggregate `json:"crowd,omitempty"`
}

// Result is the consolidated view for a set of stations.
type Result struct {
	Prices map[string][]PriceView      // by station ID
	Crowd  map[string][]CrowdAggregate // by station ID
	// CrowdDegraded is set when crowd aggregation failed and only official
	// prices are included.
	CrowdDegraded bool
}

// StationTag is the cache tag for every result that includes stationID.
func StationTag(stationID string) string { return "station:" + stationID }

const allTag = "consolidate"

// Service consolidates prices and caches results by query.
type Service struct {
	store *Store
	cfg   Config
	cache *cache.Cache[*Result]
	now   func() time.Time
}

// NewService creates a consolidation service.
func NewService(store *Store, cfg Config) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		cache: cache.New[*Result](cfg.CacheEntries, cfg.CacheTTL),
		now:   time.Now,
	}
}

// Consolidate returns the price view for q. Results are cached per query and
// tagged with each station ID. A crowd aggregation failure degrades to
// official prices only and is not cached.
func (s *Service) Consolidate(ctx context.Context, q Query) (*Result, error) {
	if len(q.StationIDs) == 0 {
		return &Result{Prices: map[string][]PriceView{}, Crowd: map[string][]CrowdAggregate{}}, nil
	}
	return s.cache.GetOrLoad(ctx, q.CacheKey(), func(ctx context.Context) (*Result, []string, error) {
		res, err := s.load(ctx, q)
		if err != nil || res.CrowdDegraded {
			return res, nil, err
		}
		tags := make([]string, 0, len(q.StationIDs)+1)
		tags = append(tags, allTag)
		for _, id := range q.StationIDs {
			tags = append(tags, StationTag(id))
		}
		return res, tags, nil
	})
}

// InvalidateStation drops every cached result that includes stationID.
func (s *Service) InvalidateStation(stationID string) int {
	return s.cache.InvalidateTag(StationTag(stationID))
}

// CacheStats reports consolidation cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) load(ctx context.Context, q Query) (*Result, error) {
	log := zap.L().With(zap.String("component", "consolidate"))
	now := s.now()

	official, err := s.store.OfficialPrices(ctx, q, s.cfg.OfficialRowCap)
	if err != nil {
		return nil, err
	}
	if s.cfg.OfficialRowCap > 0 && len(official) >= s.cfg.OfficialRowCap {
		log.Warn("official price row cap reached", zap.Int("cap", s.cfg.OfficialRowCap))
	}

	res := &Result{}
	aggs, err := s.store.CrowdAggregates(ctx, q, now.Add(-s.cfg.CrowdWindow))
	if err != nil {
		log.Warn("crowd aggregation failed, returning official prices only",
			zap.Int("stations", len(q.StationIDs)), zap.Error(err))
		aggs = nil
		res.CrowdDegraded = true
	}

	res.Prices = Merge(official, aggs, q, s.cfg.StaleAfter, now)
	res.Crowd = groupAggregates(aggs)
	return res, nil
}

type aggKey struct {
	stationID string
	fuel      model.FuelType
	schedule  model.Schedule
}

// Merge applies the staleness override to official prices and synthesizes
// crowd-only entries for keys with no official price at all. The price range
// of q is applied to the adjusted price of each entry. The result is keyed by
// station ID and ordered by fuel type then schedule.
func Merge(official []model.Price, aggs []CrowdAggregate, q Query, staleAfter time.Duration, now time.Time) map[string][]PriceView {
	byKey := make(map[aggKey]CrowdAggregate, len(aggs))
	for _, a := range aggs {
		byKey[aggKey{a.StationID, a.FuelType, a.Schedule}] = a
	}

	out := make(map[string][]PriceView)
	covered := make(map[aggKey]bool, len(official))
	for _, p := range official {
		k := aggKey{p.StationID, p.FuelType, p.Schedule}
		covered[k] = true

		v := PriceView{
			StationID:      p.StationID,
			FuelType:       p.FuelType,
			Schedule:       p.Schedule,
			Price:          p.Price,
			Source:         model.SourceOfficial,
			Validated:      p.Validated,
			ValidFrom:      p.ValidFrom,
			AgeDays:        ageDays(p.ValidFrom, now),
			AdjustedPrice:  p.Price,
			AdjustedSource: model.SourceOfficial,
		}
		if a, ok := byKey[k]; ok {
			agg := a
			v.Crowd = &agg
			if now.Sub(p.ValidFrom) > staleAfter {
				v.AdjustedPrice = a.Average
				v.AdjustedSource = model.SourceCrowd
				v.UsingCrowdPrice = true
			}
		}
		if !inRange(v.AdjustedPrice, q.MinPrice, q.MaxPrice) {
			continue
		}
		out[p.StationID] = append(out[p.StationID], v)
	}

	for _, a := range aggs {
		k := aggKey{a.StationID, a.FuelType, a.Schedule}
		if covered[k] || !inRange(a.Average, q.MinPrice, q.MaxPrice) {
			continue
		}
		agg := a
		out[a.StationID] = append(out[a.StationID], PriceView{
			StationID:       a.StationID,
			FuelType:        a.FuelType,
			Schedule:        a.Schedule,
			Price:           a.Average,
			Source:          model.SourceCrowd,
			Validated:       false,
			ValidFrom:       a.LastReportAt,
			AgeDays:         ageDays(a.LastReportAt, now),
			AdjustedPrice:   a.Average,
			AdjustedSource:  model.SourceCrowd,
			UsingCrowdPrice: true,
			Crowd:           &agg,
		})
	}

	for id := range out {
		sortViews(out[id])
	}
	return out
}

func inRange(v decimal.Decimal, lo, hi *decimal.Decimal) bool {
	if lo != nil && v.LessThan(*lo) {
		return false
	}
	if hi != nil && v.GreaterThan(*hi) {
		return false
	}
	return true
}

func ageDays(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}

func fuelRank(ft model.FuelType) int {
	if i := slices.Index(model.FuelTypes, ft); i >= 0 {
		return i
	}
	return len(model.FuelTypes)
}

func sortViews(views []PriceView) {
	sort.SliceStable(views, func(i, j int) bool {
		if ri, rj := fuelRank(views[i].FuelType), fuelRank(views[j].FuelType); ri != rj {
			return ri < rj
		}
		return views[i].Schedule < views[j].Schedule
	})
}

func groupAggregates(aggs []CrowdAggregate) map[string][]CrowdAggregate {
	out := make(map[string][]CrowdAggregate)
	for _, a := range aggs {
		out[a.StationID] = append(out[a.StationID], a)
	}
	return out
}
