// Package stations answers station search and detail requests by combining
// the geospatial engine with price consolidation.
package stations

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/cache"
	"github.com/sells-group/fuel-index/internal/consolidate"
	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/geospatial"
	"github.com/sells-group/fuel-index/internal/model"
)

// ErrNotFound is returned by Detail for an unknown station ID.
var ErrNotFound = eris.New("stations: not found")

// SearchParams are the caller-facing search inputs. A nil Center means no
// distance filter or ordering.
type SearchParams struct {
	Center    *geospatial.Point
	RadiusKm  float64
	Companies []string
	Province  string
	Locality  string
	FuelType  *model.FuelType
	Schedule  model.Schedule
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Limit     int
	Offset    int
}

// StationView is a station with its consolidated prices.
type StationView struct {
	model.Station
	DistanceKm *float64
	Prices     []consolidate.PriceView
}

// SearchResult is one page of stations.
type SearchResult struct {
	Stations      []StationView
	Page          geospatial.Page
	RadiusKm      float64
	CrowdDegraded bool
}

// StationDetail is the full price picture for one station.
type StationDetail struct {
	Station       model.Station
	Prices        []consolidate.PriceView
	Crowd         []consolidate.FuelSummary
	CrowdDegraded bool
}

// Service implements search and detail.
type Service struct {
	pool        db.Pool
	search      *geospatial.Engine
	prices      *consolidate.Service
	crowdWindow time.Duration
	now         func() time.Time
}

// NewService creates a Service. crowdWindow bounds which crowd reports let a
// station pass a price filter and should match the consolidation window.
func NewService(pool db.Pool, search *geospatial.Engine, prices *consolidate.Service, crowdWindow time.Duration) *Service {
	return &Service{
		pool:        pool,
		search:      search,
		prices:      prices,
		crowdWindow: crowdWindow,
		now:         time.Now,
	}
}

// Search returns one page of stations, each carrying its consolidated prices.
func (s *Service) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	found, err := s.search.Search(ctx, geospatial.Filter{
		Center:     p.Center,
		RadiusKm:   p.RadiusKm,
		Companies:  p.Companies,
		Province:   p.Province,
		Locality:   p.Locality,
		FuelType:   p.FuelType,
		Schedule:   p.Schedule,
		MinPrice:   p.MinPrice,
		MaxPrice:   p.MaxPrice,
		CrowdSince: s.now().Add(-s.crowdWindow),
		Limit:      p.Limit,
		Offset:     p.Offset,
	})
	if err != nil {
		return nil, eris.Wrap(err, "stations: search")
	}

	ids := make([]string, len(found.Hits))
	for i, h := range found.Hits {
		ids[i] = h.Station.ID
	}
	cons, err := s.prices.Consolidate(ctx, consolidate.Query{
		StationIDs: ids,
		Schedule:   p.Schedule,
		FuelType:   p.FuelType,
		MinPrice:   p.MinPrice,
		MaxPrice:   p.MaxPrice,
	})
	if err != nil {
		return nil, eris.Wrap(err, "stations: consolidate prices")
	}

	out := &SearchResult{
		Stations:      make([]StationView, 0, len(found.Hits)),
		Page:          found.Page,
		RadiusKm:      found.RadiusKm,
		CrowdDegraded: cons.CrowdDegraded,
	}
	for _, h := range found.Hits {
		out.Stations = append(out.Stations, StationView{
			Station:    h.Station,
			DistanceKm: h.DistanceKm,
			Prices:     cons.Prices[h.Station.ID],
		})
	}
	return out, nil
}

// Detail returns every fuel type and schedule for one station plus its crowd
// summary.
func (s *Service) Detail(ctx context.Context, id string) (*StationDetail, error) {
	st, err := s.station(ctx, id)
	if err != nil {
		return nil, err
	}

	cons, err := s.prices.Consolidate(ctx, consolidate.Query{StationIDs: []string{st.ID}})
	if err != nil {
		return nil, eris.Wrap(err, "stations: consolidate prices")
	}
	if cons.CrowdDegraded {
		zap.L().With(zap.String("component", "stations")).
			Debug("detail served without crowd data", zap.String("station_id", st.ID))
	}

	return &StationDetail{
		Station:       *st,
		Prices:        cons.Prices[st.ID],
		Crowd:         consolidate.Summarize(cons.Crowd[st.ID]),
		CrowdDegraded: cons.CrowdDegraded,
	}, nil
}

// InvalidateStation evicts cached prices that include id. The crowd report
// write path calls it after inserting a report.
func (s *Service) InvalidateStation(id string) int {
	return s.prices.InvalidateStation(id)
}

// CacheStats reports the consolidation cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.prices.CacheStats()
}

func (s *Service) station(ctx context.Context, id string) (*model.Station, error) {
	sql, args, err := db.Builder().
		Select("id", "name", "company", "tax_id", "address", "locality", "province",
			"region", "latitude", "longitude", "source", "created_at", "updated_at").
		From("fuel.stations").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "stations: build station query")
	}

	var st model.Station
	err = s.pool.QueryRow(ctx, sql, args...).Scan(
		&st.ID, &st.Name, &st.Company, &st.TaxID, &st.Address, &st.Locality, &st.Province,
		&st.Region, &st.Latitude, &st.Longitude, &st.Source, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "station %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "stations: query station")
	}
	return &st, nil
}
