package geospatial

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/model"
)

// Limits bounds caller-supplied radius and page size.
type Limits struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DefaultLimit    int
	MaxLimit        int
}

// DefaultLimits returns the stock search limits.
func DefaultLimits() Limits {
	return Limits{DefaultRadiusKm: 10, MaxRadiusKm: 25, DefaultLimit: 50, MaxLimit: 200}
}

// Radius returns the default for r <= 0 and clamps r to the maximum.
func (l Limits) Radius(r float64) float64 {
	if r <= 0 {
		r = l.DefaultRadiusKm
	}
	return math.Min(r, l.MaxRadiusKm)
}

// PageSize returns the default for n <= 0 and clamps n to the maximum.
func (l Limits) PageSize(n int) int {
	if n <= 0 {
		n = l.DefaultLimit
	}
	return min(n, l.MaxLimit)
}

// Filter selects stations.
type Filter struct {
	Center    *Point
	RadiusKm  float64
	Companies []string // OR-ed, case-insensitive substring
	Province  string
	Locality  string

	// Price filters keep stations that have an official price, or a crowd
	// report inside CrowdSince, matching all of them.
	FuelType *model.FuelType
	Schedule model.Schedule
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal

	CrowdSince time.Time

	Limit  int
	Offset int
}

func (f Filter) hasPriceFilter() bool {
	return f.FuelType != nil || f.MinPrice != nil || f.MaxPrice != nil
}

// Hit is a matched station. DistanceKm is set when the filter has a center.
type Hit struct {
	Station    model.Station
	DistanceKm *float64
}

// Page is the pagination block returned with a result. HasMore is true when
// the page is full; Total is derived from it rather than counted.
type Page struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// Result is one page of hits.
type Result struct {
	Hits     []Hit
	Page     Page
	RadiusKm float64
}

// Engine runs station searches against fuel.stations.
type Engine struct {
	pool   db.Pool
	limits Limits
}

// NewEngine creates a search engine.
func NewEngine(pool db.Pool, limits Limits) *Engine {
	return &Engine{pool: pool, limits: limits}
}

// Limits returns the engine's radius and page limits.
func (e *Engine) Limits() Limits { return e.limits }

var stationColumns = []string{
	"s.id", "s.name", "s.company", "s.tax_id", "s.address", "s.locality", "s.province",
	"s.region", "s.latitude", "s.longitude", "s.source", "s.created_at", "s.updated_at",
}

// Search returns one page of stations. With a center, stations are kept when
// DistanceKm <= radius and ordered by that same distance; otherwise they are
// ordered by name.
func (e *Engine) Search(ctx context.Context, f Filter) (*Result, error) {
	limit := e.limits.PageSize(f.Limit)
	offset := max(f.Offset, 0)

	q := db.Builder().Select(stationColumns...).From("fuel.stations s")
	q = applyFilters(q, f)

	res := &Result{}
	if f.Center == nil {
		q = q.OrderBy("s.name", "s.id").Limit(uint64(limit)).Offset(uint64(offset))
		stations, err := e.query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, st := range stations {
			res.Hits = append(res.Hits, Hit{Station: st})
		}
	} else {
		radius := e.limits.Radius(f.RadiusKm)
		res.RadiusKm = radius

		box := BoundingBox(*f.Center, radius)
		q = q.Where(sq.Expr("s.latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat))
		if !box.WrapsLng {
			q = q.Where(sq.Expr("s.longitude BETWEEN ? AND ?", box.MinLng, box.MaxLng))
		}
		stations, err := e.query(ctx, q)
		if err != nil {
			return nil, err
		}
		res.Hits = withinRadius(stations, *f.Center, radius)
		res.Hits = paginate(res.Hits, offset, limit)
	}

	res.Page = page(limit, offset, len(res.Hits))
	return res, nil
}

// withinRadius keeps stations within radius of center, nearest first.
func withinRadius(stations []model.Station, center Point, radius float64) []Hit {
	hits := make([]Hit, 0, len(stations))
	for _, st := range stations {
		d := DistanceKm(center, Point{Lat: st.Latitude, Lng: st.Longitude})
		if d > radius {
			continue
		}
		hits = append(hits, Hit{Station: st, DistanceKm: &d})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if *hits[i].DistanceKm != *hits[j].DistanceKm {
			return *hits[i].DistanceKm < *hits[j].DistanceKm
		}
		return hits[i].Station.ID < hits[j].Station.ID
	})
	return hits
}

func paginate(hits []Hit, offset, limit int) []Hit {
	if offset >= len(hits) {
		return nil
	}
	return hits[offset:min(offset+limit, len(hits))]
}

func page(limit, offset, n int) Page {
	p := Page{Limit: limit, Offset: offset, HasMore: n == limit && n > 0}
	p.Total = offset + n
	if p.HasMore {
		p.Total++
	}
	return p
}

func applyFilters(q sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if companies := nonEmpty(f.Companies); len(companies) > 0 {
		or := sq.Or{}
		for _, c := range companies {
			or = append(or, sq.ILike{"s.company": "%" + escapeLike(c) + "%"})
		}
		q = q.Where(or)
	}
	if f.Province != "" {
		q = q.Where(sq.Eq{"s.province": f.Province})
	}
	if f.Locality != "" {
		q = q.Where(sq.Eq{"s.locality": f.Locality})
	}
	if f.hasPriceFilter() {
		q = q.Where(priceExists(f))
	}
	return q
}

// priceExists matches stations with an official price or a recent crowd
// report satisfying the price filters. An empty Schedule matches either
// schedule, as consolidation does.
func priceExists(f Filter) sq.Sqlizer {
	official := sq.Select("1").From("fuel.prices p").
		Where("p.station_id = s.id").
		Where(sq.Eq{"p.source": string(model.SourceOfficial)})
	crowd := sq.Select("1").From("fuel.crowd_reports c").
		Where("c.station_id = s.id").
		Where(sq.GtOrEq{"c.created_at": f.CrowdSince})

	if f.Schedule != "" {
		official = official.Where(sq.Eq{"p.schedule": string(f.Schedule)})
		crowd = crowd.Where(sq.Eq{"c.schedule": string(f.Schedule)})
	}
	if f.FuelType != nil {
		official = official.Where(sq.Eq{"p.fuel_type": string(*f.FuelType)})
		crowd = crowd.Where(sq.Eq{"c.fuel_type": string(*f.FuelType)})
	}
	if f.MinPrice != nil {
		official = official.Where(sq.GtOrEq{"p.price": *f.MinPrice})
		crowd = crowd.Where(sq.GtOrEq{"c.price": *f.MinPrice})
	}
	if f.MaxPrice != nil {
		official = official.Where(sq.LtOrEq{"p.price": *f.MaxPrice})
		crowd = crowd.Where(sq.LtOrEq{"c.price": *f.MaxPrice})
	}

	return sq.Or{exists(official), exists(crowd)}
}

func exists(sub sq.SelectBuilder) sq.Sqlizer {
	sql, args, err := sub.ToSql()
	if err != nil {
		return sq.Expr("false")
	}
	return sq.Expr("EXISTS ("+sql+")", args...)
}

func (e *Engine) query(ctx context.Context, q sq.SelectBuilder) ([]model.Station, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: build search query")
	}

	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: search stations")
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Company, &st.TaxID, &st.Address, &st.Locality, &st.Province,
			&st.Region, &st.Latitude, &st.Longitude, &st.Source, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan station")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "geospatial: iterate stations")
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
