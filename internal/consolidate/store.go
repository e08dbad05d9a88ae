package consolidate

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/model"
)

// CrowdAggregate summarizes recent crowd reports for one
// (station, fuel type, schedule). Schedule is empty for a merged day+night
// aggregate.
type CrowdAggregate struct {
	StationID    string          `json:"station_id"`
	FuelType     model.FuelType  `json:"fuel_type"`
	Schedule     model.Schedule  `json:"schedule,omitempty"`
	Average      decimal.Decimal `json:"average"`
	Count        int             `json:"count"`
	Min          decimal.Decimal `json:"min"`
	Max          decimal.Decimal `json:"max"`
	LastReportAt time.Time       `json:"last_report_at"`
}

// Store runs the consolidation queries.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// OfficialPrices returns the latest official price per
// (station, fuel type, schedule) matching q, at most rowCap rows. The price
// range of q is not applied here: every official row marks its key as
// covered, and the range is checked against the adjusted price in Merge.
func (s *Store) OfficialPrices(ctx context.Context, q Query, rowCap int) ([]model.Price, error) {
	b := db.Builder().
		Select("p.id", "p.station_id", "p.fuel_type", "p.schedule", "p.price", "p.valid_from", "p.validated", "p.reported_at").
		Options("DISTINCT ON (p.station_id, p.fuel_type, p.schedule)").
		From("fuel.prices p").
		Where(sq.Eq{"p.source": string(model.SourceOfficial)}).
		Where(sq.Expr("p.station_id = ANY(?)", q.StationIDs))
	if q.Schedule != "" {
		b = b.Where(sq.Eq{"p.schedule": string(q.Schedule)})
	}
	if q.FuelType != nil {
		b = b.Where(sq.Eq{"p.fuel_type": string(*q.FuelType)})
	}
	b = b.OrderBy("p.station_id", "p.fuel_type", "p.schedule", "p.valid_from DESC")
	if rowCap > 0 {
		b = b.Limit(uint64(rowCap))
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: build official query")
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: query official prices")
	}
	defer rows.Close()

	var out []model.Price
	for rows.Next() {
		var p model.Price
		var fuel, sched string
		if err := rows.Scan(&p.ID, &p.StationID, &fuel, &sched, &p.Price, &p.ValidFrom, &p.Validated, &p.ReportedAt); err != nil {
			return nil, eris.Wrap(err, "consolidate: scan official price")
		}
		p.FuelType, p.Schedule, p.Source = model.FuelType(fuel), model.Schedule(sched), model.SourceOfficial
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "consolidate: iterate official prices")
}

// CrowdAggregates groups crowd reports created at or after since by
// (station, fuel type, schedule).
func (s *Store) CrowdAggregates(ctx context.Context, q Query, since time.Time) ([]CrowdAggregate, error) {
	b := db.Builder().
		Select("c.station_id", "c.fuel_type", "c.schedule",
			"AVG(c.price)", "COUNT(*)", "MIN(c.price)", "MAX(c.price)", "MAX(c.created_at)").
		From("fuel.crowd_reports c").
		Where(sq.Expr("c.station_id = ANY(?)", q.StationIDs)).
		Where(sq.GtOrEq{"c.created_at": since})
	if q.Schedule != "" {
		b = b.Where(sq.Eq{"c.schedule": string(q.Schedule)})
	}
	if q.FuelType != nil {
		b = b.Where(sq.Eq{"c.fuel_type": string(*q.FuelType)})
	}
	b = b.GroupBy("c.station_id", "c.fuel_type", "c.schedule")

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: build crowd query")
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: query crowd aggregates")
	}
	defer rows.Close()

	var out []CrowdAggregate
	for rows.Next() {
		var a CrowdAggregate
		var fuel, sched string
		var count int64
		if err := rows.Scan(&a.StationID, &fuel, &sched, &a.Average, &count, &a.Min, &a.Max, &a.LastReportAt); err != nil {
			return nil, eris.Wrap(err, "consolidate: scan crowd aggregate")
		}
		a.FuelType, a.Schedule, a.Count = model.FuelType(fuel), model.Schedule(sched), int(count)
		a.Average = a.Average.Round(3)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "consolidate: iterate crowd aggregates")
}
