package upsert

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/model"
)

const (
	stationsTable = "fuel.stations"
	pricesTable   = "fuel.prices"
	historyTable  = "fuel.price_history"
)

var (
	stationColumns = []string{"id", "name", "company", "tax_id", "address", "locality", "province", "region", "latitude", "longitude", "source"}
	priceColumns   = []string{"station_id", "fuel_type", "schedule", "source", "price", "valid_from", "validated", "reported_at"}
	priceKeyCols   = []string{"station_id", "fuel_type", "schedule", "source"}
	historyColumns = []string{"station_id", "fuel_type", "schedule", "source", "price", "valid_from", "validated", "recorded_at"}
)

// stationChanged guards station updates so identical rows are not touched.
const stationChanged = `(t.name, t.company, t.tax_id, t.address, t.locality, t.province, t.region, t.source)
	IS DISTINCT FROM (EXCLUDED.name, EXCLUDED.company, EXCLUDED.tax_id, EXCLUDED.address, EXCLUDED.locality, EXCLUDED.province, EXCLUDED.region, EXCLUDED.source)
	OR ABS(t.latitude - EXCLUDED.latitude) > 0.000001
	OR ABS(t.longitude - EXCLUDED.longitude) > 0.000001`

// priceChanged guards price updates so equal values keep their timestamps.
const priceChanged = `ABS(t.price - EXCLUDED.price) > 0.005`

// Store reads and writes stations and prices in Postgres.
type Store struct {
	pool      db.Pool
	chunkSize int
}

// NewStore creates a Store writing chunkSize rows per statement.
func NewStore(pool db.Pool, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = db.DefaultChunkSize
	}
	return &Store{pool: pool, chunkSize: chunkSize}
}

// ExistingStations loads stored stations whose IDs are in ids, in one query.
func (s *Store) ExistingStations(ctx context.Context, ids []string) (map[string]model.Station, error) {
	out := make(map[string]model.Station, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sql, args, err := db.Builder().
		Select(stationColumns...).
		From(stationsTable).
		Where(sq.Expr("id = ANY(?)", ids)).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "upsert: build station prefetch")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "upsert: prefetch stations")
	}
	defer rows.Close()

	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Company, &st.TaxID, &st.Address, &st.Locality,
			&st.Province, &st.Region, &st.Latitude, &st.Longitude, &st.Source); err != nil {
			return nil, eris.Wrap(err, "upsert: scan station")
		}
		out[st.ID] = st
	}
	return out, eris.Wrap(rows.Err(), "upsert: iterate stations")
}

// ExistingPrices loads the current rows of the given source for all
// stationIDs, in one query, keyed by composite key.
func (s *Store) ExistingPrices(ctx context.Context, stationIDs []string, src model.Source) (map[model.PriceKey]model.Price, error) {
	out := make(map[model.PriceKey]model.Price)
	if len(stationIDs) == 0 {
		return out, nil
	}

	sql, args, err := db.Builder().
		Select(priceColumns...).
		From(pricesTable).
		Where(sq.Eq{"source": string(src)}).
		Where(sq.Expr("station_id = ANY(?)", stationIDs)).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "upsert: build price prefetch")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "upsert: prefetch prices")
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Price
		var fuel, sched, source string
		if err := rows.Scan(&p.StationID, &fuel, &sched, &source, &p.Price, &p.ValidFrom, &p.Validated, &p.ReportedAt); err != nil {
			return nil, eris.Wrap(err, "upsert: scan price")
		}
		p.FuelType, p.Schedule, p.Source = model.FuelType(fuel), model.Schedule(sched), model.Source(source)
		out[p.Key()] = p
	}
	return out, eris.Wrap(rows.Err(), "upsert: iterate prices")
}

// InsertStations writes new stations in chunks. A station that appeared
// since the prefetch is left alone.
func (s *Store) InsertStations(ctx context.Context, stations []model.Station) (db.ChunkStats, error) {
	return db.InsertChunked(ctx, s.pool, db.InsertConfig{
		Table:     stationsTable,
		Columns:   stationColumns,
		ChunkSize: s.chunkSize,
		Suffix:    "ON CONFLICT (id) DO NOTHING",
	}, stationRows(stations))
}

// UpdateStations rewrites changed stations, one guarded upsert per chunk.
func (s *Store) UpdateStations(ctx context.Context, stations []model.Station) (db.ChunkStats, error) {
	cfg := db.UpsertConfig{
		Table:        stationsTable,
		Columns:      stationColumns,
		ConflictKeys: []string{"id"},
		UpdateWhere:  stationChanged,
		Touch:        []string{"updated_at"},
	}
	return db.ForEachChunk(ctx, stationRows(stations), s.chunkSize, func(ctx context.Context, _ int, chunk [][]any) (int64, error) {
		return db.BulkUpsert(ctx, s.pool, cfg, chunk)
	})
}

// InsertPrices writes new current prices in chunks.
func (s *Store) InsertPrices(ctx context.Context, prices []model.Price) (db.ChunkStats, error) {
	return db.InsertChunked(ctx, s.pool, db.InsertConfig{
		Table:     pricesTable,
		Columns:   priceColumns,
		ChunkSize: s.chunkSize,
		Suffix:    "ON CONFLICT (station_id, fuel_type, schedule, source) DO NOTHING",
	}, priceRows(prices))
}

// UpdatePrices rewrites changed prices. The returned slice holds the prices
// from chunks that committed, for history.
func (s *Store) UpdatePrices(ctx context.Context, prices []model.Price) (db.ChunkStats, []model.Price, error) {
	cfg := db.UpsertConfig{
		Table:        pricesTable,
		Columns:      priceColumns,
		ConflictKeys: priceKeyCols,
		UpdateCols:   []string{"price", "valid_from", "validated", "reported_at"},
		UpdateWhere:  priceChanged,
		Touch:        []string{"updated_at"},
	}

	var written []model.Price
	stats, err := db.ForEachChunk(ctx, prices, s.chunkSize, func(ctx context.Context, _ int, chunk []model.Price) (int64, error) {
		n, err := db.BulkUpsert(ctx, s.pool, cfg, priceRows(chunk))
		if err != nil {
			return 0, err
		}
		written = append(written, chunk...)
		return n, nil
	})
	return stats, written, err
}

// AppendHistory snapshots prices into the append-only history table.
func (s *Store) AppendHistory(ctx context.Context, prices []model.Price, at time.Time) (int64, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(prices))
	for _, p := range prices {
		h := model.HistoryOf(p, at)
		rows = append(rows, []any{h.StationID, string(h.FuelType), string(h.Schedule), string(h.Source), h.Price, h.ValidFrom, h.Validated, h.RecordedAt})
	}
	n, err := db.CopyFrom(ctx, s.pool, historyTable, historyColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "upsert: append history")
	}
	return n, nil
}

// DeleteOfficialPrices removes every current official price row.
func (s *Store) DeleteOfficialPrices(ctx context.Context) (int64, error) {
	sql, args, err := db.Builder().
		Delete(pricesTable).
		Where(sq.Eq{"source": string(model.SourceOfficial)}).
		ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "upsert: build delete")
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrap(err, "upsert: delete official prices")
	}
	return tag.RowsAffected(), nil
}

func stationRows(stations []model.Station) [][]any {
	rows := make([][]any, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []any{st.ID, st.Name, st.Company, st.TaxID, st.Address, st.Locality,
			st.Province, st.Region, st.Latitude, st.Longitude, st.Source})
	}
	return rows
}

func priceRows(prices []model.Price) [][]any {
	rows := make([][]any, 0, len(prices))
	for _, p := range prices {
		rows = append(rows, []any{p.StationID, string(p.FuelType), string(p.Schedule), string(p.Source),
			p.Price, p.ValidFrom, p.Validated, p.ReportedAt})
	}
	return rows
}
