package upsert

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/model"
)

// Result counts what an Apply call did. Inserted and updated counts exclude
// rows whose chunk failed.
type Result struct {
	StationsInserted  int   `json:"stations_inserted"`
	StationsUpdated   int   `json:"stations_updated"`
	StationsUnchanged int   `json:"stations_unchanged"`
	PricesInserted    int   `json:"prices_inserted"`
	PricesUpdated     int   `json:"prices_updated"`
	PricesUnchanged   int   `json:"prices_unchanged"`
	PriceDuplicates   int   `json:"price_duplicates"`
	PricesDeleted     int64 `json:"prices_deleted"`
	HistoryRows       int64 `json:"history_rows"`
	FailedChunks      int   `json:"failed_chunks"`
	FailedRows        int   `json:"failed_rows"`
}

// Options controls Apply.
type Options struct {
	// Replace deletes all official prices before writing, so every candidate
	// is inserted.
	Replace bool
	// DryRun plans without writing.
	DryRun bool
}

// Upserter runs the station and price diff against a Store.
type Upserter struct {
	store *Store
	now   func() time.Time
}

// New creates an Upserter over store.
func New(store *Store) *Upserter {
	return &Upserter{store: store, now: time.Now}
}

// Apply converges stations and prices into the store. Chunk failures are
// logged and counted; only prefetch errors and cancellation are returned.
func (u *Upserter) Apply(ctx context.Context, stations []model.Station, prices []model.Price, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "fuelsync.upsert"), zap.Bool("dry_run", opts.DryRun))
	res := &Result{}

	if err := u.applyStations(ctx, log, stations, opts, res); err != nil {
		return nil, err
	}
	if err := u.applyPrices(ctx, log, prices, opts, res); err != nil {
		return nil, err
	}

	log.Info("upsert complete",
		zap.Int("stations_inserted", res.StationsInserted),
		zap.Int("stations_updated", res.StationsUpdated),
		zap.Int("stations_unchanged", res.StationsUnchanged),
		zap.Int("prices_inserted", res.PricesInserted),
		zap.Int("prices_updated", res.PricesUpdated),
		zap.Int("prices_unchanged", res.PricesUnchanged),
		zap.Int64("history_rows", res.HistoryRows),
		zap.Int("failed_chunks", res.FailedChunks),
	)
	return res, nil
}

func (u *Upserter) applyStations(ctx context.Context, log *zap.Logger, stations []model.Station, opts Options, res *Result) error {
	ids := make([]string, 0, len(stations))
	for _, st := range stations {
		ids = append(ids, st.ID)
	}
	existing, err := u.store.ExistingStations(ctx, ids)
	if err != nil {
		return err
	}

	plan := PlanStations(stations, existing)
	res.StationsUnchanged = plan.Unchanged
	if opts.DryRun {
		res.StationsInserted, res.StationsUpdated = len(plan.Insert), len(plan.Update)
		return nil
	}

	stats, err := u.store.InsertStations(ctx, plan.Insert)
	if err != nil {
		return eris.Wrap(err, "upsert: insert stations")
	}
	res.StationsInserted = len(plan.Insert) - stats.FailedRows()
	u.recordFailures(log, "insert stations", stats, res)

	stats, err = u.store.UpdateStations(ctx, plan.Update)
	if err != nil {
		return eris.Wrap(err, "upsert: update stations")
	}
	res.StationsUpdated = len(plan.Update) - stats.FailedRows()
	u.recordFailures(log, "update stations", stats, res)
	return nil
}

func (u *Upserter) applyPrices(ctx context.Context, log *zap.Logger, prices []model.Price, opts Options, res *Result) error {
	existing := map[model.PriceKey]model.Price{}
	if opts.Replace {
		if !opts.DryRun {
			n, err := u.store.DeleteOfficialPrices(ctx)
			if err != nil {
				return err
			}
			res.PricesDeleted = n
			log.Info("official prices deleted", zap.Int64("rows", n))
		}
	} else {
		var err error
		existing, err = u.store.ExistingPrices(ctx, StationIDs(prices), model.SourceOfficial)
		if err != nil {
			return err
		}
	}

	plan := PlanPrices(prices, existing)
	res.PricesUnchanged = plan.Unchanged
	res.PriceDuplicates = plan.Duplicates
	if plan.Duplicates > 0 {
		log.Debug("duplicate price candidates collapsed", zap.Int("count", plan.Duplicates))
	}
	if opts.DryRun {
		res.PricesInserted, res.PricesUpdated = len(plan.Insert), len(plan.Update)
		return nil
	}

	stats, err := u.store.InsertPrices(ctx, plan.Insert)
	if err != nil {
		return eris.Wrap(err, "upsert: insert prices")
	}
	res.PricesInserted = len(plan.Insert) - stats.FailedRows()
	u.recordFailures(log, "insert prices", stats, res)

	stats, written, err := u.store.UpdatePrices(ctx, plan.Update)
	if err != nil {
		return eris.Wrap(err, "upsert: update prices")
	}
	res.PricesUpdated = len(written)
	u.recordFailures(log, "update prices", stats, res)

	n, err := u.store.AppendHistory(ctx, written, u.now().UTC())
	if err != nil {
		// History is append-only bookkeeping; the current rows are already written.
		log.Error("history append failed", zap.Int("rows", len(written)), zap.Error(err))
		res.FailedChunks++
		res.FailedRows += len(written)
		return nil
	}
	res.HistoryRows = n
	return nil
}

func (u *Upserter) recordFailures(log *zap.Logger, op string, stats db.ChunkStats, res *Result) {
	for _, f := range stats.Failed {
		log.Error("chunk write failed, continuing",
			zap.String("op", op),
			zap.Int("chunk", f.Index),
			zap.Int("rows", f.Rows),
			zap.Error(f.Err),
		)
	}
	res.FailedChunks += len(stats.Failed)
	res.FailedRows += stats.FailedRows()
}
