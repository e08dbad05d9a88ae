package fuelsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/fetcher"
	"github.com/sells-group/fuel-index/internal/fuelsync/feed"
	"github.com/sells-group/fuel-index/internal/fuelsync/upsert"
)

// EngineConfig holds the feed settings used by every run.
type EngineConfig struct {
	FeedURL   string
	Delimiter rune
	SourceTag string
}

// RunOpts configures one ingestion run.
type RunOpts struct {
	Limit   int    // process only the first N feed rows (0 = all)
	Replace bool   // delete official prices before writing instead of diffing
	DryRun  bool   // parse and plan, write nothing
	Source  string // overrides EngineConfig.FeedURL
}

// SyncReport summarizes a run.
type SyncReport struct {
	RunID   uuid.UUID        `json:"run_id"`
	Source  string           `json:"source"`
	DryRun  bool             `json:"dry_run"`
	Replace bool             `json:"replace"`
	Parse   feed.ParseReport `json:"parse"`
	Upsert  upsert.Result    `json:"upsert"`
	Elapsed time.Duration    `json:"elapsed_ns"`
}

// Engine runs download, parse, diff and write as one sequential batch.
// Runs must not overlap; callers serialize them.
type Engine struct {
	fetcher  fetcher.Fetcher
	upserter *upsert.Upserter
	syncLog  *SyncLog
	cfg      EngineConfig
}

// NewEngine creates a new ingestion engine.
func NewEngine(f fetcher.Fetcher, u *upsert.Upserter, syncLog *SyncLog, cfg EngineConfig) *Engine {
	return &Engine{fetcher: f, upserter: u, syncLog: syncLog, cfg: cfg}
}

// Run executes one ingestion run. A download or parse failure aborts the run
// and is returned; row and chunk failures are only counted in the report.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*SyncReport, error) {
	runID := uuid.New()
	log := zap.L().With(zap.String("component", "fuelsync.engine"), zap.String("run_id", runID.String()))
	start := time.Now()

	source := opts.Source
	if source == "" {
		source = e.cfg.FeedURL
	}
	if source == "" {
		return nil, eris.New("fuelsync: no feed source configured")
	}

	var syncID int64
	if !opts.DryRun {
		id, err := e.syncLog.Start(ctx, runID, source)
		if err != nil {
			return nil, err
		}
		syncID = id
	}

	fail := func(err error) (*SyncReport, error) {
		log.Error("sync failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if !opts.DryRun {
			if logErr := e.syncLog.Fail(context.WithoutCancel(ctx), syncID, err.Error()); logErr != nil {
				log.Error("failed to record sync failure", zap.Error(logErr))
			}
		}
		return nil, err
	}

	log.Info("starting sync",
		zap.String("source", source),
		zap.Int("limit", opts.Limit),
		zap.Bool("replace", opts.Replace),
		zap.Bool("dry_run", opts.DryRun),
	)

	body, err := e.fetcher.Download(ctx, source)
	if err != nil {
		return fail(eris.Wrap(err, "fuelsync: download feed"))
	}
	defer body.Close() //nolint:errcheck

	batch, err := feed.Parse(body, feed.Options{
		Delimiter: e.cfg.Delimiter,
		Limit:     opts.Limit,
		SourceTag: e.cfg.SourceTag,
	})
	if err != nil {
		return fail(eris.Wrap(err, "fuelsync: parse feed"))
	}

	res, err := e.upserter.Apply(ctx, batch.StationList(), batch.Prices, upsert.Options{
		Replace: opts.Replace,
		DryRun:  opts.DryRun,
	})
	if err != nil {
		return fail(eris.Wrap(err, "fuelsync: apply batch"))
	}

	report := &SyncReport{
		RunID:   runID,
		Source:  source,
		DryRun:  opts.DryRun,
		Replace: opts.Replace,
		Parse:   batch.Report,
		Upsert:  *res,
		Elapsed: time.Since(start),
	}

	if !opts.DryRun {
		if err := e.syncLog.Complete(ctx, syncID, int64(batch.Report.RowsRead), report); err != nil {
			log.Error("failed to record sync completion", zap.Error(err))
		}
	}

	log.Info("sync complete",
		zap.Int("rows_read", report.Parse.RowsRead),
		zap.Int("rows_skipped", report.Parse.SkippedTotal()),
		zap.Int("failed_chunks", report.Upsert.FailedChunks),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}
