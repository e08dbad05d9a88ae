package db

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
)

// DefaultChunkSize is the number of rows written per statement.
const DefaultChunkSize = 1000

// Builder returns a squirrel statement builder using $n placeholders.
func Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// ChunkError records a failed chunk. Earlier chunks are not rolled back.
type ChunkError struct {
	Index int
	Rows  int
	Err   error
}

// ChunkStats summarizes a chunked write.
type ChunkStats struct {
	Chunks   int
	Affected int64
	Failed   []ChunkError
}

// FailedRows returns the number of rows in failed chunks.
func (s ChunkStats) FailedRows() int {
	n := 0
	for _, f := range s.Failed {
		n += f.Rows
	}
	return n
}

// ForEachChunk calls fn sequentially for consecutive slices of at most size
// rows. A failing chunk is recorded and the next chunk still runs; only
// context cancellation stops the loop.
func ForEachChunk[T any](ctx context.Context, rows []T, size int, fn func(ctx context.Context, idx int, chunk []T) (int64, error)) (ChunkStats, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var stats ChunkStats
	for start, idx := 0, 0; start < len(rows); start, idx = start+size, idx+1 {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "db: chunked write cancelled")
		}

		end := min(start+size, len(rows))
		stats.Chunks++

		n, err := fn(ctx, idx, rows[start:end])
		if err != nil {
			stats.Failed = append(stats.Failed, ChunkError{Index: idx, Rows: end - start, Err: err})
			continue
		}
		stats.Affected += n
	}
	return stats, nil
}

// InsertConfig describes a multi-row INSERT.
type InsertConfig struct {
	Table     string
	Columns   []string
	ChunkSize int
	// Suffix is appended verbatim, e.g. "ON CONFLICT DO NOTHING".
	Suffix string
}

// InsertChunked writes rows with one multi-row INSERT statement per chunk.
func InsertChunked(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (ChunkStats, error) {
	if len(cfg.Columns) == 0 {
		return ChunkStats{}, eris.New("db: insert: no columns specified")
	}

	return ForEachChunk(ctx, rows, cfg.ChunkSize, func(ctx context.Context, idx int, chunk [][]any) (int64, error) {
		sql, args, err := insertSQL(cfg, chunk)
		if err != nil {
			return 0, err
		}
		tag, err := pool.Exec(ctx, sql, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "db: insert into %s (chunk %d)", cfg.Table, idx)
		}
		return tag.RowsAffected(), nil
	})
}

// insertSQL builds the INSERT statement for one chunk.
func insertSQL(cfg InsertConfig, chunk [][]any) (string, []any, error) {
	b := Builder().Insert(cfg.Table).Columns(cfg.Columns...)
	for _, row := range chunk {
		if len(row) != len(cfg.Columns) {
			return "", nil, eris.Errorf("db: insert into %s: row has %d values, want %d", cfg.Table, len(row), len(cfg.Columns))
		}
		b = b.Values(row...)
	}
	if cfg.Suffix != "" {
		b = b.Suffix(cfg.Suffix)
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return "", nil, eris.Wrapf(err, "db: build insert for %s", cfg.Table)
	}
	return sql, args, nil
}
