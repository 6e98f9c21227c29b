package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
)

// ObjectWriter is the subset of Writer the archiver uses.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// defaultArchivePrefix is used when no key prefix is configured.
const defaultArchivePrefix = "archive/trades"

// Archiver periodically exports closed trades from the trade store to
// object storage as JSONL, partitioned by day. Exports are additive only:
// each window gets its own object and nothing is deleted from the primary
// store.
type Archiver struct {
	writer ObjectWriter
	trades domain.TradeStore
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver exporting from the given trade store.
// prefix is the object key prefix; empty selects the default.
func NewArchiver(writer ObjectWriter, trades domain.TradeStore, prefix string, logger *slog.Logger) *Archiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &Archiver{
		writer: writer,
		trades: trades,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedTrades exports all close journal entries recorded at or after
// since and uploads them under <prefix>/YYYY-MM-DD/. The object key carries
// the export time so multiple exports on the same day (short intervals,
// restarts) never overwrite each other. It returns the number of exported
// records.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, since, now time.Time) (int64, error) {
	records, err := a.trades.ListClosedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(a.prefix, now)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(records)), nil
}

// Run exports on the given interval until ctx is cancelled. Each cycle
// covers the window since the previous successful export; failures are
// logged and retried on the next tick with the window left open.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	since := time.Now().Add(-interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now()
		count, err := a.ArchiveClosedTrades(ctx, since, now)
		if err != nil {
			a.logger.Error("trade archive failed", slog.String("error", err.Error()))
			continue
		}
		since = now
		if count > 0 {
			a.logger.Info("trade archive uploaded", slog.Int64("records", count))
		}
	}
}

// archivePath builds the S3 key for an export, partitioned by day with the
// export time in the object name:
//
//	archive/trades/2025-01-31/154500.jsonl
func archivePath(prefix string, now time.Time) string {
	utc := now.UTC()
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, utc.Format("2006-01-02"), utc.Format("150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
