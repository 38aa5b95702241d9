package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

const (
	// sweepLimit bounds how many records a single sweep drains. Leftovers
	// roll over to the next tick.
	sweepLimit = 10000

	// sweepLockKey serializes sweeps across bot instances sharing one
	// database. The TTL outlives any realistic sweep.
	sweepLockKey = "archive:sweep"
	sweepLockTTL = 10 * time.Minute

	ndjsonContentType = "application/x-ndjson"
)

// Archiver moves aged closed-position records out of the hot Postgres log
// into NDJSON objects in cold storage, then trims the rows it uploaded.
type Archiver struct {
	blob      domain.BlobStore
	closed    domain.ClosedPositionStore
	events    domain.RiskEventStore
	locks     domain.LockManager
	retention time.Duration
	interval  time.Duration
	limit     int
	logger    *slog.Logger

	now func() time.Time
}

// ArchiverConfig controls sweep cadence and how long records stay hot.
type ArchiverConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// NewArchiver creates an archiver. events may be nil to skip audit rows.
func NewArchiver(blob domain.BlobStore, closed domain.ClosedPositionStore, events domain.RiskEventStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &Archiver{
		blob:      blob,
		closed:    closed,
		events:    events,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		limit:     sweepLimit,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// SetLockManager makes sweeps take a distributed lock first, so multiple
// bot instances sharing one database do not archive the same rows twice.
func (a *Archiver) SetLockManager(locks domain.LockManager) {
	a.locks = locks
}

// Run sweeps on the configured interval until the context ends.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", a.interval),
		slog.Duration("retention", a.retention),
	)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.sweep(ctx)
			switch {
			case err != nil:
				a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
			case n > 0:
				a.logger.InfoContext(ctx, "archive sweep finished", slog.Int64("records", n))
			}
		}
	}
}

// sweep runs one locked ArchiveOnce. A held lock means another instance is
// already sweeping; a lock backend failure degrades to an unlocked sweep,
// which at worst duplicates uploads rather than losing records.
func (a *Archiver) sweep(ctx context.Context) (int64, error) {
	if a.locks == nil {
		return a.ArchiveOnce(ctx)
	}
	release, err := a.locks.Acquire(ctx, sweepLockKey, sweepLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.DebugContext(ctx, "archive sweep held by another instance")
		return 0, nil
	}
	if err != nil {
		a.logger.WarnContext(ctx, "archive sweep lock unavailable",
			slog.String("error", err.Error()),
		)
		return a.ArchiveOnce(ctx)
	}
	defer release()
	return a.ArchiveOnce(ctx)
}

// ArchiveOnce drains one batch of records older than the retention cutoff
// into a single NDJSON object and deletes the uploaded rows. The upload
// runs before the delete: a crash between the two duplicates records in
// cold storage instead of losing them.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	batch, err := a.closed.ListBefore(ctx, cutoff, a.limit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list aged positions: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	boundary := cutoff
	if len(batch) == a.limit {
		batch, boundary = splitAtLastCloseTime(batch)
	}

	buf, err := marshalNDJSON(batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: encode archive batch: %w", err)
	}

	key := archiveKey(batch[len(batch)-1].ClosedAt, a.now().UTC())
	if err := a.blob.Put(ctx, key, bytes.NewReader(buf), ndjsonContentType); err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", key, err)
	}

	deleted, err := a.closed.DeleteBefore(ctx, boundary)
	if err != nil {
		return 0, fmt.Errorf("s3blob: trim archived positions: %w", err)
	}

	a.audit(ctx, key, int64(len(batch)), deleted, cutoff)

	return int64(len(batch)), nil
}

// splitAtLastCloseTime drops the trailing run of records sharing the
// newest close time in a full batch and returns that time as the delete
// boundary. A strictly-before delete then removes exactly the records
// that were uploaded, even when the limit cut through a timestamp tie.
func splitAtLastCloseTime(batch []domain.ClosedPositionRecord) ([]domain.ClosedPositionRecord, time.Time) {
	last := batch[len(batch)-1].ClosedAt
	i := len(batch) - 1
	for i > 0 && batch[i-1].ClosedAt.Equal(last) {
		i--
	}
	if i == 0 {
		// The whole batch closed in the same instant; take it all and
		// nudge the boundary just past it.
		return batch, last.Add(time.Microsecond)
	}
	return batch[:i], last
}

func (a *Archiver) audit(ctx context.Context, key string, uploaded, deleted int64, cutoff time.Time) {
	if a.events == nil {
		return
	}
	err := a.events.Log(ctx, "positions_archived", map[string]any{
		"key":      key,
		"uploaded": uploaded,
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "archive audit row failed", slog.String("error", err.Error()))
	}
}

// archiveKey partitions objects by the close day of the newest record in
// the batch and stamps the sweep time so reruns over the same day never
// overwrite an earlier object:
//
//	closed-positions/2025/08/22/143000.ndjson
func archiveKey(newest, sweep time.Time) string {
	return fmt.Sprintf("closed-positions/%s/%s.ndjson",
		newest.UTC().Format("2006/01/02"), sweep.Format("150405"))
}

// marshalNDJSON renders records as newline-delimited JSON, one compact
// object per line.
func marshalNDJSON(records []domain.ClosedPositionRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("ndjson encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
