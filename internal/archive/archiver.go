// Package archive drains the live alert feed into the on-disk history store.
package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradeiq/internal/alerts"
	"tradeiq/internal/store"
	"tradeiq/internal/util"
)

// Worker is the interface for long-running background processes.
type Worker interface {
	// Name returns the worker identifier.
	Name() string
	// Run starts the worker. It blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// Archive is the storage an Archiver flushes to.
type Archive interface {
	store.AlertArchive
	store.NarrationArchive
}

// Stats summarizes archiver activity since start.
type Stats struct {
	AlertsWritten    uint64    `json:"alerts_written"`
	NarrationWritten uint64    `json:"narration_written"`
	Flushes          uint64    `json:"flushes"`
	FlushErrors      uint64    `json:"flush_errors"`
	PendingAlerts    int       `json:"pending_alerts"`
	PendingNarration int       `json:"pending_narration"`
	LastFlush        time.Time `json:"last_flush"`
}

// Compile-time interface check.
var _ Worker = (*Archiver)(nil)

// Archiver subscribes to the alert feed, batches incoming events, and
// flushes them to the archive on an interval. A failed flush keeps the batch
// for the next interval, so events are not lost to transient disk errors.
type Archiver struct {
	feed     *alerts.Feed
	arc      Archive
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	pendAlerts []store.AlertRecord
	pendNarr   []store.NarrationRecord
	stats      Stats
}

// NewArchiver creates an archiver flushing to arc every interval. An
// interval of zero or less defaults to 30 seconds.
func NewArchiver(feed *alerts.Feed, arc Archive, interval time.Duration, log *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		feed:     feed,
		arc:      arc,
		interval: interval,
		log:      log,
	}
}

// Name returns the worker identifier.
func (a *Archiver) Name() string { return "archiver" }

// Run consumes the feed until ctx is cancelled, then performs a final flush.
func (a *Archiver) Run(ctx context.Context) error {
	id, ch := a.feed.Subscribe(1024)
	defer a.feed.Unsubscribe(id)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.log.Info("archiver started", "interval", a.interval)

	for {
		select {
		case <-ctx.Done():
			a.flush(context.Background())
			a.log.Info("archiver stopped")
			return ctx.Err()
		case evt := <-ch:
			a.collect(evt)
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// collect converts a feed event into its pending archive record.
func (a *Archiver) collect(evt alerts.Event) {
	now := time.Now().UTC()
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case evt.Alert != nil:
		a.pendAlerts = append(a.pendAlerts, store.NewAlertRecord(*evt.Alert, now))
	case evt.Narration != nil:
		a.pendNarr = append(a.pendNarr, store.NewNarrationRecord(*evt.Narration, now))
	}
}

// Flush writes everything pending to the archive immediately.
func (a *Archiver) Flush(ctx context.Context) { a.flush(ctx) }

func (a *Archiver) flush(ctx context.Context) {
	a.mu.Lock()
	alertBatch := a.pendAlerts
	narrBatch := a.pendNarr
	a.pendAlerts = nil
	a.pendNarr = nil
	a.mu.Unlock()

	if len(alertBatch) == 0 && len(narrBatch) == 0 {
		return
	}

	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		if err := a.arc.WriteAlerts(ctx, alertBatch); err != nil {
			return err
		}
		return a.arc.WriteNarration(ctx, narrBatch)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		// Put the batch back so the next interval retries it.
		a.pendAlerts = append(alertBatch, a.pendAlerts...)
		a.pendNarr = append(narrBatch, a.pendNarr...)
		a.stats.FlushErrors++
		a.log.Error("archive flush failed", "alerts", len(alertBatch), "narration", len(narrBatch), "error", err)
		return
	}
	a.stats.AlertsWritten += uint64(len(alertBatch))
	a.stats.NarrationWritten += uint64(len(narrBatch))
	a.stats.Flushes++
	a.stats.LastFlush = time.Now().UTC()
	a.log.Debug("archive flush", "alerts", len(alertBatch), "narration", len(narrBatch))
}

// Stats reports archiver activity since start.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.PendingAlerts = len(a.pendAlerts)
	s.PendingNarration = len(a.pendNarr)
	return s
}
