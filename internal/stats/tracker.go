// Package stats accumulates per-day processing statistics and flushes
// them through the notifier when the day boundary is crossed.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleverdata/ferry-agent/internal/models"
	"github.com/cleverdata/ferry-agent/internal/notify"
)

// Tracker owns the daily counters and issue log. All state is guarded by
// a single mutex; counters are monotonically non-decreasing within a day
// and reset exactly once per day transition.
type Tracker struct {
	notifier notify.Notifier
	auditDir string
	logger   zerolog.Logger

	mu        sync.Mutex
	day       time.Time
	processed int
	issues    int
	issueLog  []models.IssueRecord

	inflight sync.WaitGroup
}

// New creates a Tracker. auditDir, when non-empty, receives a JSON dump of
// every rollover summary.
func New(notifier notify.Notifier, auditDir string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		notifier: notifier,
		auditDir: auditDir,
		logger:   logger,
		day:      startOfDay(time.Now()),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IncrementProcessed records one successfully processed file.
func (t *Tracker) IncrementProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
}

// RecordIssue counts a per-file problem and appends it to the issue log.
func (t *Tracker) RecordIssue(folderName, folderPath, fileName, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues++
	t.issueLog = append(t.issueLog, models.IssueRecord{
		Timestamp:  time.Now(),
		FolderName: folderName,
		FolderPath: folderPath,
		FileName:   fileName,
		Details:    details,
	})
}

// Snapshot returns the current day's counters.
func (t *Tracker) Snapshot() (day time.Time, processed, issues int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.day, t.processed, t.issues
}

// RolloverIfNeeded flushes and resets the statistics when now has crossed
// into a later day. The check-then-act is done once under the lock so two
// concurrent tick callers cannot double-reset the same day. A day that
// ended without issues resets silently; otherwise exactly one summary is
// dispatched to the notifier on a tracked goroutine (delivery failures are
// logged, never allowed to block the tick loop).
func (t *Tracker) RolloverIfNeeded(ctx context.Context, now time.Time) {
	today := startOfDay(now)

	t.mu.Lock()
	if !today.After(t.day) {
		t.mu.Unlock()
		return
	}

	var summary *models.RolloverSummary
	if t.issues > 0 {
		summary = &models.RolloverSummary{
			Day:            t.day,
			TotalProcessed: t.processed,
			FilesWithIssue: t.issues,
			Issues:         append([]models.IssueRecord(nil), t.issueLog...),
		}
	}

	t.processed = 0
	t.issues = 0
	t.issueLog = nil
	t.day = today
	t.mu.Unlock()

	if summary == nil {
		t.logger.Info().Time("day", today).Msg("day rollover, no issues to report")
		return
	}

	t.dumpAudit(*summary)

	// Delivery must survive cancellation of the run context: shutdown
	// bounds it through Wait, not through ctx.
	sendCtx := context.WithoutCancel(ctx)

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		if err := t.notifier.NotifyRollover(sendCtx, *summary); err != nil {
			t.logger.Error().Err(err).Time("day", summary.Day).Msg("rollover notification failed")
		}
	}()
}

// dumpAudit writes the summary to the audit directory. Best-effort.
func (t *Tracker) dumpAudit(summary models.RolloverSummary) {
	if t.auditDir == "" {
		return
	}
	if err := os.MkdirAll(t.auditDir, 0o755); err != nil {
		t.logger.Warn().Err(err).Msg("creating audit directory failed")
		return
	}
	name := fmt.Sprintf("rollover_%s.json", summary.Day.Format("2006-01-02"))
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		t.logger.Warn().Err(err).Msg("encoding rollover audit failed")
		return
	}
	if err := os.WriteFile(filepath.Join(t.auditDir, name), data, 0o644); err != nil {
		t.logger.Warn().Err(err).Msg("writing rollover audit failed")
	}
}

// Wait blocks until in-flight rollover notifications finish or the grace
// period elapses, so shutdown does not silently drop a summary.
func (t *Tracker) Wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		t.logger.Warn().Dur("grace", grace).Msg("gave up waiting for in-flight notifications")
	}
}
