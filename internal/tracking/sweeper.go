package tracking

import (
	"context"
	"log/slog"
	"time"

	"bustracker.campus.org/internal/logging"
)

// RunSweeper ends sharing sessions idle for longer than AutoStopAfter, checking
// every interval until ctx is done. It returns immediately when auto-stop is
// disabled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if t.cfg.AutoStopAfter <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepIdle(ctx)
		}
	}
}

// SweepIdle runs one auto-stop pass and returns the buses it stopped.
func (t *Tracker) SweepIdle(ctx context.Context) []string {
	if t.cfg.AutoStopAfter <= 0 {
		return nil
	}

	rows, err := t.db.Queries.ListSharingLocations(ctx)
	if err != nil {
		logging.LogError(t.logger, "sweeper failed to list sessions", err)
		return nil
	}

	var stopped []string
	for _, row := range rows {
		if !t.idle(row.UpdatedAt) {
			continue
		}
		if t.autoStop(ctx, row.BusID) {
			stopped = append(stopped, row.BusID)
		}
	}
	return stopped
}

func (t *Tracker) idle(updatedAtMs int64) bool {
	return t.clock.Now().Sub(time.UnixMilli(updatedAtMs)) > t.cfg.AutoStopAfter
}

// autoStop re-checks the session under the bus lock, since a report may have
// arrived after the listing.
func (t *Tracker) autoStop(ctx context.Context, busID string) bool {
	st := t.lockBus(busID)
	defer st.mu.Unlock()

	live, exists, err := t.getLive(ctx, busID)
	if err != nil {
		logging.LogError(t.logger, "sweeper failed to load session", err, slog.String("bus_id", busID))
		return false
	}
	if !exists || live.IsSharing != 1 || !t.idle(live.UpdatedAt) {
		return false
	}

	if _, err := t.stopLocked(ctx, st, live, StopReasonTimeout); err != nil {
		return false
	}
	return true
}
