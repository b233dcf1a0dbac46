package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionSchedule is how often old recordings are pruned.
const RetentionSchedule = "@every 10m"

// Prune removes .mkv files in folder whose modification time is older than
// maxAge. The file being written is never old enough to match.
func Prune(folder string, maxAge time.Duration, now time.Time) ([]string, error) {
	dir := filepath.Dir(folder + "x")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read video folder: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mkv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove old recording", "file", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// ScheduleRetention registers the pruning job on c. A zero maxAge disables it.
func ScheduleRetention(c *cron.Cron, folder string, maxAge time.Duration) (cron.EntryID, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	return c.AddFunc(RetentionSchedule, func() {
		removed, err := Prune(folder, maxAge, time.Now())
		if err != nil {
			slog.Error("recording retention failed", "error", err)
			return
		}
		if len(removed) > 0 {
			slog.Info("removed old recordings", "count", len(removed))
		}
	})
}
