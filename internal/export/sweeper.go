package export

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper periodically removes exported tickets older than the retention window
type Sweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

// NewSweeper creates a new export sweeper
func NewSweeper(dir string, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background sweep loop. A non-positive interval or
// retention leaves the sweeper disabled.
func (s *Sweeper) Start() {
	if s.interval <= 0 || s.retention <= 0 {
		slog.Warn("Export sweeper disabled", "retention", s.retention, "interval", s.interval)
		return
	}
	go s.sweepLoop()
	slog.Info("Export sweeper started", "dir", s.dir, "retention", s.retention, "interval", s.interval)
}

// Stop stops the background sweep loop
func (s *Sweeper) Stop() {
	close(s.stopChan)
	slog.Info("Export sweeper stopped")
}

func (s *Sweeper) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// Sweep deletes export files last modified before now minus retention and
// returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("Failed to read exports dir", "dir", s.dir, "error", err)
		return 0
	}

	cutoff := now.Add(-s.retention)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			slog.Warn("Failed to remove expired export", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("Removed expired exports", "count", removed)
	}
	return removed
}
