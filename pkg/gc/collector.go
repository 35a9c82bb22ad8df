// Package gc removes staged uploads orphaned by a crash.
//
// Stores that stage writes (see store.Sweepable) leave "<name>.uploading"
// entries behind when the process dies between the write and the rename.
// The collector periodically scans for such entries and deletes those older
// than a configurable age, so it never races an upload still in progress.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/pkg/metrics"
	"github.com/marmos91/grainweb/pkg/store"
)

// Collector periodically sweeps a store for orphaned staged uploads.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store   store.Sweepable
	config  Config
	metrics metrics.GCMetrics
	now     func() time.Time

	// Serializes sweeps so RunNow never overlaps the worker.
	runMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether periodic sweeping is active.
	Enabled bool

	// Interval is how often to sweep (default: 15m).
	Interval time.Duration

	// MaxAge is how old a staged upload must be before it is considered
	// orphaned (default: 1h).
	MaxAge time.Duration

	// DryRun logs what would be removed without removing it.
	DryRun bool

	// Timeout bounds a single background sweep (default: 5m).
	Timeout time.Duration
}

const (
	DefaultInterval = 15 * time.Minute
	DefaultMaxAge   = time.Hour
	DefaultTimeout  = 5 * time.Minute
)

// NewCollector creates a collector over s. The collector is not started.
// A nil m disables metrics.
func NewCollector(s store.Sweepable, config Config, m metrics.GCMetrics) (*Collector, error) {
	if s == nil {
		return nil, fmt.Errorf("gc: store is required")
	}

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.NewNoopGCMetrics()
	}

	return &Collector{
		store:   s,
		config:  config,
		metrics: m,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start sweeps once immediately, then at every interval, until Stop.
// Safe to call multiple times; a disabled collector does nothing.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Upload sweeper disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting upload sweeper: interval=%s max_age=%s dry_run=%v",
			c.config.Interval, c.config.MaxAge, c.config.DryRun)
		c.started = true
		go c.worker()
	})
}

// Stop signals the worker to exit and waits for any sweep in progress.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	// Orders the read of started after any concurrent Start.
	c.startOnce.Do(func() {})
	if !c.started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping upload sweeper...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Info("Upload sweeper stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Upload sweeper shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs a sweep and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.sweep(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	c.runBackground()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runBackground()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) runBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	// Stop interrupts a long sweep.
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	stats, err := c.sweep(ctx)
	if err != nil {
		logger.Error("Upload sweep failed: %v", err)
		return
	}
	if stats.Found > 0 {
		logger.Info("Upload sweep completed: %s", stats.Summary())
	} else {
		logger.Debug("Upload sweep completed: %s", stats.Summary())
	}
}

func (c *Collector) sweep(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: c.now()}
	err := c.collect(ctx, stats)
	stats.EndTime = c.now()

	c.metrics.RecordSweep(stats.Found, stats.Removed, stats.Duration(), err)
	return stats, err
}

func (c *Collector) collect(ctx context.Context, stats *Stats) error {
	entries, err := c.store.PartialUploads(ctx)
	if err != nil {
		return fmt.Errorf("list staged uploads: %w", err)
	}
	stats.Scanned = len(entries)

	cutoff := stats.StartTime.Add(-c.config.MaxAge)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.ModTime.After(cutoff) {
			continue
		}
		stats.Found++

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would remove %s (size=%d, modified=%s)",
				entry.Name, entry.Size, entry.ModTime.Format(time.RFC3339))
			continue
		}

		if err := c.store.RemovePartial(ctx, entry.Name); err != nil {
			logger.Warn("GC: failed to remove %s: %v", entry.Name, err)
			stats.Failed++
			continue
		}
		logger.Debug("GC: removed %s", entry.Name)
		stats.Removed++
	}

	return nil
}

// Stats contains statistics from one sweep.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Scanned   int // Staged uploads seen
	Found     int // Staged uploads older than MaxAge
	Removed   int // Orphans deleted
	Failed    int // Orphans that could not be deleted
}

// Duration returns the sweep duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the sweep.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d orphaned=%d removed=%d failed=%d duration=%s",
		s.Scanned, s.Found, s.Removed, s.Failed, s.Duration())
}
