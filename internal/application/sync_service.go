package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned by TriggerSync within SyncCooldown of the last
// manual sync.
var ErrRateLimited = errors.New("rate limit exceeded")

// SyncCooldown is the minimum time between two manually triggered syncs.
const SyncCooldown = 30 * time.Second

// SyncResult summarizes a manually triggered sync.
type SyncResult struct {
	DatasetsAdded   int       `json:"datasets_added"`
	DatasetsUpdated int       `json:"datasets_updated"`
	DatasetsRemoved int       `json:"datasets_removed"`
	DatasetsTotal   int       `json:"datasets_total"`
	SourcesTotal    int       `json:"sources_total"`
	Reloaded        bool      `json:"sources_reloaded"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService runs DatasetSync on a fixed interval and on demand. A manual
// sync pushes the next scheduled one a full interval out.
type SyncService struct {
	datasets *DatasetSync
	registry *SourceRegistry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	reset    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastManual time.Time
	nextSync   time.Time
}

// NewSyncService creates a sync service. Nothing runs until Start.
func NewSyncService(datasets *DatasetSync, registry *SourceRegistry, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		datasets: datasets,
		registry: registry,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		reset:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start runs the scheduler until ctx is done or Stop is called.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.schedule()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stop:
			s.logger.Info("sync service stopped")
			return
		case <-s.reset:
			ticker.Reset(s.interval)
		case <-ticker.C:
			s.logger.Debug("scheduled dataset sync")
			if _, err := s.datasets.Sync(ctx); err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
			s.schedule()
		}
	}
}

// Stop ends the scheduler and waits for a running sync to finish. It is safe
// to call more than once.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stop)
	})
	s.wg.Wait()
}

// TriggerSync syncs now. It returns ErrRateLimited when the previous manual
// sync was less than SyncCooldown ago.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if !s.lastManual.IsZero() && s.now().Sub(s.lastManual) < SyncCooldown {
		s.mu.Unlock()
		return SyncResult{}, ErrRateLimited
	}
	s.lastManual = s.now()
	s.mu.Unlock()

	stats, err := s.datasets.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	select {
	case s.reset <- struct{}{}:
	default:
	}
	s.schedule()

	return SyncResult{
		DatasetsAdded:   stats.Added,
		DatasetsUpdated: stats.Updated,
		DatasetsRemoved: stats.Removed,
		DatasetsTotal:   s.datasets.DatasetCount(),
		SourcesTotal:    s.registry.SourceCount(),
		Reloaded:        stats.Changed(),
		SyncedAt:        s.now(),
		NextScheduledAt: s.NextSync(),
	}, nil
}

// RetryAfter returns how long a caller must wait before the next manual sync.
func (s *SyncService) RetryAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastManual.IsZero() {
		return 0
	}
	if wait := SyncCooldown - s.now().Sub(s.lastManual); wait > 0 {
		return wait
	}
	return 0
}

// NextSync returns when the next scheduled sync runs, zero before Start.
func (s *SyncService) NextSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSync
}

func (s *SyncService) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSync = s.now().Add(s.interval)
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
