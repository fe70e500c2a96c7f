package metrics

import (
	"sync"
	"time"
)

// MetricsStore keeps recent runs in a ring buffer plus running totals. It
// implements Collector.
//
//	store := NewMetricsStore(DefaultStoreConfig(), time.Now())
//	store.RecordRun(run)
//	summary := store.GetTaskMetrics()
type MetricsStore struct {
	mu sync.RWMutex

	runHistory []RunRecord
	runCap     int
	runHead    int
	runSize    int

	totalRuns      int64
	totalSuccess   int64
	totalErrors    int64
	totalImages    int64
	totalQuestions int64
	runByKind      map[string]*kindStats
	vision         map[string]*visionStats

	// persist receives every run, e.g. to write it to SQLite.
	persist func(RunRecord)

	startTime time.Time
	version   string
	health    func() string
}

type kindStats struct {
	count         int64
	successCount  int64
	totalDuration time.Duration
}

type visionStats struct {
	calls         int64
	failures      int64
	attempts      int64
	totalDuration time.Duration
}

// StoreConfig configures the MetricsStore behavior.
type StoreConfig struct {
	// RunHistoryCapacity is the max number of runs kept in memory
	RunHistoryCapacity int
	// Version is the application version string
	Version string
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		RunHistoryCapacity: 100,
		Version:            "0.0.0",
	}
}

// NewMetricsStore creates a store. startTime is used for uptime.
func NewMetricsStore(config StoreConfig, startTime time.Time) *MetricsStore {
	cap := config.RunHistoryCapacity
	if cap < 1 {
		cap = 100
	}

	return &MetricsStore{
		runHistory: make([]RunRecord, cap),
		runCap:     cap,
		runByKind:  make(map[string]*kindStats),
		vision:     make(map[string]*visionStats),
		startTime:  startTime,
		version:    config.Version,
	}
}

// SetPersister registers a hook called with every recorded run, outside
// the store lock.
func (s *MetricsStore) SetPersister(fn func(RunRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = fn
}

// SetHealthCheck registers a function deciding the reported health.
func (s *MetricsStore) SetHealthCheck(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = fn
}

// RecordRun logs a finished run.
func (s *MetricsStore) RecordRun(run RunRecord) {
	if run.Duration == 0 && !run.EndTime.IsZero() {
		run.Duration = run.EndTime.Sub(run.StartTime)
	}

	s.mu.Lock()
	s.runHistory[s.runHead] = run
	s.runHead = (s.runHead + 1) % s.runCap
	if s.runSize < s.runCap {
		s.runSize++
	}

	s.totalRuns++
	switch run.Status {
	case RunStatusSuccess:
		s.totalSuccess++
	case RunStatusError:
		s.totalErrors++
	}
	s.totalImages += int64(run.Images)
	s.totalQuestions += int64(run.Questions)

	stats, ok := s.runByKind[run.Kind]
	if !ok {
		stats = &kindStats{}
		s.runByKind[run.Kind] = stats
	}
	stats.count++
	if run.Status == RunStatusSuccess {
		stats.successCount++
	}
	stats.totalDuration += run.Duration
	persist := s.persist
	s.mu.Unlock()

	if persist != nil {
		persist(run)
	}
}

// RecordVisionCall logs one vision call.
func (s *MetricsStore) RecordVisionCall(provider string, ok bool, attempts int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, found := s.vision[provider]
	if !found {
		stats = &visionStats{}
		s.vision[provider] = stats
	}
	stats.calls++
	if !ok {
		stats.failures++
	}
	stats.attempts += int64(attempts)
	stats.totalDuration += d
}

// GetTaskMetrics returns aggregated statistics.
func (s *MetricsStore) GetTaskMetrics() TaskMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := TaskMetrics{
		TotalRuns:      s.totalRuns,
		TotalSuccess:   s.totalSuccess,
		TotalErrors:    s.totalErrors,
		TotalImages:    s.totalImages,
		TotalQuestions: s.totalQuestions,
		ByKind:         make(map[string]*KindMetrics),
		Vision:         make(map[string]*VisionMetrics),
	}

	for kind, stats := range s.runByKind {
		var successRate float64
		var avgDuration time.Duration
		if stats.count > 0 {
			successRate = float64(stats.successCount) / float64(stats.count) * 100
			avgDuration = stats.totalDuration / time.Duration(stats.count)
		}
		metrics.ByKind[kind] = &KindMetrics{
			Count:       stats.count,
			SuccessRate: successRate,
			AvgDuration: avgDuration,
		}
	}

	for provider, stats := range s.vision {
		vm := &VisionMetrics{Calls: stats.calls, Failures: stats.failures, Attempts: stats.attempts}
		if stats.calls > 0 {
			vm.AvgDuration = stats.totalDuration / time.Duration(stats.calls)
		}
		metrics.Vision[provider] = vm
	}

	return metrics
}

// GetRecentRuns returns up to limit runs, oldest first.
func (s *MetricsStore) GetRecentRuns(limit int) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.runSize == 0 {
		return []RunRecord{}
	}
	if limit > s.runSize {
		limit = s.runSize
	}

	result := make([]RunRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.runHead - limit + i + s.runCap) % s.runCap
		result[i] = s.runHistory[idx]
	}
	return result
}

// GetSystemStatus returns the overall system health status.
func (s *MetricsStore) GetSystemStatus() SystemStatus {
	s.mu.RLock()
	health := s.health
	s.mu.RUnlock()

	status := SystemHealthRunning
	if health != nil {
		status = health()
	}

	return SystemStatus{
		Health:    status,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastCheck: time.Now(),
	}
}

var _ Collector = (*MetricsStore)(nil)
