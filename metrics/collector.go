package metrics

import "time"

// Collector records pipeline activity. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordRun logs a finished upload or analysis run.
	RecordRun(run RunRecord)

	// RecordVisionCall logs one vision call, after its retries.
	RecordVisionCall(provider string, ok bool, attempts int, d time.Duration)

	GetTaskMetrics() TaskMetrics
	GetRecentRuns(limit int) []RunRecord
	GetSystemStatus() SystemStatus
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRun(RunRecord)                               {}
func (Nop) RecordVisionCall(string, bool, int, time.Duration) {}
func (Nop) GetTaskMetrics() TaskMetrics                       { return TaskMetrics{} }
func (Nop) GetRecentRuns(int) []RunRecord                     { return nil }
func (Nop) GetSystemStatus() SystemStatus                     { return SystemStatus{Health: SystemHealthRunning} }

var _ Collector = Nop{}
