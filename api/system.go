package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"insightpdf/metrics"
	"insightpdf/tasks"
)

// DirStatus reports whether a working directory is usable.
type DirStatus struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// QueueStatus is the depth of the job queue.
type QueueStatus struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Health is the body of GET /health.
type Health struct {
	Status          string               `json:"status"`
	Version         string               `json:"version"`
	Uptime          string               `json:"uptime"`
	UptimeSeconds   int64                `json:"uptime_seconds"`
	Directories     map[string]DirStatus `json:"directories"`
	Providers       []string             `json:"providers"`
	DefaultProvider string               `json:"default_provider"`
	Queue           QueueStatus          `json:"queue"`
	Tasks           map[tasks.Status]int `json:"tasks"`
	WSClients       int                  `json:"websocket_clients"`
}

// MetricsResponse is the body of GET /api/v1/metrics.
type MetricsResponse struct {
	System metrics.SystemStatus `json:"system"`
	Runs   metrics.TaskMetrics  `json:"runs"`
	Queue  QueueStatus          `json:"queue"`
	Tasks  map[tasks.Status]int `json:"tasks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.started)
	queued, running := s.queue.Stats()

	h := Health{
		Status:          metrics.SystemHealthRunning,
		Version:         s.cfg.Version,
		Uptime:          uptime.Round(time.Second).String(),
		UptimeSeconds:   int64(uptime.Seconds()),
		Directories:     make(map[string]DirStatus),
		Providers:       s.providers.Configured(),
		DefaultProvider: s.providers.Default(),
		Queue:           QueueStatus{Queued: queued, Running: running},
		Tasks:           s.store.Counts(),
		WSClients:       s.hub.ClientCount(),
	}
	if h.Providers == nil {
		h.Providers = []string{}
	}

	for name, dir := range map[string]string{
		"data":    s.cfg.DataDir,
		"uploads": s.cfg.UploadDir,
		"outputs": s.cfg.OutputDir,
	} {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		st := DirStatus{Path: dir, Exists: err == nil && info.IsDir()}
		if !st.Exists {
			h.Status = metrics.SystemHealthDegraded
		}
		h.Directories[name] = st
	}
	if len(h.Providers) == 0 {
		h.Status = metrics.SystemHealthDegraded
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	queued, running := s.queue.Stats()
	writeJSON(w, http.StatusOK, MetricsResponse{
		System: s.metrics.GetSystemStatus(),
		Runs:   s.metrics.GetTaskMetrics(),
		Queue:  QueueStatus{Queued: queued, Running: running},
		Tasks:  s.store.Counts(),
	})
}

// handleRuns lists run history, from the database when one is configured
// and from the in-memory ring otherwise. Newest runs come first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultRunsLimit, 1, maxListLimit)
	if err != nil {
		writeParamErr(w, err)
		return
	}
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))

	if s.history != nil {
		runs, err := s.history.ListRuns(r.Context(), limit, taskID)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"source": "database", "count": len(runs), "runs": runs})
		return
	}

	runs := s.metrics.GetRecentRuns(maxListLimit)
	out := make([]metrics.RunRecord, 0, limit)
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if taskID != "" && run.TaskID != taskID {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": "memory", "count": len(out), "runs": out})
}
