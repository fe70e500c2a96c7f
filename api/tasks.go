package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"insightpdf/resultsink"
	"insightpdf/tasks"
)

// MessageTaskDeleted tells websocket clients a task record is gone.
const MessageTaskDeleted = "task_deleted"

// TaskList is the body of GET /api/v1/tasks.
type TaskList struct {
	Tasks []TaskStatus `json:"tasks"`
	Count int          `json:"count"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTaskStatus(t))
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if t.Status != tasks.StatusCompleted {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   http.StatusText(http.StatusConflict),
			Message: fmt.Sprintf("task is %s, results are available once it completes", t.Status),
			Code:    CodeNotReady,
			Status:  string(t.Status),
		})
		return
	}

	switch t.Kind {
	case tasks.KindUpload:
		u := t.Upload
		writeJSON(w, http.StatusOK, UploadResult{
			TaskID:         t.ID,
			Kind:           string(t.Kind),
			Filename:       u.Filename,
			TotalPages:     u.TotalPages,
			OutputDir:      u.OutputDir,
			ImagePaths:     u.ImagePaths,
			AnalysisTaskID: u.AnalysisTaskID,
		})
	case tasks.KindAnalysis:
		a := t.Analysis
		qs, err := resultsink.ReadQuestions(a.ResultPath)
		if err != nil {
			s.writeErr(w, r, fmt.Errorf("read result of %s: %w", t.ID, err))
			return
		}
		writeJSON(w, http.StatusOK, AnalysisResult{
			TaskID:          t.ID,
			Kind:            string(t.Kind),
			Name:            a.Name,
			ResultPath:      a.ResultPath,
			TotalQuestions:  a.TotalQuestions,
			ProcessedImages: a.ProcessedImages,
			FailedImages:    a.FailedImages,
			Questions:       qs,
		})
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		writeParamErr(w, err)
		return
	}
	kind := tasks.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, CodeInvalidParam, "kind must be upload or analysis")
		return
	}

	list := s.store.List(limit, kind)
	out := TaskList{Tasks: make([]TaskStatus, 0, len(list)), Count: len(list)}
	for _, t := range list {
		out.Tasks = append(out.Tasks, NewTaskStatus(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	s.deleteTask(w, r, "")
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	s.deleteTask(w, r, tasks.KindAnalysis)
}

// deleteTask removes the record. Tasks held by the queue cannot be deleted.
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, kind tasks.Kind) {
	id := chi.URLParam(r, "id")
	var err error
	if kind != "" {
		_, err = s.store.GetKind(id, kind)
	} else {
		_, err = s.store.Get(id)
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if s.queue.Busy(id) {
		writeError(w, http.StatusConflict, CodeTaskBusy, "task is queued or running")
		return
	}

	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, CodeNotFound, "task not found: "+id)
		return
	}
	s.hub.Broadcast(Message{
		Type:      MessageTaskDeleted,
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"task_id": id},
	})
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "deleted": true})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "max_age_hours", defaultCleanupHours, 1, maxCleanupHours)
	if err != nil {
		writeParamErr(w, err)
		return
	}
	removed, err := s.store.Cleanup(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed, "max_age_hours": hours})
}

// handleCancelTask marks a task cancelled. Running work is not interrupted
// and may still overwrite the status when it finishes.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.Get(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if t.Status.Terminal() {
		writeError(w, http.StatusConflict, CodeAlreadyFinished, fmt.Sprintf("task is already %s", t.Status))
		return
	}

	t, err = s.store.Update(r.Context(), id, tasks.Update{Status: tasks.StatusCancelled})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.logger.Info("task cancelled", zap.String("task_id", id), zap.String("kind", string(t.Kind)))
	writeJSON(w, http.StatusOK, NewTaskStatus(t))
}
