package api

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"insightpdf/pipeline"
	"insightpdf/resultsink"
	"insightpdf/tasks"
)

// AnalysisOptions are the settings shared by both ways of creating an
// analysis task. Unset extraction flags default to true.
type AnalysisOptions struct {
	Name                   string `json:"name"`
	Description            string `json:"description"`
	Provider               string `json:"provider"`
	CustomPrompt           string `json:"custom_prompt"`
	ExtractAnswers         *bool  `json:"extract_answers"`
	ExtractKnowledgePoints *bool  `json:"extract_knowledge_points"`
	OutputFormat           string `json:"output_format"`
	BatchSize              int    `json:"batch_size"`
}

// CreateAnalysisRequest creates an analysis over explicit image paths.
type CreateAnalysisRequest struct {
	AnalysisOptions
	ImagePaths []string `json:"image_paths"`
}

// CreateFromUploadRequest creates an analysis over pages of a completed
// upload. An empty selection takes every page.
type CreateFromUploadRequest struct {
	AnalysisOptions
	UploadTaskID         string `json:"upload_task_id"`
	SelectedImageIndices []int  `json:"selected_image_indices"`
}

// AnalysisDetail is the full view of an analysis task.
type AnalysisDetail struct {
	TaskStatus
	Description            string   `json:"description,omitempty"`
	CustomPrompt           string   `json:"custom_prompt,omitempty"`
	ImagePaths             []string `json:"image_paths"`
	ExtractAnswers         bool     `json:"extract_answers"`
	ExtractKnowledgePoints bool     `json:"extract_knowledge_points"`
	BatchSize              int      `json:"batch_size"`
	Runs                   int      `json:"runs"`
	Busy                   bool     `json:"busy"`
}

// ExecuteAccepted is the 202 body of an execute request.
type ExecuteAccepted struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	BatchSize int    `json:"batch_size"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// payload validates the options and builds the analysis payload.
func (s *Server) payload(o AnalysisOptions, images []string) (tasks.AnalysisPayload, error) {
	provider, err := s.resolveProvider(o.Provider)
	if err != nil {
		return tasks.AnalysisPayload{}, err
	}
	format := strings.ToLower(strings.TrimSpace(o.OutputFormat))
	if format == "" {
		format = tasks.FormatCSV
	}
	if !resultsink.ValidFormat(format) {
		return tasks.AnalysisPayload{}, &errParam{"output_format", "must be csv, xlsx or jsonl"}
	}
	if o.BatchSize < 0 || o.BatchSize > maxBatchSize {
		return tasks.AnalysisPayload{}, &errParam{"batch_size", fmt.Sprintf("must be between 1 and %d", maxBatchSize)}
	}
	name := strings.TrimSpace(o.Name)
	if name == "" {
		name = "analysis"
	}

	return tasks.AnalysisPayload{
		Name:                   name,
		Description:            strings.TrimSpace(o.Description),
		ImagePaths:             images,
		Provider:               provider,
		CustomPrompt:           strings.TrimSpace(o.CustomPrompt),
		ExtractAnswers:         boolOr(o.ExtractAnswers, true),
		ExtractKnowledgePoints: boolOr(o.ExtractKnowledgePoints, true),
		OutputFormat:           format,
		BatchSize:              o.BatchSize,
	}, nil
}

// writePayloadErr separates parameter errors from provider errors.
func (s *Server) writePayloadErr(w http.ResponseWriter, r *http.Request, err error) {
	var perr *errParam
	if errors.As(err, &perr) {
		writeParamErr(w, err)
		return
	}
	s.writeErr(w, r, err)
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req CreateAnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParamErr(w, err)
		return
	}
	if len(req.ImagePaths) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidParam, "image_paths must not be empty")
		return
	}
	for _, p := range req.ImagePaths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, CodeInvalidParam, "image not found: "+p)
			return
		}
	}

	payload, err := s.payload(req.AnalysisOptions, req.ImagePaths)
	if err != nil {
		s.writePayloadErr(w, r, err)
		return
	}
	s.createAnalysis(w, r, payload)
}

func (s *Server) handleCreateAnalysisFromUpload(w http.ResponseWriter, r *http.Request) {
	var req CreateFromUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParamErr(w, err)
		return
	}
	if req.UploadTaskID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParam, "upload_task_id is required")
		return
	}

	upload, err := s.store.GetKind(req.UploadTaskID, tasks.KindUpload)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	images, err := pipeline.SelectImages(upload, req.SelectedImageIndices)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	opts := req.AnalysisOptions
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = pipeline.DefaultAnalysisName(upload.Upload.Filename)
	}
	if strings.TrimSpace(opts.Provider) == "" {
		opts.Provider = upload.Upload.Provider
	}
	if strings.TrimSpace(opts.CustomPrompt) == "" {
		opts.CustomPrompt = upload.Upload.CustomPrompt
	}

	payload, err := s.payload(opts, images)
	if err != nil {
		s.writePayloadErr(w, r, err)
		return
	}
	payload.SourceUploadTaskID = upload.ID
	s.createAnalysis(w, r, payload)
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request, payload tasks.AnalysisPayload) {
	t := tasks.NewAnalysisTask(payload)
	if _, err := s.store.Create(r.Context(), t); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.logger.Info("analysis task created",
		zap.String("task_id", t.ID),
		zap.String("name", payload.Name),
		zap.Int("images", len(payload.ImagePaths)),
		zap.String("source_upload", payload.SourceUploadTaskID),
	)
	writeJSON(w, http.StatusCreated, s.analysisDetail(t))
}

func (s *Server) analysisDetail(t tasks.Task) AnalysisDetail {
	a := t.Analysis
	return AnalysisDetail{
		TaskStatus:             NewTaskStatus(t),
		Description:            a.Description,
		CustomPrompt:           a.CustomPrompt,
		ImagePaths:             a.ImagePaths,
		ExtractAnswers:         a.ExtractAnswers,
		ExtractKnowledgePoints: a.ExtractKnowledgePoints,
		BatchSize:              a.BatchSize,
		Runs:                   a.Runs,
		Busy:                   s.queue.Busy(t.ID),
	}
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetKind(chi.URLParam(r, "id"), tasks.KindAnalysis)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.analysisDetail(t))
}

func (s *Server) handleExecuteAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.GetKind(id, tasks.KindAnalysis)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	batch, err := intParam(r, "batch_size", 0, 1, maxBatchSize)
	if err != nil {
		writeParamErr(w, err)
		return
	}

	if err := s.queue.Enqueue(pipeline.Job{Kind: tasks.KindAnalysis, TaskID: id, BatchSize: batch}); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if batch == 0 {
		batch = t.Analysis.BatchSize
	}
	s.logger.Info("analysis queued", zap.String("task_id", id), zap.Int("batch_size", batch))
	writeJSON(w, http.StatusAccepted, ExecuteAccepted{TaskID: id, Status: "queued", BatchSize: batch})
}

func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetKind(chi.URLParam(r, "id"), tasks.KindAnalysis)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	path := t.Analysis.ResultPath
	if path == "" {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   http.StatusText(http.StatusConflict),
			Message: "task has not been executed yet",
			Code:    CodeNotReady,
			Status:  string(t.Status),
		})
		return
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, CodeNotFound, "result file no longer exists")
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", resultContentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func resultContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".jsonl":
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}

func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	upload, err := s.store.GetKind(chi.URLParam(r, "id"), tasks.KindUpload)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	paths, err := pipeline.SelectImages(upload, nil)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	images := make([]ImageInfo, 0, len(paths))
	for i, p := range paths {
		info := ImageInfo{Index: i, Path: p, PageNumber: i + 1, Filename: filepath.Base(p)}
		if st, err := os.Stat(p); err == nil {
			info.Size = st.Size()
		}
		images = append(images, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_task_id": upload.ID,
		"filename":       upload.Upload.Filename,
		"total_images":   len(images),
		"images":         images,
	})
}
