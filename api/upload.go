package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"insightpdf/core"
	"insightpdf/pdfprocessor"
	"insightpdf/pipeline"
	"insightpdf/resultsink"
	"insightpdf/tasks"
)

// multipartOverhead is allowed on top of the file size limit for the other
// form fields and part headers.
const multipartOverhead = 1 << 20

// UploadAccepted is the 202 body of an accepted upload.
type UploadAccepted struct {
	TaskID   string       `json:"task_id"`
	Filename string       `json:"filename"`
	FileSize int64        `json:"file_size"`
	Status   tasks.Status `json:"status"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
				fmt.Sprintf("upload exceeds the %s limit", core.FormatBytes(s.cfg.MaxFileSize)))
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "expected a multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFile, "form field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "cannot read uploaded file: "+err.Error())
		return
	}
	filename := filepath.Base(header.Filename)
	if err := pdfprocessor.ValidateUpload(data, filename, s.cfg.MaxFileSize); err != nil {
		s.writeErr(w, r, err)
		return
	}

	provider, err := s.resolveProvider(r.FormValue("provider"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	payload, err := uploadOptions(r)
	if err != nil {
		writeParamErr(w, err)
		return
	}
	payload.Provider = provider
	payload.Filename = filename
	payload.FileSize = int64(len(data))
	payload.Checksum = core.ComputeHash(data)

	task := tasks.NewUploadTask(payload)
	path, err := s.storeUpload(task.ID, filename, data)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	task.Upload.FilePath = path

	if _, err := s.store.Create(r.Context(), task); err != nil {
		os.Remove(path)
		s.writeErr(w, r, err)
		return
	}

	if err := s.queue.Enqueue(pipeline.Job{Kind: tasks.KindUpload, TaskID: task.ID}); err != nil {
		msg := "could not schedule conversion: " + err.Error()
		if _, uerr := s.store.Update(r.Context(), task.ID, tasks.Update{
			Status:       tasks.StatusFailed,
			ErrorMessage: tasks.String(msg),
		}); uerr != nil {
			s.logger.Error("cannot mark unscheduled upload failed", zap.String("task_id", task.ID), zap.Error(uerr))
		}
		s.writeErr(w, r, err)
		return
	}

	s.logger.Info("upload accepted",
		zap.String("task_id", task.ID),
		zap.String("filename", filename),
		zap.Int64("size", payload.FileSize),
		zap.String("provider", payload.Provider),
		zap.Bool("auto_analyze", payload.AutoAnalyze),
	)
	writeJSON(w, http.StatusAccepted, UploadAccepted{
		TaskID:   task.ID,
		Filename: filename,
		FileSize: payload.FileSize,
		Status:   tasks.StatusPending,
	})
}

// resolveProvider applies the default provider and checks it can be called.
func (s *Server) resolveProvider(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.providers.Default()
	}
	if err := s.providers.Check(name); err != nil {
		return "", err
	}
	return name, nil
}

// uploadOptions reads the optional form fields.
func uploadOptions(r *http.Request) (tasks.UploadPayload, error) {
	var p tasks.UploadPayload
	p.CustomPrompt = strings.TrimSpace(r.FormValue("custom_prompt"))

	auto, err := boolValue("auto_analyze", r.FormValue("auto_analyze"), true)
	if err != nil {
		return p, err
	}
	p.AutoAnalyze = auto

	if p.SkipCoverPages, err = skipValue("skip_cover_pages", r.FormValue("skip_cover_pages"), pdfprocessor.MaxCoverPages); err != nil {
		return p, err
	}
	if p.SkipBackPages, err = skipValue("skip_back_pages", r.FormValue("skip_back_pages"), pdfprocessor.MaxBackPages); err != nil {
		return p, err
	}
	return p, nil
}

func skipValue(name, raw string, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return parseBounded(name, raw, 0, max)
}

// storeUpload writes the PDF as {task_id}_{name}.pdf under the upload dir.
func (s *Server) storeUpload(taskID, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	stem := resultsink.SanitizeName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	path := filepath.Join(s.cfg.UploadDir, taskID+"_"+stem+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}
