package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"doc-translator/internal/db"
	"doc-translator/internal/engine"
	"doc-translator/internal/settings"
)

const maxUploadBytes = 64 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == "/" || filename == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !engine.SupportedInput(filename) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
		return
	}

	username := currentUser(r).Username
	uploadDir := filepath.Join(s.db.DataDir(), "users", username, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	fileID := uuid.NewString()
	dst, err := os.Create(filepath.Join(uploadDir, fileID+"_"+filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"file_id":  fileID,
		"filename": filename,
	})
}

type translateRequest struct {
	FileID    string            `json:"file_id"`
	Filename  string            `json:"filename"`
	Overrides settings.Settings `json:"overrides"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FileID == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "file_id and filename are required")
		return
	}

	filename := filepath.Base(req.Filename)
	username := currentUser(r).Username
	uploadPath := filepath.Join(s.db.DataDir(), "users", username, "uploads", req.FileID+"_"+filename)
	if _, err := os.Stat(uploadPath); err != nil {
		writeError(w, http.StatusNotFound, "uploaded file not found")
		return
	}

	snapshot, err := json.Marshal(req.Overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid overrides")
		return
	}

	taskID, err := s.tasks.Create(username, req.FileID, filename, string(snapshot))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	// The run outlives this request, so it is not bound to the request
	// context.
	s.runner.Start(context.Background(), taskID)

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func taskResponse(t *db.Task) map[string]any {
	out := map[string]any{
		"task_id":    t.TaskID,
		"status":     t.Status,
		"progress":   t.Progress,
		"message":    t.Message,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
	if t.OriginalFilename.Valid {
		out["filename"] = t.OriginalFilename.String
	}
	if t.StartedAt.Valid {
		out["started_at"] = t.StartedAt.Time.Format(time.RFC3339)
	}
	if t.CompletedAt.Valid {
		out["completed_at"] = t.CompletedAt.Time.Format(time.RFC3339)
	}
	if t.ErrorMessage.Valid {
		out["error"] = t.ErrorMessage.String
	}
	out["has_mono"] = t.MonoPath.Valid
	out["has_dual"] = t.DualPath.Valid
	return out
}

// getOwnedTask loads the task and hides other users' tasks behind 404.
func (s *Server) getOwnedTask(w http.ResponseWriter, r *http.Request) *db.Task {
	t, err := s.tasks.Get(r.PathValue("id"))
	if err != nil || t.Username != currentUser(r).Username {
		if err != nil && !errors.Is(err, db.ErrTaskNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to load task")
			return nil
		}
		writeError(w, http.StatusNotFound, "task not found")
		return nil
	}
	return t
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if t := s.getOwnedTask(w, r); t != nil {
		writeJSON(w, http.StatusOK, taskResponse(t))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	username := currentUser(r).Username

	// Pre-database deployments kept per-user history.json files; fold them
	// in on first listing.
	if err := s.db.ImportLegacyHistory(username); err != nil {
		slog.Warn("legacy history import failed", "username", username, "error", err)
	}

	tasks, err := s.tasks.ListByOwner(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	err := s.tasks.Delete(r.PathValue("id"), currentUser(r).Username)
	switch {
	case errors.Is(err, db.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to delete task")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"detail": "task deleted"})
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	t := s.getOwnedTask(w, r)
	if t == nil {
		return
	}

	var path string
	switch r.PathValue("variant") {
	case "mono":
		if t.MonoPath.Valid {
			path = t.MonoPath.String
		}
	case "dual":
		if t.DualPath.Valid {
			path = t.DualPath.String
		}
	default:
		writeError(w, http.StatusBadRequest, "variant must be mono or dual")
		return
	}
	if path == "" {
		writeError(w, http.StatusNotFound, "output not available")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "output not available")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
