package main

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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examforge/digitizer"
	"github.com/examforge/digitizer/viewer"
)

// processTimeout bounds a single document run end to end, including
// every model call the document triggers.
const processTimeout = 30 * time.Minute

// maxUploadSize limits the multipart request body (100 MB).
const maxUploadSize = 100 << 20

type handler struct {
	pipeline  digitizer.Pipeline
	outputDir string
	uploadDir string
}

func newHandler(pipeline digitizer.Pipeline, outputDir, uploadDir string) (*handler, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "digitizer-uploads")
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &handler{
		pipeline:  pipeline,
		outputDir: outputDir,
		uploadDir: uploadDir,
	}, nil
}

// handleProcess accepts a Word document via multipart form and runs the
// full digitization pipeline on it. The response carries the parsed
// questions along with paths for fetching the generated artifacts.
func (h *handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form field: file")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".doc" && ext != ".docx" {
		writeError(w, http.StatusBadRequest, "unsupported document format: "+ext)
		return
	}

	jobID := uuid.NewString()

	inputPath := filepath.Join(h.uploadDir, jobID+ext)
	if err := saveUpload(file, inputPath); err != nil {
		slog.Error("saving upload", "error", err, "job", jobID)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(inputPath)

	outDir := filepath.Join(h.outputDir, jobID)

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.pipeline.Process(ctx, inputPath, outDir)
	if err != nil {
		slog.Error("processing document", "error", err, "job", jobID, "file", name)
		switch {
		case errors.Is(err, digitizer.ErrUnsupportedFormat),
			errors.Is(err, digitizer.ErrInputNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
		default:
			writeError(w, http.StatusInternalServerError, "processing failed")
		}
		return
	}

	slog.Info("document processed",
		"job", jobID,
		"file", name,
		"sections", len(result.Sections),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Document processed successfully",
		"job_id":  jobID,
		"viewer":  "/download/" + jobID + "/" + viewer.FileName,
		"data":    result,
	})
}

// handleJobResult returns the stored questions for a finished job.
func (h *handler) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := uuid.Parse(jobID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	path := filepath.Join(h.outputDir, jobID, digitizer.QuestionsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		slog.Error("reading job result", "error", err, "job", jobID)
		writeError(w, http.StatusInternalServerError, "failed to read job result")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleDownload serves generated artifacts (viewer.html, questions.json,
// media files) from a job's output directory.
func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")

	// Reject path traversal before touching the filesystem.
	rel = filepath.Clean("/" + rel)[1:]
	if rel == "" || rel == "." {
		writeError(w, http.StatusBadRequest, "missing file path")
		return
	}

	base, err := filepath.Abs(h.outputDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	full := filepath.Join(base, rel)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	http.ServeFile(w, r, full)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func saveUpload(src io.Reader, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
