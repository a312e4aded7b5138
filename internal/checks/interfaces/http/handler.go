package checkshttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	checksapp "fixedrate-billing/internal/checks/application"
	checks "fixedrate-billing/internal/checks/domain"
)

const (
	timeLayout      = time.RFC3339
	defaultJobLimit = 20

	msgReportMissing = "report not generated yet"
)

// Handler serves the check job API and the generated reports.
type Handler struct {
	runner *checksapp.Runner
	logger *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(runner *checksapp.Runner, logger *zap.Logger) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("checks handler: nil runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, logger: logger.Named("http.checks")}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/tests/start", h)
	mux.Handle("/api/cov/start", h)
	mux.Handle("/api/jobs", h)
	mux.Handle("/api/jobs/", h)
	mux.Handle("/report/tests", h)
	mux.Handle("/report/cov", h)
	mux.Handle("/report/cov/", h)
}

// ServeHTTP routes check endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/tests/start" && r.Method == http.MethodPost:
		h.handleStart(w, r, checks.KindTests)
	case r.URL.Path == "/api/cov/start" && r.Method == http.MethodPost:
		h.handleStart(w, r, checks.KindCoverage)
	case r.URL.Path == "/api/jobs" && r.Method == http.MethodGet:
		h.handleJobs(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/jobs/") && r.Method == http.MethodGet:
		h.handleJob(w, r, strings.TrimPrefix(r.URL.Path, "/api/jobs/"))
	case r.URL.Path == "/report/tests" && isRead(r):
		h.serveFile(w, r, h.runner.Paths().UnitReport)
	case r.URL.Path == "/report/cov" && isRead(r):
		http.Redirect(w, r, "/report/cov/", http.StatusMovedPermanently)
	case strings.HasPrefix(r.URL.Path, "/report/cov/") && isRead(r):
		h.handleCoverage(w, r, strings.TrimPrefix(r.URL.Path, "/report/cov/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type jobResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	LogPath      string `json:"log_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	ReportURL    string `json:"report_url,omitempty"`
	CreatedAt    string `json:"created_at"`
	StartedAt    string `json:"started_at,omitempty"`
	EndedAt      string `json:"ended_at,omitempty"`
}

func toResponse(job *checks.Job) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		Kind:         string(job.Kind),
		Status:       string(job.Status),
		Error:        job.Error,
		LogPath:      job.LogPath,
		ArtifactPath: job.ArtifactPath,
		CreatedAt:    job.CreatedAt.UTC().Format(timeLayout),
		StartedAt:    formatOptionalTime(job.StartedAt),
		EndedAt:      formatOptionalTime(job.EndedAt),
	}
	if job.ArtifactPath != "" {
		resp.ReportURL = checksapp.ReportRoute(job.Kind)
	}
	return resp
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, kind checks.Kind) {
	job, err := h.runner.Start(r.Context(), kind)
	if err != nil {
		if errors.Is(err, checks.ErrJobRunning) {
			http.Error(w, "job already running", http.StatusConflict)
			return
		}
		h.logger.Error("start check job failed", zap.String("kind", string(kind)), zap.Error(err))
		http.Error(w, "start job error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started": true,
		"job_id":  job.ID,
		"kind":    string(job.Kind),
	})
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	jobs, err := h.runner.Jobs(r.Context(), limit)
	if err != nil {
		http.Error(w, "query jobs error", http.StatusInternalServerError)
		return
	}
	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	job, err := h.runner.Job(r.Context(), id)
	if err != nil {
		if errors.Is(err, checks.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "query job error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(job))
}

func (h *Handler) handleCoverage(w http.ResponseWriter, r *http.Request, rel string) {
	if rel == "" {
		h.serveFile(w, r, h.runner.Paths().CoverageHTML)
		return
	}
	target, ok := resolveWithin(h.runner.Paths().CoverageDir, rel)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	h.serveFile(w, r, target)
}

// resolveWithin maps a URL path below root to a file path, refusing
// anything that would leave root.
func resolveWithin(root, rel string) (string, bool) {
	if strings.Contains(rel, "\\") || strings.Contains(rel, "\x00") {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", false
		}
	}
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" {
		return "", false
	}
	target := filepath.Join(root, filepath.FromSlash(cleaned))
	within, err := filepath.Rel(root, target)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		http.Error(w, msgReportMissing, http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, msgReportMissing, http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-cache, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func isRead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
