package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/traces-scraper/config"
	"github.com/traces-scraper/jobs"
	"github.com/traces-scraper/model"
	"github.com/traces-scraper/pipeline"
	"github.com/traces-scraper/report"
	"github.com/traces-scraper/suppliers"
)

//go:embed templates/index.html
var templateFS embed.FS

var allowedUploadTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"application/vnd.ms-excel": true,
	"text/plain":               true,
}

// Engine runs one batch; pipeline.Execute with the chromedp session in
// production
type Engine func(ctx context.Context, opts pipeline.Options, sups []model.Supplier, hooks pipeline.Hooks, logger *log.Logger) (*model.Report, error)

// DefaultEngine drives a real browser
func DefaultEngine(ctx context.Context, opts pipeline.Options, sups []model.Supplier, hooks pipeline.Hooks, logger *log.Logger) (*model.Report, error) {
	return pipeline.Execute(ctx, opts, sups, nil, hooks, logger)
}

// HTTPServer serves the upload UI and job API
type HTTPServer struct {
	cfg     *config.Config
	manager *jobs.Manager
	engine  Engine
	logger  *log.Logger
	version string

	auth     *authenticator
	limiter  *clientLimiter
	tmpl     *template.Template
	upgrader websocket.Upgrader
}

// NewHTTPServer wires the handlers. Google login is enabled when the
// config carries client credentials.
func NewHTTPServer(cfg *config.Config, manager *jobs.Manager, engine Engine, logger *log.Logger, version string) (*HTTPServer, error) {
	if engine == nil {
		engine = DefaultEngine
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[SERVER] ", log.LstdFlags)
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &HTTPServer{
		cfg:     cfg,
		manager: manager,
		engine:  engine,
		logger:  logger,
		version: version,
		limiter: newClientLimiter(cfg.Server.UploadsPerMinute),
		tmpl:    tmpl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if cfg.OAuthEnabled() {
		s.auth, err = newAuthenticator(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL, cfg.SecretKey, cfg.Server.AllowedDomain)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler with security headers and, when
// configured, login enforcement
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("POST /cancel/{id}", s.handleCancel)
	mux.HandleFunc("GET /result/{id}", s.handleResult)
	mux.HandleFunc("GET /report/{id}", s.handleReport)
	mux.HandleFunc("GET /ws/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var h http.Handler = mux
	if s.auth != nil {
		mux.HandleFunc("GET /login", s.auth.handleLogin)
		mux.HandleFunc("GET /auth", s.auth.handleCallback)
		mux.HandleFunc("GET /logout", s.auth.handleLogout)
		h = s.auth.require(mux)
	}
	return securityHeaders(h)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

type pageData struct {
	Version      string
	User         string
	OAuth        bool
	JobID        string
	Error        string
	DelaySeconds float64
	TimeoutMS    int
}

func (s *HTTPServer) page(r *http.Request) pageData {
	d := pageData{
		Version:      s.version,
		OAuth:        s.auth != nil,
		DelaySeconds: s.cfg.DelaySeconds,
		TimeoutMS:    s.cfg.TimeoutMS,
	}
	if s.auth != nil {
		d.User = s.auth.user(r)
	}
	return d
}

func (s *HTTPServer) render(w http.ResponseWriter, status int, d pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", d); err != nil {
		s.logger.Printf("Failed to render page: %v", err)
	}
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.page(r))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// fail answers with JSON for API clients and the rendered page for browsers
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if wantsJSON(r) {
		writeError(w, status, msg)
		return
	}
	d := s.page(r)
	d.Error = msg
	s.render(w, status, d)
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large (max %d MB)", s.cfg.Server.MaxUploadMB))
			return
		}
		s.fail(w, r, http.StatusBadRequest, "invalid upload")
		return
	}

	file, hdr, err := r.FormFile("csv_file")
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if hdr.Size > maxBytes {
		s.fail(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large (max %d MB)", s.cfg.Server.MaxUploadMB))
		return
	}
	if !strings.EqualFold(filepath.Ext(hdr.Filename), ".csv") {
		s.fail(w, r, http.StatusBadRequest, "only .csv files are accepted")
		return
	}
	mediaType, _, _ := mime.ParseMediaType(hdr.Header.Get("Content-Type"))
	if !allowedUploadTypes[mediaType] {
		s.fail(w, r, http.StatusBadRequest, "unsupported file type")
		return
	}

	delay, timeoutMS, err := s.runParams(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sups, err := suppliers.Read(file, s.cfg.HeaderLabels)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if !s.limiter.Allow(r) {
		s.fail(w, r, http.StatusTooManyRequests, "too many uploads, try again later")
		return
	}

	job, err := s.manager.Submit(len(sups), s.runFunc(sups, delay, timeoutMS))
	if err != nil {
		s.logger.Printf("Failed to create job: %v", err)
		s.fail(w, r, http.StatusInternalServerError, "failed to start job")
		return
	}
	s.logger.Printf("Job %s started: %d supplier(s) from %s", job.ID, len(sups), hdr.Filename)

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "total": len(sups)})
		return
	}
	d := s.page(r)
	d.JobID = job.ID
	s.render(w, http.StatusOK, d)
}

// runParams reads the optional delay_seconds and timeout_ms form values
func (s *HTTPServer) runParams(r *http.Request) (time.Duration, int, error) {
	delay := s.cfg.DelaySeconds
	if v := strings.TrimSpace(r.FormValue("delay_seconds")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 600 {
			return 0, 0, errors.New("delay_seconds must be between 0 and 600")
		}
		delay = f
	}
	timeoutMS := s.cfg.TimeoutMS
	if v := strings.TrimSpace(r.FormValue("timeout_ms")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1000 || n > 600000 {
			return 0, 0, errors.New("timeout_ms must be between 1000 and 600000")
		}
		timeoutMS = n
	}
	return time.Duration(delay * float64(time.Second)), timeoutMS, nil
}

func (s *HTTPServer) runFunc(sups []model.Supplier, delay time.Duration, timeoutMS int) jobs.RunFunc {
	return func(ctx context.Context, job *jobs.Job, hooks pipeline.Hooks, logger *log.Logger) (*model.Report, error) {
		cfg := *s.cfg
		cfg.TimeoutMS = timeoutMS
		opts := cfg.PipelineOptions(job.RunDir)
		opts.Delay = delay
		return s.engine(ctx, opts, sups, hooks, logger)
	}
}

func (s *HTTPServer) job(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.manager.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.jobError(w, err)
		return nil, false
	}
	return job, true
}

func (s *HTTPServer) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Printf("Failed to load job: %v", err)
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusBadRequest, "job is not running")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

// loadReport reads the job's report.json, the only record of which files
// belong to the run
func (s *HTTPServer) loadReport(w http.ResponseWriter, job *jobs.Job) (*model.Report, bool) {
	if !job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job is still "+string(job.Status))
		return nil, false
	}
	rep, err := report.ReadJSON(filepath.Join(job.RunDir, report.JSONFile))
	if err != nil {
		writeError(w, http.StatusNotFound, "no report for this job")
		return nil, false
	}
	return rep, true
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	rep, ok := s.loadReport(w, job)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *HTTPServer) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	rep, ok := s.loadReport(w, job)
	if !ok {
		return
	}

	names := report.ResultFiles(job.RunDir, rep)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="traces_certificates_%s.zip"`, job.ID[:min(8, len(job.ID))]))
	if err := report.WriteZip(w, job.RunDir, names); err != nil {
		s.logger.Printf("Failed to stream result of job %s: %v", job.ID, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
