// Package transport multiplexes the orchestration core's external
// interfaces: an admin/ingress HTTP surface (health/ready/metrics plus the
// createJob/cancelJob/pauseJob/resumeJob command channel) alongside the
// progress-streaming transports (SSE, WebSocket, stdio). Grounded on the
// teacher's cmd/gateway/main.go router-plus-graceful-shutdown pattern, and
// on its use of go-chi/chi for the admin-style routes distinct from the
// gateway's main request router.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/orcherr"
	"github.com/vibeorch/engine/internal/ratelimit"
)

// AdminServer exposes liveness, readiness, Prometheus metrics, and the
// createJob/cancelJob/pauseJob/resumeJob command channel (spec.md §6) that
// every other transport's ingress ultimately dispatches into.
type AdminServer struct {
	http *http.Server
}

// Readyer reports whether the service is ready to accept work; the
// sqlstore backend implements this via a connection ping, while the
// in-memory store is ready as soon as it's constructed.
type Readyer interface {
	Ready() bool
}

// NewAdminServer builds the admin+ingress HTTP surface bound to addr.
// limiter may be nil to disable rate limiting (tests, local dev).
func NewAdminServer(addr string, ready Readyer, handler CommandHandler, limiter *ratelimit.Registry, log *obslog.Logger) *AdminServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil && !ready.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	if handler != nil {
		ih := &ingressHandler{handler: handler, limiter: limiter, log: log}
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", ih.createJob)
			r.Get("/", ih.listJobs)
			r.Get("/{jobId}", ih.getJob)
			r.Post("/{jobId}/cancel", ih.cancelJob)
			r.Post("/{jobId}/pause", ih.pauseJob)
			r.Post("/{jobId}/resume", ih.resumeJob)
		})
		r.Post("/v1/workers", ih.registerWorker)
	}

	return &AdminServer{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ingressHandler implements the createJob/cancelJob/pauseJob/resumeJob
// command channel over plain JSON HTTP, shared by every transport binding
// that doesn't speak its own command framing (SSE and WebSocket clients
// issue commands here; the stdio transport speaks newline JSON directly to
// the same CommandHandler instead).
type ingressHandler struct {
	handler CommandHandler
	limiter *ratelimit.Registry
	log     *obslog.Logger
}

type createJobRequest struct {
	TaskSpec       TaskSpec           `json:"taskSpec"`
	ProjectContext ProjectContextSpec `json:"projectContext"`
}

func (h *ingressHandler) allowed(w http.ResponseWriter, r *http.Request, name ratelimit.Name) bool {
	if h.limiter == nil {
		return true
	}
	decision, err := h.limiter.Allow(name, r.RemoteAddr)
	if err != nil {
		w.Header().Set("Retry-After", decision.ResetAt.Format(time.RFC3339))
		writeError(w, http.StatusTooManyRequests, err)
		return false
	}
	return true
}

func (h *ingressHandler) createJob(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.TaskStart) {
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, orcherr.ValidationError("body", "malformed JSON"))
		return
	}
	id, err := h.handler.CreateJob(req.TaskSpec.Task(), req.ProjectContext.ProjectContext())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (h *ingressHandler) registerWorker(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	var spec WorkerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil || spec.ID == "" {
		writeError(w, http.StatusBadRequest, orcherr.ValidationError("body", "malformed worker registration"))
		return
	}
	h.handler.RegisterWorker(spec.Worker())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ingressHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	writeJSON(w, http.StatusOK, h.handler.ListJobs())
}

func (h *ingressHandler) getJob(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	job, err := h.handler.GetJob(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ingressHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	if err := h.handler.CancelJob(chi.URLParam(r, "jobId")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ingressHandler) pauseJob(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	if err := h.handler.PauseJob(chi.URLParam(r, "jobId")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ingressHandler) resumeJob(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(w, r, ratelimit.API) {
		return
	}
	if err := h.handler.ResumeJob(chi.URLParam(r, "jobId")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func statusFor(err error) int {
	if orcherr.IsKind(err, orcherr.KindValidation) {
		return http.StatusBadRequest
	}
	if orcherr.IsKind(err, orcherr.KindState) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Start runs the admin server until ctx is cancelled or ListenAndServe fails.
func (s *AdminServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the admin server down.
func (s *AdminServer) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
