// cmd/server/handlers.go
package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/velcourt/pageharvest/internal/config"
	"github.com/velcourt/pageharvest/internal/errors"
	"github.com/velcourt/pageharvest/internal/job"
	"github.com/velcourt/pageharvest/internal/monitoring"
	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/api"
)

// server binds the REST surface to the orchestrator and its collaborators
type server struct {
	orchestrator *job.Orchestrator
	templates    *config.TemplateStore
	hub          *job.Hub
	metrics      *monitoring.Metrics
	pool         *proxy.Pool
	logger       utils.Logger
	router       *mux.Router
}

func newServer(orchestrator *job.Orchestrator, templates *config.TemplateStore, hub *job.Hub, metrics *monitoring.Metrics, pool *proxy.Pool) *server {
	s := &server{
		orchestrator: orchestrator,
		templates:    templates,
		hub:          hub,
		metrics:      metrics,
		pool:         pool,
		logger:       utils.NewComponentLogger("server"),
		router:       mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) routes() {
	s.router.Handle("/healthz", monitoring.NewHealthHandler(s.pool)).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/progress", s.handleGetProgress).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/results", s.handleGetResults).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/start", s.handleStartJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/pause", s.handlePauseJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/resume", s.handleResumeJob).Methods(http.MethodPost)
	v1.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/templates/reload", s.handleReloadTemplates).Methods(http.MethodPost)
}

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	tmpl := req.Inline
	if tmpl == nil {
		if req.Template == "" {
			writeError(w, http.StatusBadRequest, "request names no template")
			return
		}
		stored, ok := s.templates.Get(req.Template)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown template "+req.Template)
			return
		}
		tmpl = stored
	}

	j, err := s.orchestrator.Submit(req.URL, tmpl)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if req.Start == nil || *req.Start {
		if err := s.orchestrator.Start(j.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, jobResponse(j))
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orchestrator.Jobs()
	out := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.orchestrator.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(j))
}

func (s *server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if progress, ok := s.hub.Latest(id); ok {
		writeJSON(w, http.StatusOK, api.ProgressResponse{Progress: progress})
		return
	}
	progress, err := s.orchestrator.GetProgress(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ProgressResponse{Progress: progress})
}

func (s *server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	j, err := s.orchestrator.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ResultsResponse{
		JobID:  j.ID,
		Status: j.Status(),
		Pages:  j.Results(),
		Errors: j.Errors(),
	})
}

func (s *server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orchestrator.Start)
}

func (s *server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orchestrator.Cancel)
}

func (s *server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orchestrator.Pause)
}

func (s *server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orchestrator.Resume)
}

func (s *server) lifecycle(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := mux.Vars(r)["id"]
	j, err := s.orchestrator.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := op(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(j))
}

func (s *server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.TemplatesResponse{Templates: s.templates.Names()})
}

func (s *server) handleReloadTemplates(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.TemplatesResponse{Templates: s.templates.Names()})
}

func jobResponse(j *job.Job) api.JobResponse {
	return api.JobResponse{
		ID:        j.ID,
		URL:       j.TargetURL,
		Template:  j.Template.Name,
		Status:    j.Status(),
		Submitted: j.CreatedAt(),
	}
}

// statusFor maps the error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isInvalidJob(err):
		return http.StatusBadRequest
	case errors.IsNoProxyAvailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

func isInvalidJob(err error) bool {
	_, ok := err.(*errors.InvalidJobError)
	return ok
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, api.ErrorResponse{Error: message})
}
