// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the OGC API Processes HTTP surface: process
// deployment and description, job submission and monitoring, and remote
// provider registration.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/metrics"
	"github.com/crim-ca/weaver-sub003/internal/provider"
	"github.com/crim-ca/weaver-sub003/internal/scheduler"
	"github.com/crim-ca/weaver-sub003/internal/server/middleware/logger"
	"github.com/crim-ca/weaver-sub003/internal/staging"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// Handler holds the domain components behind the HTTP surface.
type Handler struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	loader    *appkg.Loader
	stager    *staging.Stager
	providers *provider.Client
	logger    *slog.Logger
}

// New creates a Handler.
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, loader *appkg.Loader,
	stager *staging.Stager, providers *provider.Client, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		loader:    loader,
		stager:    stager,
		providers: providers,
		logger:    logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /{$}", h.LandingPage)
	mux.HandleFunc("GET /conformance", h.Conformance)

	mux.HandleFunc("GET /processes", h.ListProcesses)
	mux.HandleFunc("POST /processes", h.DeployProcess)
	mux.HandleFunc("GET /processes/{processID}", h.DescribeProcess)
	mux.HandleFunc("DELETE /processes/{processID}", h.UndeployProcess)
	mux.HandleFunc("GET /processes/{processID}/package", h.GetPackage)
	mux.HandleFunc("PUT /processes/{processID}/visibility", h.SetVisibility)
	mux.HandleFunc("POST /processes/{processID}/jobs", h.SubmitJob)
	mux.HandleFunc("POST /processes/{processID}/execution", h.SubmitJob)

	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{jobID}", h.GetJobStatus)
	mux.HandleFunc("DELETE /jobs/{jobID}", h.DismissJob)
	mux.HandleFunc("GET /jobs/{jobID}/results", h.GetJobResults)
	mux.HandleFunc("GET /jobs/{jobID}/logs", h.GetJobLogs)
	mux.HandleFunc("GET /jobs/{jobID}/exceptions", h.GetJobExceptions)
	mux.HandleFunc("GET /jobs/{jobID}/statistics", h.GetJobStatistics)

	mux.HandleFunc("GET /providers", h.ListProviders)
	mux.HandleFunc("POST /providers", h.RegisterProvider)
	mux.HandleFunc("DELETE /providers/{providerID}", h.UnregisterProvider)
	mux.HandleFunc("GET /providers/{providerID}/processes", h.ListProviderProcesses)
	mux.HandleFunc("GET /providers/{providerID}/processes/{processID}", h.DescribeProviderProcess)

	// Staged outputs are served below the configured output path.
	outputPath := strings.TrimSuffix(h.cfg.WPS.OutputPath, "/")
	mux.Handle("GET "+outputPath+"/", http.StripPrefix(outputPath+"/",
		http.FileServer(http.Dir(h.cfg.WPS.OutputDir))))

	return logger.Middleware(h.logger)(mux)
}

// baseURL reconstructs the externally visible base URL of a request.
func (h *Handler) baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the store answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.store.ListJobs(r.Context(), store.JobFilter{}, 1, 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// LandingPage serves the API root document.
func (h *Handler) LandingPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.NewLandingPage(h.baseURL(r)))
}

// Conformance lists the implemented conformance classes.
func (h *Handler) Conformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.ConformanceDoc{ConformsTo: models.ConformanceClasses})
}
