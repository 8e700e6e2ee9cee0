// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/logging"
	"github.com/crim-ca/weaver-sub003/internal/provider"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// ListProviders serves the registered remote providers.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListProviders(r.Context())
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	providers := make([]models.ProviderSummary, 0, len(records))
	for _, rec := range records {
		providers = append(providers, models.ProviderSummary{Name: rec.Name, URL: rec.URL, Type: rec.Type})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// RegisterProvider registers a remote provider after checking it answers.
func (h *Handler) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req models.ProviderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid provider body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	rec := &store.ProviderRecord{Name: req.Name, URL: req.URL, Type: req.Type}
	if rec.Type == "" {
		rec.Type = provider.TypeOAP
	}
	if err := h.providers.Check(r.Context(), rec); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if err := h.store.SaveProvider(r.Context(), rec); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	logging.FromContext(r.Context()).Info("provider registered", "provider", rec.Name, "type", rec.Type)
	writeJSON(w, http.StatusCreated, models.ProviderSummary{Name: rec.Name, URL: rec.URL, Type: rec.Type})
}

// UnregisterProvider removes a registered provider.
func (h *Handler) UnregisterProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("providerID")
	if err := h.store.DeleteProvider(r.Context(), name); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	logging.FromContext(r.Context()).Info("provider unregistered", "provider", name)
	w.WriteHeader(http.StatusNoContent)
}

// ListProviderProcesses serves the live process catalog of a provider.
func (h *Handler) ListProviderProcesses(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.FetchProvider(r.Context(), r.PathValue("providerID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	processes, err := h.providers.ListProcesses(r.Context(), rec)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": processes})
}

// DescribeProviderProcess serves a remote process normalized to the local
// description form.
func (h *Handler) DescribeProviderProcess(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.FetchProvider(r.Context(), r.PathValue("providerID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	proc, err := h.providers.DescribeProcess(r.Context(), rec, r.PathValue("processID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, models.NewProcessDescription(proc, h.baseURL(r)))
}
