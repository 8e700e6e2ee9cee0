// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/logging"
	"github.com/crim-ca/weaver-sub003/internal/metrics"
	"github.com/crim-ca/weaver-sub003/internal/notify"
	"github.com/crim-ca/weaver-sub003/internal/scheduler"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// SubmitJob creates a job for a process and schedules its execution. The
// effective mode is negotiated from the Prefer header, the legacy mode body
// field, and the process job control options.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	proc, err := h.fetchVisible(r.Context(), r.PathValue("processID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}

	var req models.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid execute body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	pref := scheduler.ParsePrefer(r.Header.Get("Prefer"))
	applyModeAlias(&pref, req.Mode, h.cfg.Worker.MaxSyncWait)
	neg, err := scheduler.Negotiate(pref, proc, h.cfg.Worker.MaxSyncWait)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}

	job := &store.JobRecord{
		ID:             uuid.NewString(),
		ProcessID:      proc.ID,
		Version:        proc.Version,
		Service:        proc.Service,
		Status:         store.StatusAccepted,
		Inputs:         req.Inputs,
		Outputs:        outputSpecs(req.Outputs),
		ExecuteAsync:   neg.Async,
		ResponseMode:   req.ResponseMode(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Context:        r.Header.Get("X-WPS-Output-Context"),
	}
	if subs := req.ResolveSubscribers(); subs != nil {
		if err := notify.EncryptSubscribers(subs, h.cfg.Notify.EncryptSecret, h.cfg.Notify.EncryptRounds); err != nil {
			writeException(w, exceptionOf(err))
			return
		}
		job.Subscribers = subs
	}

	if err := h.store.SaveJob(r.Context(), job); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if err := h.scheduler.Enqueue(job.ID); err != nil {
		writeException(w, exceptionOf(err))
		return
	}

	mode := "sync"
	if neg.Async {
		mode = "async"
	}
	metrics.JobsSubmitted.WithLabelValues(mode).Inc()
	logger.Info("job submitted", "job_id", job.ID, "process_id", proc.ID, "mode", mode)

	base := h.baseURL(r)
	statusURL := fmt.Sprintf("%s/jobs/%s", base, job.ID)
	if neg.Applied != "" {
		w.Header().Set("Preference-Applied", neg.Applied)
	}

	if neg.Async {
		w.Header().Set("Location", statusURL)
		writeJSON(w, http.StatusCreated, models.NewJobStatusDoc(job, base))
		return
	}

	done, finished, err := h.scheduler.WaitForCompletion(r.Context(), job.ID, neg.Wait)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if !finished {
		// The synchronous window expired; the job keeps running.
		w.Header().Set("Location", statusURL)
		writeJSON(w, http.StatusCreated, models.NewJobStatusDoc(done, base))
		return
	}
	h.writeCompleted(w, done, base)
}

// applyModeAlias folds the legacy mode body field into the preference when
// the Prefer header stated nothing.
func applyModeAlias(pref *scheduler.Preference, mode string, maxWait time.Duration) {
	if pref.RespondAsync || pref.HasWait {
		return
	}
	switch mode {
	case "sync":
		pref.Wait = maxWait
		pref.HasWait = true
	case "async":
		pref.RespondAsync = true
	}
}

// outputSpecs stores the requested output configuration alongside the job.
func outputSpecs(specs map[string]models.OutputSpec) map[string]any {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]any, len(specs))
	for id, spec := range specs {
		entry := map[string]any{}
		if spec.TransmissionMode != "" {
			entry["transmissionMode"] = spec.TransmissionMode
		}
		if spec.Format != nil {
			entry["format"] = map[string]any{
				"mediaType": spec.Format.MediaType,
				"encoding":  spec.Format.Encoding,
				"schema":    spec.Format.Schema,
			}
		}
		out[id] = entry
	}
	return out
}

// writeCompleted renders a synchronously finished job.
func (h *Handler) writeCompleted(w http.ResponseWriter, job *store.JobRecord, base string) {
	switch job.Status {
	case store.StatusSucceeded:
		h.writeResults(w, job)
	case store.StatusDismissed:
		writeException(w, dismissedException(job))
	default:
		writeException(w, failureException(job))
	}
}

// GetJobStatus serves the status document of a job.
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.FetchJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, models.NewJobStatusDoc(job, h.baseURL(r)))
}

// ListJobs serves the global job listing with optional filters.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:    store.Status(q.Get("status")),
		ProcessID: q.Get("processID"),
		Service:   q.Get("provider"),
	}
	page := intParam(q.Get("page"), 1)
	limit := intParam(q.Get("limit"), 50)
	if limit > 1000 {
		limit = 1000
	}

	jobs, total, err := h.store.ListJobs(r.Context(), filter, page, limit)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	base := h.baseURL(r)
	doc := models.JobList{
		Jobs:  make([]models.JobStatusDoc, 0, len(jobs)),
		Total: total,
		Page:  page,
		Limit: limit,
	}
	for i := range jobs {
		doc.Jobs = append(doc.Jobs, models.NewJobStatusDoc(&jobs[i], base))
	}
	writeJSON(w, http.StatusOK, doc)
}

func intParam(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// DismissJob cancels a job, or removes the outputs of a terminal one.
func (h *Handler) DismissJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Dismiss(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	logging.FromContext(r.Context()).Info("job dismissal requested", "job_id", job.ID, "status", job.Status)
	writeJSON(w, http.StatusOK, models.NewJobStatusDoc(job, h.baseURL(r)))
}

func dismissedException(job *store.JobRecord) *models.Exception {
	return models.NewException(http.StatusGone, "JobDismissed", "",
		fmt.Sprintf("job %s was dismissed", job.ID))
}

func failureException(job *store.JobRecord) *models.Exception {
	exc := models.NewException(http.StatusInternalServerError, "JobResultsFailed", "",
		fmt.Sprintf("job %s failed", job.ID))
	if n := len(job.Exceptions); n > 0 {
		last := job.Exceptions[n-1]
		exc.Title = last.Title
		exc = exc.WithCause(last.Detail)
	}
	return exc
}

// GetJobResults serves the outputs of a finished job. Dismissed jobs answer
// 410, unfinished ones 404 with the result-not-ready type, failed ones relay
// the recorded failure.
func (h *Handler) GetJobResults(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.FetchJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	switch job.Status {
	case store.StatusDismissed:
		writeException(w, dismissedException(job))
	case store.StatusFailed:
		writeException(w, failureException(job))
	case store.StatusSucceeded:
		h.writeResults(w, job)
	default:
		writeException(w, models.NewException(http.StatusNotFound, "ResultsNotReady",
			models.TypeResultsNotReady,
			fmt.Sprintf("job %s is %s; results are not available yet", job.ID, job.Status)))
	}
}

// writeResults renders results in the response mode recorded at submission.
func (h *Handler) writeResults(w http.ResponseWriter, job *store.JobRecord) {
	if job.ResponseMode == store.ResponseRaw {
		h.writeRawResults(w, job)
		return
	}
	writeJSON(w, http.StatusOK, models.ResultsDocument(job, h.stager.PublicHref))
}

// writeRawResults implements raw-mode result delivery: a lone inline value
// goes in the body, reference-only results become Link headers with an
// empty 204 body, and anything mixed falls back to the document form.
func (h *Handler) writeRawResults(w http.ResponseWriter, job *store.JobRecord) {
	values, refs := 0, 0
	for _, res := range job.Results {
		if res.Href != "" {
			refs++
		} else {
			values++
		}
	}

	switch {
	case values == 1 && refs == 0:
		res := job.Results[0]
		mediaType := res.MediaType
		if mediaType == "" {
			mediaType = "text/plain; charset=UTF-8"
		}
		w.Header().Set("Content-Type", mediaType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, rawBody(res.Value))
	case values == 0 && refs > 0:
		for _, res := range job.Results {
			link := fmt.Sprintf("<%s>; rel=%q", h.resolveHref(res.Href), res.ID)
			if res.MediaType != "" {
				link += fmt.Sprintf("; type=%q", res.MediaType)
			}
			w.Header().Add("Link", link)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, models.ResultsDocument(job, h.stager.PublicHref))
	}
}

func (h *Handler) resolveHref(href string) string {
	if len(href) > 0 && href[0] == '/' {
		return h.stager.PublicHref(href)
	}
	return href
}

func rawBody(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// GetJobLogs serves the captured execution log.
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	if _, err := h.store.FetchJob(r.Context(), jobID); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	records, err := h.store.FetchLogs(r.Context(), jobID)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, models.NewLogEntries(records))
}

// GetJobExceptions serves the errors recorded against a job.
func (h *Handler) GetJobExceptions(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.FetchJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if job.Exceptions == nil {
		writeJSON(w, http.StatusOK, []store.Exception{})
		return
	}
	writeJSON(w, http.StatusOK, job.Exceptions)
}

// GetJobStatistics serves the resource usage of a succeeded job.
func (h *Handler) GetJobStatistics(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.FetchJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if job.Statistics == nil {
		writeException(w, models.NewException(http.StatusNotFound, "NoJobStatistics", "",
			fmt.Sprintf("job %s recorded no statistics", job.ID)))
		return
	}
	writeJSON(w, http.StatusOK, job.Statistics)
}
