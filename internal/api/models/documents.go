// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// Conformance classes implemented by the HTTP surface.
var ConformanceClasses = []string{
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/ogc-process-description",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/json",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/job-list",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/dismiss",
	"http://www.opengis.net/spec/ogcapi-processes-2/1.0/conf/deploy-replace-undeploy",
}

// LandingPage is the API root document.
type LandingPage struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Links       []Link `json:"links"`
}

// NewLandingPage builds the landing document for a public base URL.
func NewLandingPage(base string) LandingPage {
	base = strings.TrimSuffix(base, "/")
	return LandingPage{
		Title:       "Weaver",
		Description: "Processing orchestrator exposing OGC API Processes over local and remote execution backends.",
		Links: []Link{
			{Href: base + "/", Rel: "self", Type: "application/json"},
			{Href: base + "/conformance", Rel: "http://www.opengis.net/def/rel/ogc/1.0/conformance", Type: "application/json"},
			{Href: base + "/processes", Rel: "http://www.opengis.net/def/rel/ogc/1.0/processes", Type: "application/json"},
			{Href: base + "/jobs", Rel: "http://www.opengis.net/def/rel/ogc/1.0/job-list", Type: "application/json"},
		},
	}
}

// ConformanceDoc lists the implemented conformance classes.
type ConformanceDoc struct {
	ConformsTo []string `json:"conformsTo"`
}

// ProcessSummary is one entry of the process list.
type ProcessSummary struct {
	ID                string   `json:"id"`
	Version           string   `json:"version,omitempty"`
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
	Keywords          []string `json:"keywords,omitempty"`
	JobControlOptions []string `json:"jobControlOptions,omitempty"`
	Links             []Link   `json:"links,omitempty"`
}

// ProcessList is the process listing document.
type ProcessList struct {
	Processes []ProcessSummary `json:"processes"`
	Links     []Link           `json:"links,omitempty"`
}

// NewProcessSummary converts a stored process to its listing form.
func NewProcessSummary(proc *appkg.Process, base string) ProcessSummary {
	return ProcessSummary{
		ID:                proc.ID,
		Version:           proc.Version,
		Title:             proc.Title,
		Description:       proc.Abstract,
		Keywords:          proc.Keywords,
		JobControlOptions: proc.JobControlOptions,
		Links: []Link{{
			Href: fmt.Sprintf("%s/processes/%s", strings.TrimSuffix(base, "/"), proc.ID),
			Rel:  "self", Type: "application/json",
		}},
	}
}

// ProcessDescription is the full OGC process description.
type ProcessDescription struct {
	ProcessSummary
	Inputs             map[string]ioconv.OAPInput  `json:"inputs"`
	Outputs            map[string]ioconv.OAPOutput `json:"outputs"`
	OutputTransmission []string                    `json:"outputTransmission,omitempty"`
	Visibility         string                      `json:"visibility,omitempty"`
}

// NewProcessDescription converts a stored process to its description form.
func NewProcessDescription(proc *appkg.Process, base string) ProcessDescription {
	desc := ProcessDescription{
		ProcessSummary:     NewProcessSummary(proc, base),
		Inputs:             make(map[string]ioconv.OAPInput, len(proc.Inputs)),
		Outputs:            make(map[string]ioconv.OAPOutput, len(proc.Outputs)),
		OutputTransmission: proc.OutputTransmission,
		Visibility:         string(proc.Visibility),
	}
	for i := range proc.Inputs {
		desc.Inputs[proc.Inputs[i].ID] = ioconv.ToOAPInput(&proc.Inputs[i])
	}
	for i := range proc.Outputs {
		desc.Outputs[proc.Outputs[i].ID] = ioconv.ToOAPOutput(&proc.Outputs[i])
	}
	return desc
}

// JobStatusDoc is the job status document.
type JobStatusDoc struct {
	JobID      string     `json:"jobID"`
	ProcessID  string     `json:"processID"`
	ProviderID string     `json:"providerID,omitempty"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Created    time.Time  `json:"created"`
	Started    *time.Time `json:"started,omitempty"`
	Finished   *time.Time `json:"finished,omitempty"`
	Links      []Link     `json:"links"`
}

// NewJobStatusDoc converts a job record to its status document.
func NewJobStatusDoc(job *store.JobRecord, base string) JobStatusDoc {
	base = strings.TrimSuffix(base, "/")
	self := fmt.Sprintf("%s/jobs/%s", base, job.ID)
	doc := JobStatusDoc{
		JobID:      job.ID,
		ProcessID:  job.ProcessID,
		ProviderID: job.Service,
		Type:       "process",
		Status:     string(job.Status),
		Progress:   job.Progress,
		Created:    job.CreatedAt,
		Started:    job.StartedAt,
		Finished:   job.FinishedAt,
		Links: []Link{
			{Href: self, Rel: "self", Type: "application/json"},
			{Href: fmt.Sprintf("%s/processes/%s", base, job.ProcessID), Rel: "process", Type: "application/json"},
		},
	}
	if len(job.Exceptions) > 0 {
		doc.Message = job.Exceptions[len(job.Exceptions)-1].Detail
	}
	if job.Status == store.StatusSucceeded {
		doc.Links = append(doc.Links, Link{
			Href: self + "/results", Rel: "http://www.opengis.net/def/rel/ogc/1.0/results", Type: "application/json",
		})
	}
	return doc
}

// JobList is the job listing document.
type JobList struct {
	Jobs  []JobStatusDoc `json:"jobs"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// HrefResolver turns a pseudo-relative result reference into a public URL.
type HrefResolver func(rel string) string

// ResultEntry is one output in the results document.
type ResultEntry struct {
	Value     any    `json:"value,omitempty"`
	Href      string `json:"href,omitempty"`
	MediaType string `json:"type,omitempty"`
}

// ResultsDocument renders the document-mode results response: values inline,
// references resolved against the served output URL.
func ResultsDocument(job *store.JobRecord, resolve HrefResolver) map[string]any {
	doc := make(map[string]any, len(job.Results))
	for _, res := range job.Results {
		entry := resultEntry(res, resolve)
		if existing, ok := doc[res.ID]; ok {
			// Repeated ids collect into an array.
			if list, isList := existing.([]any); isList {
				doc[res.ID] = append(list, entry)
			} else {
				doc[res.ID] = []any{existing, entry}
			}
			continue
		}
		doc[res.ID] = entry
	}
	return doc
}

func resultEntry(res store.Result, resolve HrefResolver) any {
	if res.Href != "" {
		entry := ResultEntry{Href: resolveRef(res.Href, resolve), MediaType: res.MediaType}
		return entry
	}
	return ResultEntry{Value: res.Value}
}

func resolveRef(href string, resolve HrefResolver) string {
	if strings.HasPrefix(href, "/") && resolve != nil {
		return resolve(href)
	}
	return href
}

// LogEntry is one line of the job log document.
type LogEntry struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
	Status   string    `json:"status,omitempty"`
}

// NewLogEntries converts stored log records.
func NewLogEntries(records []store.JobLogRecord) []LogEntry {
	out := make([]LogEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, LogEntry{
			Seq:      rec.Seq,
			Time:     rec.Timestamp,
			Level:    rec.Level,
			Message:  rec.Message,
			Progress: rec.Progress,
			Status:   string(rec.Status),
		})
	}
	return out
}

// ProviderSummary is one registered provider.
type ProviderSummary struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}
