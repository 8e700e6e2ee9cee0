// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

func TestNewProcessDescription(t *testing.T) {
	proc := &appkg.Process{
		ID:                "subset",
		Version:           "1.0.0",
		Title:             "Subsetter",
		Abstract:          "Subsets a NetCDF file",
		JobControlOptions: []string{appkg.ControlAsync, appkg.ControlSync},
		Visibility:        appkg.VisibilityPublic,
		Inputs: []appkg.InputDef{{
			ID: "variable", Kind: appkg.KindLiteral, DataType: "string", MinOccurs: 1, MaxOccurs: 1,
		}},
		Outputs: []appkg.OutputDef{{
			ID: "output", Kind: appkg.KindComplexFile,
			Formats: []appkg.Format{{MediaType: "application/x-netcdf", Default: true}},
		}},
	}

	desc := NewProcessDescription(proc, "http://localhost:4001/")
	assert.Equal(t, "subset", desc.ID)
	assert.Equal(t, "Subsets a NetCDF file", desc.Description)
	require.Len(t, desc.Links, 1)
	assert.Equal(t, "http://localhost:4001/processes/subset", desc.Links[0].Href)
	assert.Contains(t, desc.Inputs, "variable")
	assert.Contains(t, desc.Outputs, "output")
	assert.Equal(t, "public", desc.Visibility)
}

func TestNewJobStatusDoc(t *testing.T) {
	started := time.Now()
	job := &store.JobRecord{
		ID:        "job-1",
		ProcessID: "subset",
		Status:    store.StatusRunning,
		Progress:  40,
		CreatedAt: started.Add(-time.Minute),
		StartedAt: &started,
	}

	doc := NewJobStatusDoc(job, "http://localhost:4001")
	assert.Equal(t, "job-1", doc.JobID)
	assert.Equal(t, "process", doc.Type)
	assert.Equal(t, "running", doc.Status)
	assert.Equal(t, 40, doc.Progress)
	for _, link := range doc.Links {
		assert.NotEqual(t, "http://www.opengis.net/def/rel/ogc/1.0/results", link.Rel)
	}

	job.Status = store.StatusSucceeded
	doc = NewJobStatusDoc(job, "http://localhost:4001")
	var rels []string
	for _, link := range doc.Links {
		rels = append(rels, link.Rel)
	}
	assert.Contains(t, rels, "http://www.opengis.net/def/rel/ogc/1.0/results")
}

func TestJobStatusDocMessageFromLastException(t *testing.T) {
	job := &store.JobRecord{
		ID:        "job-1",
		ProcessID: "subset",
		Status:    store.StatusFailed,
		Exceptions: []store.Exception{
			{Detail: "first failure"},
			{Detail: "container exited with status 2"},
		},
	}
	doc := NewJobStatusDoc(job, "http://localhost:4001")
	assert.Equal(t, "container exited with status 2", doc.Message)
}

func TestResultsDocument(t *testing.T) {
	resolve := func(rel string) string { return "http://localhost:4001/wpsoutputs" + rel }
	job := &store.JobRecord{
		Results: []store.Result{
			{ID: "count", Value: float64(3)},
			{ID: "output", Href: "/job-1/output/a.nc", MediaType: "application/x-netcdf"},
			{ID: "output", Href: "https://elsewhere.example.com/b.nc", MediaType: "application/x-netcdf"},
		},
	}

	doc := ResultsDocument(job, resolve)
	require.Len(t, doc, 2)

	count, ok := doc["count"].(ResultEntry)
	require.True(t, ok)
	assert.Equal(t, float64(3), count.Value)

	// Repeated ids collapse into an array; internal hrefs get resolved,
	// external ones pass through.
	outs, ok := doc["output"].([]any)
	require.True(t, ok)
	require.Len(t, outs, 2)
	first := outs[0].(ResultEntry)
	second := outs[1].(ResultEntry)
	assert.Equal(t, "http://localhost:4001/wpsoutputs/job-1/output/a.nc", first.Href)
	assert.Equal(t, "https://elsewhere.example.com/b.nc", second.Href)
}

func TestNewLandingPage(t *testing.T) {
	page := NewLandingPage("http://localhost:4001/")
	var rels []string
	for _, link := range page.Links {
		rels = append(rels, link.Rel)
		assert.NotContains(t, link.Href, "//conformance")
	}
	assert.Contains(t, rels, "http://www.opengis.net/def/rel/ogc/1.0/processes")
	assert.Contains(t, rels, "http://www.opengis.net/def/rel/ogc/1.0/job-list")
}
