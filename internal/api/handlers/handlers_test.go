// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/dispatch"
	"github.com/crim-ca/weaver-sub003/internal/engine"
	"github.com/crim-ca/weaver-sub003/internal/notify"
	"github.com/crim-ca/weaver-sub003/internal/provider"
	"github.com/crim-ca/weaver-sub003/internal/runner"
	"github.com/crim-ca/weaver-sub003/internal/scheduler"
	"github.com/crim-ca/weaver-sub003/internal/staging"
	"github.com/crim-ca/weaver-sub003/internal/store"
	"github.com/crim-ca/weaver-sub003/internal/workflow"
)

// testAPI is the full stack behind an httptest server: in-memory store,
// real scheduler and engine, local runners only.
type testAPI struct {
	srv   *httptest.Server
	store *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.WPS.OutputDir = t.TempDir()
	cfg.WPS.WorkDir = t.TempDir()
	cfg.Worker.Count = 2
	cfg.Worker.MaxSyncWait = 10 * time.Second
	cfg.Notify.EncryptSecret = "test-secret"
	cfg.Notify.EncryptRounds = 100
	cfg.Database.Path = ":memory:"

	st, err := store.Open(cfg.Database.Path, logger)
	require.NoError(t, err)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	stager := staging.NewStager(cfg.WPS, nil, logger)
	fetcher := staging.NewFetcher(httpClient, nil, stager, cfg.Vault, logger)
	dispatchers := dispatch.NewSet(httpClient, fetcher, dispatch.MonitorConfig{
		InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond,
	}, cfg.ADES, logger)

	builtins := runner.NewBuiltinRegistry()
	builtins.RegisterDefaults(fetcher)
	local := runner.NewCommandRunner(logger)
	loader := appkg.NewLoader(httpClient, st, logger)
	workflows := workflow.NewRunner(st, dispatchers, builtins, local, stager, fetcher, logger)
	notifier := notify.New(&cfg, notify.NewMailer(cfg.SMTP, cfg.Notify), httpClient, logger)

	payload := func(job *store.JobRecord) any { return models.NewJobStatusDoc(job, "http://test") }
	eng := engine.New(&cfg, st, stager, fetcher, dispatchers, builtins, local, workflows, notifier, payload, logger)
	sched := scheduler.New(cfg.Worker, st, eng, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sched.Run(ctx) }()
	t.Cleanup(cancel)

	ctxSeed := context.Background()
	for _, proc := range runner.BuiltinProcesses() {
		require.NoError(t, st.SaveProcess(ctxSeed, proc))
	}

	handler := New(&cfg, st, sched, loader, stager, provider.New(httpClient, logger), logger)
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var doc map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(data, &doc))
	}
	return resp, doc
}

const deployEchoTool = `{
	"processDescription": {
		"process": {"id": "fake-echo", "title": "Fake echo", "version": "1.0.0"}
	},
	"executionUnit": [{
		"unit": {
			"cwlVersion": "v1.0",
			"class": "CommandLineTool",
			"baseCommand": ["sh", "-c", "echo done > out.txt"],
			"inputs": {"message": "string"},
			"outputs": {"output": {"type": "File", "outputBinding": {"glob": "out.txt"}}}
		}
	}]
}`

func TestLandingAndConformance(t *testing.T) {
	api := newTestAPI(t)

	resp, doc := api.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Weaver", doc["title"])

	resp, doc = api.do(t, http.MethodGet, "/conformance", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	classes, _ := doc["conformsTo"].([]any)
	assert.Contains(t, classes, "http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core")
}

func TestListProcessesIncludesBuiltins(t *testing.T) {
	api := newTestAPI(t)
	resp, doc := api.do(t, http.MethodGet, "/processes", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	procs := doc["processes"].([]any)
	var ids []string
	for _, p := range procs {
		ids = append(ids, p.(map[string]any)["id"].(string))
	}
	assert.Contains(t, ids, "echo")
	assert.Contains(t, ids, "jsonarray2netcdf")
}

func TestDeployDescribeUndeploy(t *testing.T) {
	api := newTestAPI(t)

	resp, doc := api.do(t, http.MethodPost, "/processes", deployEchoTool, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, doc["deploymentDone"])
	assert.Contains(t, resp.Header.Get("Location"), "/processes/fake-echo")

	// Deployed processes stay private until made visible.
	resp, doc = api.do(t, http.MethodGet, "/processes/fake-echo", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPut, "/processes/fake-echo/visibility", `{"value": "public"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, doc = api.do(t, http.MethodGet, "/processes/fake-echo", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fake-echo", doc["id"])
	inputs := doc["inputs"].(map[string]any)
	assert.Contains(t, inputs, "message")

	resp, doc = api.do(t, http.MethodGet, "/processes/fake-echo/package", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CommandLineTool", doc["class"])

	resp, doc = api.do(t, http.MethodDelete, "/processes/fake-echo", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, doc["undeploymentDone"])

	resp, _ = api.do(t, http.MethodGet, "/processes/fake-echo", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeployConflict(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, http.MethodPost, "/processes", deployEchoTool, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, doc := api.do(t, http.MethodPost, "/processes", deployEchoTool, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, doc["title"])
}

func TestUndeployBuiltinForbidden(t *testing.T) {
	api := newTestAPI(t)
	resp, doc := api.do(t, http.MethodDelete, "/processes/echo", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ImmutableProcess", doc["title"])
	assert.Equal(t, models.TypeImmutableProcess, doc["type"])
}

func TestDescribeMissingProcess(t *testing.T) {
	api := newTestAPI(t)
	resp, doc := api.do(t, http.MethodGet, "/processes/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, doc["type"])
	assert.NotEmpty(t, doc["detail"])
}

func TestExecuteEchoSync(t *testing.T) {
	api := newTestAPI(t)

	body := `{"inputs": {"message": "hello world"}, "response": "document"}`
	resp, doc := api.do(t, http.MethodPost, "/processes/echo/execution", body,
		map[string]string{"Prefer": "wait=10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "wait=10", resp.Header.Get("Preference-Applied"))

	out, ok := doc["output"].(map[string]any)
	require.True(t, ok, "expected a staged output entry, got %v", doc)
	assert.Contains(t, out["href"], "/echo.txt")
}

func TestExecuteEchoAsyncLifecycle(t *testing.T) {
	api := newTestAPI(t)

	body := `{"inputs": {"message": "async run"}}`
	resp, doc := api.do(t, http.MethodPost, "/processes/echo/jobs", body,
		map[string]string{"Prefer": "respond-async"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "respond-async", resp.Header.Get("Preference-Applied"))

	jobID := doc["jobID"].(string)
	location := resp.Header.Get("Location")
	assert.Contains(t, location, "/jobs/"+jobID)

	// Poll until terminal.
	deadline := time.Now().Add(10 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		_, statusDoc := api.do(t, http.MethodGet, "/jobs/"+jobID, "", nil)
		status = statusDoc["status"].(string)
		if status == "succeeded" || status == "failed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, "succeeded", status)

	resp, results := api.do(t, http.MethodGet, "/jobs/"+jobID+"/results", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, results, "output")

	resp, _ = api.do(t, http.MethodGet, "/jobs/"+jobID+"/logs", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/jobs/"+jobID+"/exceptions", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, listing := api.do(t, http.MethodGet, "/jobs?processID=echo&status=succeeded", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, int(listing["total"].(float64)), 1)
}

func TestExecuteInvalidBody(t *testing.T) {
	api := newTestAPI(t)
	resp, doc := api.do(t, http.MethodPost, "/processes/echo/execution", `{"inputs": "nope"`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, doc["detail"])
}

func TestResultsNotReady(t *testing.T) {
	api := newTestAPI(t)
	job := &store.JobRecord{ID: "pending-job", ProcessID: "echo", Status: store.StatusRunning}
	require.NoError(t, api.store.SaveJob(context.Background(), job))

	resp, doc := api.do(t, http.MethodGet, "/jobs/pending-job/results", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.TypeResultsNotReady, doc["type"])
}

func TestResultsOfDismissedJobGone(t *testing.T) {
	api := newTestAPI(t)
	job := &store.JobRecord{ID: "dismissed-job", ProcessID: "echo", Status: store.StatusDismissed}
	require.NoError(t, api.store.SaveJob(context.Background(), job))

	resp, doc := api.do(t, http.MethodGet, "/jobs/dismissed-job/results", "", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "JobDismissed", doc["title"])
}

func TestJobStatisticsMissing(t *testing.T) {
	api := newTestAPI(t)
	job := &store.JobRecord{ID: "done-job", ProcessID: "echo", Status: store.StatusSucceeded}
	require.NoError(t, api.store.SaveJob(context.Background(), job))

	resp, doc := api.do(t, http.MethodGet, "/jobs/done-job/statistics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NoJobStatistics", doc["title"])
}

func TestJobMissing(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, http.MethodGet, "/jobs/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProviderRegistrationChecksEndpoint(t *testing.T) {
	api := newTestAPI(t)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/processes" {
			fmt.Fprint(w, `{"processes": [{"id": "remote-subset", "title": "Remote subsetter"}]}`)
			return
		}
		if r.URL.Path == "/processes/remote-subset" {
			fmt.Fprint(w, `{"id": "remote-subset", "inputs": {"v": {"schema": {"type": "string"}}}, "outputs": {"o": {"schema": {"contentMediaType": "application/x-netcdf"}}}}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer remote.Close()

	body := fmt.Sprintf(`{"name": "peer", "url": %q, "type": "OAP"}`, remote.URL)
	resp, _ := api.do(t, http.MethodPost, "/providers", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, doc := api.do(t, http.MethodGet, "/providers", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	providers := doc["providers"].([]any)
	require.Len(t, providers, 1)

	resp, doc = api.do(t, http.MethodGet, "/providers/peer/processes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	procs := doc["processes"].([]any)
	require.Len(t, procs, 1)
	assert.Equal(t, "remote-subset", procs[0].(map[string]any)["id"])

	resp, doc = api.do(t, http.MethodGet, "/providers/peer/processes/remote-subset", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "remote-subset", doc["id"])

	resp, _ = api.do(t, http.MethodDelete, "/providers/peer", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestProviderRegistrationRejectsDeadEndpoint(t *testing.T) {
	api := newTestAPI(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	body := fmt.Sprintf(`{"name": "dead", "url": %q, "type": "OAP"}`, dead.URL)
	resp, _ := api.do(t, http.MethodPost, "/providers", body, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// seedSucceededJob stores a finished job directly, bypassing execution, to
// exercise result rendering against known result records.
func seedSucceededJob(t *testing.T, api *testAPI, id, responseMode string, results []store.Result) {
	t.Helper()
	require.NoError(t, api.store.SaveJob(context.Background(), &store.JobRecord{
		ID:           id,
		ProcessID:    "echo",
		Status:       store.StatusSucceeded,
		Progress:     100,
		ResponseMode: responseMode,
		Results:      results,
	}))
}

// rawGet fetches without the JSON helper so raw bodies and headers stay intact.
func (a *testAPI) rawGet(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := a.srv.Client().Get(a.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestRawResultsSingleInlineValue(t *testing.T) {
	api := newTestAPI(t)
	seedSucceededJob(t, api, "raw-inline", store.ResponseRaw,
		[]store.Result{{ID: "output", Value: "42.7"}})

	resp, body := api.rawGet(t, "/jobs/raw-inline/results")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "42.7", body)

	seedSucceededJob(t, api, "raw-typed", store.ResponseRaw,
		[]store.Result{{ID: "output", Value: `{"count": 3}`, MediaType: "application/json"}})

	resp, body = api.rawGet(t, "/jobs/raw-typed/results")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"count": 3}`, body)
}

func TestRawResultsReferenceLinks(t *testing.T) {
	api := newTestAPI(t)
	seedSucceededJob(t, api, "raw-refs", store.ResponseRaw, []store.Result{
		{ID: "output", Href: "/raw-refs/output/a.nc", MediaType: "application/x-netcdf"},
		{ID: "listing", Href: "https://data.example.com/b.json"},
	})

	resp, body := api.rawGet(t, "/jobs/raw-refs/results")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)

	links := resp.Header.Values("Link")
	require.Len(t, links, 2)
	// Internal references resolve under the output URL, external ones pass through.
	assert.Equal(t,
		`<http://localhost:4001/wpsoutputs/raw-refs/output/a.nc>; rel="output"; type="application/x-netcdf"`,
		links[0])
	assert.Equal(t, `<https://data.example.com/b.json>; rel="listing"`, links[1])
}

func TestRawResultsMixedFallsBackToDocument(t *testing.T) {
	api := newTestAPI(t)
	mixed := []store.Result{
		{ID: "output", Href: "/raw-mixed/output/a.nc", MediaType: "application/x-netcdf"},
		{ID: "count", Value: float64(3)},
	}
	seedSucceededJob(t, api, "raw-mixed", store.ResponseRaw, mixed)
	seedSucceededJob(t, api, "doc-twin", store.ResponseDocument, mixed)

	resp, rawDoc := api.do(t, http.MethodGet, "/jobs/raw-mixed/results", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "json")
	assert.Contains(t, rawDoc, "output")
	assert.Contains(t, rawDoc, "count")

	// Identical result records render the same payload in either mode.
	resp, docDoc := api.do(t, http.MethodGet, "/jobs/doc-twin/results", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, docDoc, rawDoc)
}

func TestExecuteEchoRawResponse(t *testing.T) {
	api := newTestAPI(t)

	body := `{"inputs": {"message": "raw hello"}, "response": "raw"}`
	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/processes/echo/execution",
		strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait=10")
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The echo output is a staged file, so raw mode answers 204 with a Link.
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	links := resp.Header.Values("Link")
	require.Len(t, links, 1)
	assert.Contains(t, links[0], "/echo.txt")
	assert.Contains(t, links[0], `rel="output"`)
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = api.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
