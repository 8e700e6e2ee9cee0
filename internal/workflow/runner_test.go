// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/dispatch"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/runner"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves sibling processes from a map.
type fakeSource map[string]*appkg.Process

func (f fakeSource) FetchProcess(_ context.Context, id, _ string) (*appkg.Process, error) {
	proc, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("no such process %s", id)
	}
	return proc, nil
}

func builtinProcess(id string) *appkg.Process {
	return &appkg.Process{
		ID:        id,
		Package:   &appkg.Package{Class: appkg.ClassCommandLineTool},
		Principal: appkg.Requirement{Class: appkg.RequirementBuiltin},
		Inputs:    []appkg.InputDef{{ID: "message", Kind: appkg.KindLiteral, DataType: "string"}},
		Outputs: []appkg.OutputDef{{
			ID: "output", Kind: appkg.KindComplexFile,
			Formats: []appkg.Format{{MediaType: "text/plain", Default: true}},
			Glob:    "echo.txt",
		}},
	}
}

func testRunner(t *testing.T, source ProcessSource) *Runner {
	t.Helper()
	logger := testLogger()
	stager := staging.NewStager(config.WPSConfig{
		OutputDir: t.TempDir(),
		OutputURL: "http://localhost:4001/wpsoutputs",
	}, nil, logger)
	fetcher := staging.NewFetcher(http.DefaultClient, nil, stager, config.VaultConfig{}, logger)
	builtins := runner.NewBuiltinRegistry()
	builtins.RegisterDefaults(fetcher)
	set := dispatch.NewSet(http.DefaultClient, fetcher, dispatch.MonitorConfig{}, config.ADESConfig{}, logger)
	return NewRunner(source, set, builtins, runner.NewCommandRunner(logger), stager, fetcher, logger)
}

func TestExecuteChainedBuiltinSteps(t *testing.T) {
	source := fakeSource{"echo": builtinProcess("echo")}
	wf := &appkg.Process{
		ID: "pipeline",
		Package: &appkg.Package{
			Class: appkg.ClassWorkflow,
			Steps: map[string]appkg.Step{
				"first":  {Run: "echo.cwl", In: map[string]string{"message": "greeting"}},
				"second": {Run: "echo.cwl", In: map[string]string{"message": "greeting"}},
			},
		},
		Outputs: []appkg.OutputDef{{ID: "output", Kind: appkg.KindComplexFile}},
	}

	var marks []int
	var logged []string
	results, err := testRunner(t, source).Execute(context.Background(), &Request{
		JobID:    "job-wf",
		Process:  wf,
		Inputs:   map[string]ioconv.IOValue{"greeting": ioconv.Literal{DataType: "string", Value: "hi"}},
		WorkDir:  t.TempDir(),
		Progress: func(p int, _ string) { marks = append(marks, p) },
		Log:      func(_, msg string) { logged = append(logged, msg) },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "output", results[0].ID)
	assert.NotEmpty(t, results[0].LocalPath)
	assert.Contains(t, results[0].Href, "http://localhost:4001/wpsoutputs/job-wf/")
	data, err := os.ReadFile(results[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))

	assert.Contains(t, logged, "completed workflow step first")
	assert.Contains(t, logged, "completed workflow step second")
	require.NotEmpty(t, marks)
	assert.Equal(t, progressCeil, marks[len(marks)-1])
}

func TestExecuteRejectsNonWorkflow(t *testing.T) {
	_, err := testRunner(t, fakeSource{}).Execute(context.Background(), &Request{
		Process: builtinProcess("echo"),
		WorkDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrWorkflowExecution)
}

func TestExecuteCancelled(t *testing.T) {
	wf := &appkg.Process{
		ID: "pipeline",
		Package: &appkg.Package{
			Class: appkg.ClassWorkflow,
			Steps: map[string]appkg.Step{
				"first": {Run: "echo.cwl", In: map[string]string{"message": "greeting"}},
			},
		},
	}
	_, err := testRunner(t, fakeSource{"echo": builtinProcess("echo")}).Execute(context.Background(), &Request{
		Process:   wf,
		WorkDir:   t.TempDir(),
		Cancelled: func() bool { return true },
	})
	assert.ErrorIs(t, err, dispatch.ErrCancelled)
}

func TestStepInputsUpstreamReferences(t *testing.T) {
	r := testRunner(t, fakeSource{})
	stepProc := builtinProcess("echo")
	stepProc.Inputs = []appkg.InputDef{{
		ID: "file", Kind: appkg.KindComplexFile,
		Formats: []appkg.Format{{MediaType: "application/x-netcdf", Default: true}},
	}}

	staged := map[string]map[string]stepResult{
		"subset": {
			"output": {Href: "http://localhost:4001/wpsoutputs/job/subset/output/a.nc"},
			"count":  {Value: 3},
		},
	}
	step := appkg.Step{In: map[string]string{
		"file":  "subset/output",
		"total": "subset/count",
		"name":  "workflow_name",
	}}

	inputs, err := r.stepInputs(step, stepProc,
		map[string]ioconv.IOValue{"workflow_name": ioconv.Literal{Value: "tas"}}, staged)
	require.NoError(t, err)

	ref, ok := inputs["file"].(ioconv.FileRef)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:4001/wpsoutputs/job/subset/output/a.nc", ref.Href)
	assert.Equal(t, "application/x-netcdf", ref.MediaType)

	lit, ok := inputs["total"].(ioconv.Literal)
	require.True(t, ok)
	assert.Equal(t, "3", lit.Value)

	assert.Equal(t, ioconv.Literal{Value: "tas"}, inputs["name"])
}

func TestStepInputsMissing(t *testing.T) {
	r := testRunner(t, fakeSource{})
	step := appkg.Step{In: map[string]string{"file": "subset/output"}}
	_, err := r.stepInputs(step, builtinProcess("echo"), nil,
		map[string]map[string]stepResult{"subset": {}})
	assert.ErrorContains(t, err, "not produced")

	step = appkg.Step{In: map[string]string{"name": "missing_input"}}
	_, err = r.stepInputs(step, builtinProcess("echo"), nil, nil)
	assert.ErrorContains(t, err, "not provided")
}

func TestCollectResultsPrefersLatestStep(t *testing.T) {
	r := testRunner(t, fakeSource{})
	proc := &appkg.Process{Outputs: []appkg.OutputDef{{ID: "output"}}}
	staged := map[string]map[string]stepResult{
		"first":  {"output": {Href: "http://h/first.nc"}},
		"second": {"output": {Href: "http://h/second.nc"}},
	}

	results, err := r.collectResults(proc, []string{"first", "second"}, staged)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "http://h/second.nc", results[0].Href)

	proc.Outputs = append(proc.Outputs, appkg.OutputDef{ID: "missing"})
	_, err = r.collectResults(proc, []string{"first", "second"}, staged)
	assert.ErrorIs(t, err, ErrWorkflowExecution)
}

func TestStepWindow(t *testing.T) {
	first := stepWindow(0, 2)
	second := stepWindow(1, 2)

	assert.Equal(t, progressFloor, first(0))
	mid := progressFloor + (progressCeil-progressFloor)/2
	assert.Equal(t, mid, first(100))
	assert.Equal(t, mid, second(0))
	assert.Equal(t, progressCeil, second(100))

	// Out-of-range step progress clips to the window bounds.
	assert.Equal(t, progressFloor, first(-5))
	assert.Equal(t, mid, first(150))
}
