// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package workflow walks the steps of a Workflow application package in
// topological order, executing each step locally or through the dispatcher
// matching its principal requirement, and re-hosting intermediate outputs
// under the served output URL so downstream steps can fetch them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/dispatch"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/metrics"
	"github.com/crim-ca/weaver-sub003/internal/runner"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// Step progress maps into this window of the parent job.
const (
	progressFloor = 10
	progressCeil  = 95
)

// ErrWorkflowExecution wraps a failed step.
var ErrWorkflowExecution = errors.New("workflow execution failed")

// ProcessSource resolves sibling processes referenced by workflow steps.
type ProcessSource interface {
	FetchProcess(ctx context.Context, id, version string) (*appkg.Process, error)
}

// Runner executes Workflow packages step by step.
type Runner struct {
	source      ProcessSource
	dispatchers *dispatch.Set
	builtins    *runner.BuiltinRegistry
	local       runner.Runner
	stager      *staging.Stager
	fetcher     *staging.Fetcher
	logger      *slog.Logger
}

// NewRunner creates the workflow runner.
func NewRunner(source ProcessSource, dispatchers *dispatch.Set, builtins *runner.BuiltinRegistry,
	local runner.Runner, stager *staging.Stager, fetcher *staging.Fetcher, logger *slog.Logger) *Runner {
	return &Runner{
		source:      source,
		dispatchers: dispatchers,
		builtins:    builtins,
		local:       local,
		stager:      stager,
		fetcher:     fetcher,
		logger:      logger.With("module", "workflow"),
	}
}

// Request is one workflow execution.
type Request struct {
	JobID     string
	Context   string
	Process   *appkg.Process
	Inputs    map[string]ioconv.IOValue
	WorkDir   string
	Headers   http.Header
	Progress  dispatch.ProgressFunc
	Cancelled func() bool
	Log       func(level, message string)
}

func (r *Request) log(level, message string) {
	if r.Log != nil {
		r.Log(level, message)
	}
}

func (r *Request) report(progress int, message string) {
	if r.Progress != nil {
		r.Progress(progress, message)
	}
}

func (r *Request) cancelled() bool {
	return r.Cancelled != nil && r.Cancelled()
}

// stepResult is one staged output of a completed step.
type stepResult struct {
	// Href is the re-hosted public URL of the staged file.
	Href string
	// LocalPath is where the staged file sits on this host.
	LocalPath string
	// Value is set for inline outputs.
	Value any
}

// Execute walks the workflow and returns the staged results matching the
// parent process output definitions.
func (r *Runner) Execute(ctx context.Context, req *Request) ([]dispatch.Result, error) {
	pkg := req.Process.Package
	if pkg == nil || pkg.Class != appkg.ClassWorkflow {
		return nil, fmt.Errorf("%w: process %s is not a workflow", ErrWorkflowExecution, req.Process.ID)
	}

	order, err := appkg.TopologicalSteps(pkg.Steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkflowExecution, err)
	}

	// staged[step][outputId] accumulates re-hosted step outputs.
	staged := make(map[string]map[string]stepResult, len(order))

	for idx, name := range order {
		if req.cancelled() {
			return nil, dispatch.ErrCancelled
		}
		step := pkg.Steps[name]
		req.log("INFO", fmt.Sprintf("starting workflow step %s (%d/%d)", name, idx+1, len(order)))

		stepProc, err := r.resolveStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("%w: step %s: %v", ErrWorkflowExecution, name, err)
		}
		stepInputs, err := r.stepInputs(step, stepProc, req.Inputs, staged)
		if err != nil {
			return nil, fmt.Errorf("%w: step %s: %v", ErrWorkflowExecution, name, err)
		}

		outputs, err := r.runStep(ctx, req, name, stepProc, stepInputs, stepWindow(idx, len(order)))
		if err != nil {
			return nil, fmt.Errorf("%w: step %s: %v", ErrWorkflowExecution, name, err)
		}
		staged[name] = outputs
		req.log("INFO", fmt.Sprintf("completed workflow step %s", name))
	}

	req.report(progressCeil, "collecting workflow results")
	return r.collectResults(req.Process, order, staged)
}

// resolveStep loads the sibling process a step run reference points to.
func (r *Runner) resolveStep(ctx context.Context, step appkg.Step) (*appkg.Process, error) {
	id := strings.TrimSuffix(path.Base(step.Run), path.Ext(step.Run))
	if id == "" {
		return nil, errors.New("step has no run target")
	}
	return r.source.FetchProcess(ctx, id, "")
}

// stepInputs maps step input bindings to values: upstream references of form
// "stepName/outputId" take the re-hosted output, anything else names a
// workflow input.
func (r *Runner) stepInputs(step appkg.Step, stepProc *appkg.Process,
	workflowInputs map[string]ioconv.IOValue, staged map[string]map[string]stepResult) (map[string]ioconv.IOValue, error) {

	inputs := make(map[string]ioconv.IOValue, len(step.In))
	for inputID, source := range step.In {
		if upstream, outputID, ok := strings.Cut(source, "/"); ok {
			if results, isStep := staged[upstream]; isStep {
				res, found := results[outputID]
				if !found {
					return nil, fmt.Errorf("upstream output %s not produced", source)
				}
				if res.Href != "" {
					inputs[inputID] = ioconv.FileRef{Href: res.Href, MediaType: formatOf(stepProc, inputID)}
				} else {
					inputs[inputID] = ioconv.Literal{DataType: "string", Value: fmt.Sprint(res.Value)}
				}
				continue
			}
		}
		v, ok := workflowInputs[source]
		if !ok {
			return nil, fmt.Errorf("workflow input %q not provided", source)
		}
		inputs[inputID] = v
	}
	return inputs, nil
}

func formatOf(proc *appkg.Process, inputID string) string {
	for _, def := range proc.Inputs {
		if def.ID == inputID {
			if f, ok := appkg.DefaultFormat(def.Formats); ok {
				return f.MediaType
			}
		}
	}
	return ""
}

// runStep executes one step and re-hosts its outputs.
func (r *Runner) runStep(ctx context.Context, req *Request, name string, stepProc *appkg.Process,
	inputs map[string]ioconv.IOValue, window func(int) int) (map[string]stepResult, error) {

	expected := runner.ExpectedOutputs(stepProc)
	stepDir := filepath.Join(req.WorkDir, name)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return nil, err
	}

	progress := func(p int, message string) {
		req.report(window(p), fmt.Sprintf("step %s: %s", name, message))
	}

	if dispatcher, remote := r.dispatchers.ForPrincipal(stepProc.Principal); remote {
		metrics.RemoteDispatches.WithLabelValues(stepProc.Principal.Class).Inc()
		results, err := dispatcher.Execute(ctx, &dispatch.Request{
			Process:         stepProc,
			Inputs:          inputs,
			OutDir:          stepDir,
			ExpectedOutputs: expected,
			Headers:         req.Headers,
			Progress:        progress,
			Cancelled:       req.Cancelled,
		})
		if err != nil {
			return nil, err
		}
		return r.stageStepResults(ctx, req, name, results)
	}

	local, err := runner.Select(stepProc.Principal, stepProc.ID, r.builtins, r.local)
	if err != nil {
		return nil, err
	}
	inputPaths, err := r.stageStepInputs(ctx, inputs, stepDir)
	if err != nil {
		return nil, err
	}
	outcome, err := local.Run(ctx, &runner.Spec{
		Process:         stepProc,
		Inputs:          inputs,
		InputPaths:      inputPaths,
		WorkDir:         stepDir,
		ExpectedOutputs: expected,
		Env:             runner.Env(stepProc.Package),
		Log:             req.Log,
	})
	if err != nil {
		return nil, err
	}

	results := make([]dispatch.Result, 0, len(outcome.OutputFiles))
	for id, files := range outcome.OutputFiles {
		for _, f := range files {
			results = append(results, dispatch.Result{ID: id, LocalPath: f})
		}
	}
	for id, v := range outcome.Values {
		if _, produced := outcome.OutputFiles[id]; !produced {
			results = append(results, dispatch.Result{ID: id, Value: v})
		}
	}
	return r.stageStepResults(ctx, req, name, results)
}

// stageStepInputs fetches file references into the step directory so a local
// runner sees plain paths. References already under the served output tree
// resolve to their existing local files without a copy.
func (r *Runner) stageStepInputs(ctx context.Context, inputs map[string]ioconv.IOValue, stepDir string) (map[string][]string, error) {
	paths := map[string][]string{}
	var stage func(id string, v ioconv.IOValue) error
	stage = func(id string, v ioconv.IOValue) error {
		switch t := v.(type) {
		case ioconv.FileRef:
			local, err := r.fetcher.Fetch(ctx, t.Href, filepath.Join(stepDir, "inputs", id), false)
			if err != nil {
				return err
			}
			paths[id] = append(paths[id], local)
		case ioconv.DirRef:
			local, err := r.fetcher.Fetch(ctx, t.Href, filepath.Join(stepDir, "inputs", id), true)
			if err != nil {
				return err
			}
			paths[id] = append(paths[id], local)
		case ioconv.Array:
			for _, item := range t.Items {
				if err := stage(id, item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for id, v := range inputs {
		if err := stage(id, v); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// stageStepResults moves step outputs into the parent job's output tree and
// records their public URLs for downstream steps.
func (r *Runner) stageStepResults(ctx context.Context, req *Request, name string, results []dispatch.Result) (map[string]stepResult, error) {
	out := map[string]stepResult{}
	for _, res := range results {
		if res.LocalPath == "" {
			out[res.ID] = stepResult{Value: res.Value}
			continue
		}
		ref, err := r.stager.Stage(ctx, req.Context, req.JobID, path.Join(name, res.ID), res.LocalPath)
		if err != nil {
			return nil, err
		}
		out[res.ID] = stepResult{
			Href:      r.stager.PublicHref(ref.Href),
			LocalPath: ref.Path,
		}
	}
	return out, nil
}

// collectResults maps parent output definitions to step outputs of the same
// id, preferring the latest producing step.
func (r *Runner) collectResults(proc *appkg.Process, order []string, staged map[string]map[string]stepResult) ([]dispatch.Result, error) {
	results := make([]dispatch.Result, 0, len(proc.Outputs))
	for _, def := range proc.Outputs {
		var found *stepResult
		for i := len(order) - 1; i >= 0 && found == nil; i-- {
			if res, ok := staged[order[i]][def.ID]; ok {
				found = &res
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: no step produced output %s", ErrWorkflowExecution, def.ID)
		}
		results = append(results, dispatch.Result{
			ID:        def.ID,
			Href:      found.Href,
			LocalPath: found.LocalPath,
			Value:     found.Value,
		})
	}
	return results, nil
}

// stepWindow maps a step's internal progress in [0,100] into its share of
// the parent window [progressFloor, progressCeil].
func stepWindow(idx, total int) func(int) int {
	span := progressCeil - progressFloor
	start := progressFloor + span*idx/total
	end := progressFloor + span*(idx+1)/total
	return func(p int) int {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		return start + (end-start)*p/100
	}
}
