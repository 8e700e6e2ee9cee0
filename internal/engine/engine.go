// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives one job from STARTED to its terminal status: input
// staging, output planning, local or dispatched execution, result staging,
// statistics, and subscriber notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/dispatch"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/metrics"
	"github.com/crim-ca/weaver-sub003/internal/notify"
	"github.com/crim-ca/weaver-sub003/internal/runner"
	"github.com/crim-ca/weaver-sub003/internal/staging"
	"github.com/crim-ca/weaver-sub003/internal/store"
	"github.com/crim-ca/weaver-sub003/internal/workflow"
)

// Contractual progress marks of the execution sequence.
const (
	progressSetup     = 1
	progressStaging   = 3
	progressPlanning  = 4
	progressStaged    = 8
	progressExecute   = 10
	progressCollect   = 95
	progressCollected = 98
	progressNotify    = 99
	progressDone      = 100
)

// PayloadFunc builds the notification payload for a finished job: the
// status document for failures, the results document on success.
type PayloadFunc func(job *store.JobRecord) any

// Engine executes queued jobs.
type Engine struct {
	cfg         *config.Config
	store       *store.Store
	stager      *staging.Stager
	fetcher     *staging.Fetcher
	dispatchers *dispatch.Set
	builtins    *runner.BuiltinRegistry
	local       runner.Runner
	workflows   *workflow.Runner
	notifier    *notify.Notifier
	payload     PayloadFunc
	logger      *slog.Logger
}

// New wires an Engine.
func New(cfg *config.Config, st *store.Store, stager *staging.Stager, fetcher *staging.Fetcher,
	dispatchers *dispatch.Set, builtins *runner.BuiltinRegistry, local runner.Runner,
	workflows *workflow.Runner, notifier *notify.Notifier, payload PayloadFunc, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       st,
		stager:      stager,
		fetcher:     fetcher,
		dispatchers: dispatchers,
		builtins:    builtins,
		local:       local,
		workflows:   workflows,
		notifier:    notifier,
		payload:     payload,
		logger:      logger.With("module", "engine"),
	}
}

// Execute runs one job to a terminal status. cancelled is the dismiss
// tombstone, checked at every suspension point. The returned error reflects
// an infrastructure failure; execution failures end up in the job document.
func (e *Engine) Execute(ctx context.Context, jobID string, cancelled func() bool) error {
	if e.cfg.Worker.JobTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, e.cfg.Worker.JobTimeout)
		defer stop()
	}

	// Workers run in separate processes; a fresh session avoids sharing a
	// connection with the submitting front-end.
	st, err := e.store.Reopen()
	if err != nil {
		return fmt.Errorf("failed to reopen store for job %s: %w", jobID, err)
	}

	run := &jobRun{Engine: e, store: st, cancelled: cancelled}
	job, err := st.FetchJob(ctx, jobID)
	if err != nil {
		return err
	}
	run.job = job

	if job.Status.Terminal() {
		// At-least-once delivery may replay a finished task.
		e.logger.Info("skipping terminal job", "job", jobID, "status", job.Status)
		return nil
	}

	if err := run.execute(ctx); err != nil {
		run.fail(ctx, err)
	}
	return nil
}

// jobRun carries the mutable state of one execution.
type jobRun struct {
	*Engine
	store     *store.Store
	job       *store.JobRecord
	cancelled func() bool

	process  *appkg.Process
	inputs   map[string]ioconv.IOValue
	workDir  string
	rssStart int64
}

func (r *jobRun) execute(ctx context.Context) error {
	started := time.Now().UTC()

	// Setup.
	r.job.Status = store.StatusStarted
	r.job.StartedAt = &started
	r.job.Progress = progressSetup
	if err := r.store.UpdateJob(ctx, r.job); err != nil {
		return err
	}
	r.log(ctx, "INFO", "job started")

	proc, err := r.store.FetchProcess(ctx, r.job.ProcessID, r.job.Version)
	if err != nil {
		return err
	}
	r.process = proc
	r.rssStart = readRSS()

	r.job.Status = store.StatusRunning
	r.setProgress(ctx, progressStaging, "staging inputs")
	if r.isCancelled(ctx) {
		return dispatch.ErrCancelled
	}

	// Input coercion and staging.
	if err := r.coerceInputs(); err != nil {
		return err
	}
	r.workDir = filepath.Join(r.cfg.WPS.WorkDir, r.job.ID)
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	// Output planning.
	r.setProgress(ctx, progressPlanning, "planning outputs")
	expected := runner.ExpectedOutputs(proc)

	inputPaths, err := r.stageInputs(ctx)
	if err != nil {
		return err
	}
	r.setProgress(ctx, progressStaged, "inputs staged")
	if r.isCancelled(ctx) {
		return dispatch.ErrCancelled
	}

	// Execute and monitor.
	r.setProgress(ctx, progressExecute, "executing")
	results, err := r.run(ctx, expected, inputPaths)
	if err != nil {
		return err
	}
	if r.isCancelled(ctx) {
		return dispatch.ErrCancelled
	}

	// Result collection.
	r.setProgress(ctx, progressCollect, "collecting results")
	staged, sizes, err := r.collectResults(ctx, results)
	if err != nil {
		return err
	}
	r.job.Results = staged

	// Statistics.
	r.setProgress(ctx, progressCollected, "recording statistics")
	r.job.Statistics = r.statistics(sizes)

	// Notify.
	r.setProgress(ctx, progressNotify, "notifying subscribers")
	finished := time.Now().UTC()
	r.job.Status = store.StatusSucceeded
	r.job.Progress = progressDone
	r.job.FinishedAt = &finished
	if err := r.store.UpdateJob(ctx, r.job); err != nil {
		return err
	}
	r.log(ctx, "INFO", "job succeeded")
	r.notifier.Notify(ctx, r.job, r.payload(r.job))

	metrics.JobsCompleted.WithLabelValues(string(store.StatusSucceeded)).Inc()
	metrics.JobDuration.WithLabelValues(string(store.StatusSucceeded)).Observe(finished.Sub(started).Seconds())
	return nil
}

// run executes the package through the right backend and returns its raw
// results.
func (r *jobRun) run(ctx context.Context, expected map[string]string, inputPaths map[string][]string) ([]dispatch.Result, error) {
	progress := func(p int, message string) {
		// Dispatcher progress [0,100] maps into the monitoring window.
		scaled := progressExecute + (progressCollect-progressExecute)*p/100
		r.setProgress(ctx, scaled, message)
	}

	if r.process.Package != nil && r.process.Package.Class == appkg.ClassWorkflow {
		return r.workflows.Execute(ctx, &workflow.Request{
			JobID:     r.job.ID,
			Context:   r.job.Context,
			Process:   r.process,
			Inputs:    r.inputs,
			WorkDir:   r.workDir,
			Headers:   r.forwardedHeaders(),
			Progress:  progress,
			Cancelled: r.cancelled,
			Log:       func(level, message string) { r.log(ctx, level, message) },
		})
	}

	if dispatcher, remote := r.dispatchers.ForPrincipal(r.process.Principal); remote && r.process.Principal.Class != appkg.RequirementDocker {
		metrics.RemoteDispatches.WithLabelValues(r.process.Principal.Class).Inc()
		return dispatcher.Execute(ctx, &dispatch.Request{
			Process:         r.process,
			Inputs:          r.inputs,
			OutDir:          r.workDir,
			ExpectedOutputs: expected,
			Headers:         r.forwardedHeaders(),
			Progress:        progress,
			Cancelled:       r.cancelled,
		})
	}

	// Docker packages run locally on an ADES/hybrid instance and dispatch to
	// a peer ADES otherwise.
	if r.process.Principal.Class == appkg.RequirementDocker && !r.cfg.DeploymentMode().LocalCapable() {
		metrics.RemoteDispatches.WithLabelValues(r.process.Principal.Class).Inc()
		return r.dispatchers.ADES.Execute(ctx, &dispatch.Request{
			Process:         r.process,
			Inputs:          r.inputs,
			OutDir:          r.workDir,
			ExpectedOutputs: expected,
			Headers:         r.forwardedHeaders(),
			Progress:        progress,
			Cancelled:       r.cancelled,
		})
	}

	local, err := runner.Select(r.process.Principal, r.process.ID, r.builtins, r.local)
	if err != nil {
		return nil, err
	}
	outcome, err := local.Run(ctx, &runner.Spec{
		Process:         r.process,
		Inputs:          r.inputs,
		InputPaths:      inputPaths,
		WorkDir:         r.workDir,
		ExpectedOutputs: expected,
		Env:             runner.Env(r.process.Package),
		Log:             func(level, message string) { r.log(ctx, level, message) },
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
	return results, nil
}

// coerceInputs converts the submitted raw inputs against the process
// definitions.
func (r *jobRun) coerceInputs() error {
	r.inputs = make(map[string]ioconv.IOValue, len(r.job.Inputs))
	for _, def := range r.process.Inputs {
		raw, ok := r.job.Inputs[def.ID]
		if !ok {
			if def.Default != nil {
				raw = def.Default
			} else if def.MinOccurs > 0 {
				return fmt.Errorf("%w: missing required input %q", ioconv.ErrInvalidValue, def.ID)
			} else {
				continue
			}
		}
		v, err := ioconv.CoerceInput(&def, raw)
		if err != nil {
			return err
		}
		r.inputs[def.ID] = v
	}
	for id := range r.job.Inputs {
		if _, ok := r.process.Input(id); !ok {
			return fmt.Errorf("%w: unknown input %q", ioconv.ErrInvalidIdentifier, id)
		}
	}
	return nil
}

// stageInputs fetches file references into the job work directory when the
// package executes locally. Remote dispatch passes references through.
func (r *jobRun) stageInputs(ctx context.Context) (map[string][]string, error) {
	placement := appkg.Classify(r.process.Principal)
	if placement == appkg.PlacementRemote {
		return nil, nil
	}
	if r.process.Package != nil && r.process.Package.Class == appkg.ClassWorkflow {
		// Steps stage their own inputs.
		return nil, nil
	}

	paths := map[string][]string{}
	var stage func(id string, v ioconv.IOValue) error
	stage = func(id string, v ioconv.IOValue) error {
		switch t := v.(type) {
		case ioconv.FileRef:
			local, err := r.fetcher.Fetch(ctx, t.Href, filepath.Join(r.workDir, "inputs", id), false)
			if err != nil {
				return err
			}
			r.log(ctx, "INFO", fmt.Sprintf("staged input %s from %s", id, t.Href))
			paths[id] = append(paths[id], local)
		case ioconv.DirRef:
			local, err := r.fetcher.Fetch(ctx, t.Href, filepath.Join(r.workDir, "inputs", id), true)
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
	for id, v := range r.inputs {
		if err := stage(id, v); err != nil {
			return nil, fmt.Errorf("failed to stage input %s: %w", id, err)
		}
	}
	return paths, nil
}

// collectResults stages produced files into the output tree and rewrites the
// result records pseudo-relative. Extra values beyond a single-cardinality
// output are dropped with a warning.
func (r *jobRun) collectResults(ctx context.Context, results []dispatch.Result) ([]store.Result, map[string]int64, error) {
	staged := make([]store.Result, 0, len(results))
	sizes := make(map[string]int64, len(results))
	seen := map[string]int{}

	for _, res := range results {
		def, _ := r.process.Output(res.ID)
		seen[res.ID]++
		if def != nil && !def.Array && seen[res.ID] > 1 {
			r.log(ctx, "WARNING", fmt.Sprintf("dropping extra value for single output %s", res.ID))
			continue
		}

		record := store.Result{ID: res.ID, MediaType: res.MediaType}
		switch {
		case res.LocalPath != "":
			if r.stager.IsStaged(res.LocalPath) {
				// The workflow runner already re-hosted this file.
				record.Href = r.stager.RelativeHref(res.Href)
				sizes[res.ID] += fileSize(res.LocalPath)
			} else {
				ref, err := r.stager.Stage(ctx, r.job.Context, r.job.ID, res.ID, res.LocalPath)
				if err != nil {
					return nil, nil, err
				}
				record.Href = ref.Href
				sizes[res.ID] += ref.Size
			}
			if record.MediaType == "" && def != nil {
				if f, ok := appkg.DefaultFormat(def.Formats); ok {
					record.MediaType = f.MediaType
				}
			}
		case res.Href != "":
			record.Href = r.stager.RelativeHref(res.Href)
		default:
			record.Value = res.Value
			if def != nil {
				record.DataType = def.DataType
			}
		}
		staged = append(staged, record)
	}
	return staged, sizes, nil
}

func (r *jobRun) forwardedHeaders() http.Header {
	h := http.Header{}
	if r.job.AcceptLanguage != "" {
		h.Set("Accept-Language", r.job.AcceptLanguage)
	}
	return h
}

// fail moves the job to FAILED, or DISMISSED when the failure was caused by
// a dismissal, then notifies.
func (r *jobRun) fail(ctx context.Context, cause error) {
	finished := time.Now().UTC()
	status := store.StatusFailed
	if errors.Is(cause, dispatch.ErrCancelled) || r.cancelled != nil && r.cancelled() {
		status = store.StatusDismissed
		r.cleanupDismissed(ctx)
	}

	r.job.Status = status
	r.job.FinishedAt = &finished
	r.job.Exceptions = append(r.job.Exceptions, store.Exception{
		Title:  errorTitle(cause),
		Detail: cause.Error(),
	})
	if err := r.store.UpdateJob(ctx, r.job); err != nil {
		r.logger.Error("failed to persist terminal status", "job", r.job.ID, "error", err)
	}
	r.log(ctx, "ERROR", fmt.Sprintf("job %s: %s", status, cause))
	r.notifier.Notify(ctx, r.job, r.payload(r.job))

	metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
	if r.job.StartedAt != nil {
		metrics.JobDuration.WithLabelValues(string(status)).Observe(finished.Sub(*r.job.StartedAt).Seconds())
	}
}

// cleanupDismissed removes everything the job staged.
func (r *jobRun) cleanupDismissed(ctx context.Context) {
	if err := r.stager.RemoveJobOutputs(r.job.Context, r.job.ID); err != nil {
		r.logger.Warn("failed to remove staged outputs", "job", r.job.ID, "error", err)
	}
	if r.workDir != "" {
		_ = os.RemoveAll(r.workDir)
	}
	r.log(ctx, "INFO", "job dismissed, staged artifacts removed")
}

func (r *jobRun) isCancelled(ctx context.Context) bool {
	return r.cancelled != nil && r.cancelled() || ctx.Err() != nil
}

// setProgress advances the job progress monotonically and appends a log line.
func (r *jobRun) setProgress(ctx context.Context, progress int, message string) {
	if progress <= r.job.Progress && r.job.Status == store.StatusRunning {
		r.log(ctx, "DEBUG", message)
		return
	}
	if progress > r.job.Progress {
		r.job.Progress = progress
	}
	if err := r.store.UpdateJob(ctx, r.job); err != nil {
		r.logger.Warn("failed to persist progress", "job", r.job.ID, "error", err)
	}
	r.log(ctx, "INFO", message)
}

func (r *jobRun) log(ctx context.Context, level, message string) {
	entry := &store.JobLogRecord{
		JobID:    r.job.ID,
		Level:    level,
		Message:  message,
		Progress: r.job.Progress,
		Status:   r.job.Status,
	}
	if err := r.store.SaveLog(ctx, entry); err != nil {
		r.logger.Warn("failed to append job log", "job", r.job.ID, "error", err)
	}
}

// errorTitle maps an execution error chain to the exception title surfaced
// in the job document.
func errorTitle(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrCancelled):
		return "JobDismissed"
	case errors.Is(err, dispatch.ErrMonitoringTimeout):
		return "MonitoringTimeout"
	case errors.Is(err, dispatch.ErrRemoteExecution):
		return "RemoteExecutionError"
	case errors.Is(err, workflow.ErrWorkflowExecution):
		return "WorkflowExecutionError"
	case errors.Is(err, runner.ErrPackageExecution):
		return "PackageExecutionError"
	case errors.Is(err, ioconv.ErrInvalidValue), errors.Is(err, ioconv.ErrInvalidIdentifier),
		errors.Is(err, ioconv.ErrUnsupportedMediaType):
		return "InvalidParameterValue"
	default:
		return "PackageExecutionError"
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if i, err := d.Info(); err == nil {
			total += i.Size()
		}
		return nil
	})
	return total
}

