// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch executes application packages on remote providers: OGC
// API Processes, legacy WPS-1/2, ESGF-CWT endpoints, and peer ADES
// instances. Every dispatcher runs the same phase sequence with fixed
// progress markers; phases return values and errors, never control-flow
// signals.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
)

var (
	// ErrRemoteExecution wraps a failure reported by the remote provider.
	ErrRemoteExecution = errors.New("remote execution failed")
	// ErrMonitoringTimeout marks a job abandoned after its polling window.
	ErrMonitoringTimeout = errors.New("remote monitoring timed out")
	// ErrCancelled marks an execution stopped by a dismiss request.
	ErrCancelled = errors.New("execution cancelled")
	// ErrServiceNotAccessible marks an unreachable provider endpoint.
	ErrServiceNotAccessible = errors.New("service not accessible")
)

// ProgressFunc reports phase progress in [0,100] with a human message.
type ProgressFunc func(progress int, message string)

// Request is one remote execution handed to a dispatcher.
type Request struct {
	Process *appkg.Process
	// Inputs are the coerced workflow inputs keyed by input id.
	Inputs map[string]ioconv.IOValue
	// OutDir receives fetched result files.
	OutDir string
	// ExpectedOutputs maps output id to the glob collecting it.
	ExpectedOutputs map[string]string
	// Headers carries forwardable request headers (Authorization).
	Headers http.Header
	// Progress reports dispatcher progress; may be nil.
	Progress ProgressFunc
	// Cancelled reports whether a dismiss tombstone was set; may be nil.
	Cancelled func() bool
}

func (r *Request) report(progress int, message string) {
	if r.Progress != nil {
		r.Progress(progress, message)
	}
}

func (r *Request) cancelled() bool {
	return r.Cancelled != nil && r.Cancelled()
}

// Result is one output produced by a remote execution.
type Result struct {
	ID        string
	Href      string
	LocalPath string
	MediaType string
	Value     any
}

// Dispatcher executes a process remotely and returns its results.
type Dispatcher interface {
	Execute(ctx context.Context, req *Request) ([]Result, error)
}

// Progress markers of the shared phase sequence. Monitoring spans
// markerMonitor to markerResults.
const (
	markerPrepare       = 2
	markerStageInputs   = 5
	markerFormatInputs  = 10
	markerFormatOutputs = 12
	markerDispatch      = 15
	markerMonitor       = 20
	markerResults       = 85
	markerFetchResults  = 90
	markerStageResults  = 95
	markerDone          = 100
)

// phase is one step of the dispatch template. A phase returning done=true
// short-circuits straight to cleanup.
type phase struct {
	name     string
	progress int
	run      func(ctx context.Context) (done bool, err error)
}

// runPhases executes phases in order, reporting each marker and honoring
// the cancellation tombstone between phases. cleanup always runs.
func runPhases(ctx context.Context, req *Request, logger *slog.Logger, phases []phase, cleanup func()) error {
	if cleanup != nil {
		defer cleanup()
	}
	for _, p := range phases {
		if req.cancelled() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		req.report(p.progress, p.name)
		logger.Debug("dispatch phase", "phase", p.name, "progress", p.progress)
		done, err := p.run(ctx)
		if err != nil {
			return fmt.Errorf("phase %s: %w", p.name, err)
		}
		if done {
			break
		}
	}
	req.report(markerDone, "done")
	return nil
}

// MonitorConfig bounds the remote status polling loop.
type MonitorConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// maxConsecutiveFailures is the read-failure tolerance of the monitor loop.
const maxConsecutiveFailures = 5

// Permanent marks a monitor error that must not be retried.
func Permanent(err error) error { return &permanentError{err} }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Poll runs check with exponential backoff until it reports done, the
// context ends, the tombstone fires, or 5 consecutive reads fail.
func Poll(ctx context.Context, cfg MonitorConfig, cancelled func() bool, check func(ctx context.Context) (done bool, err error)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.Multiplier = 2
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	failures := 0
	for {
		if cancelled != nil && cancelled() {
			return ErrCancelled
		}
		done, err := check(ctx)
		if err != nil {
			var pe *permanentError
			if errors.As(err, &pe) {
				return pe.err
			}
			failures++
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("%w: %d consecutive status read failures: %v",
					ErrRemoteExecution, failures, err)
			}
		} else {
			failures = 0
			if done {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrMonitoringTimeout
			}
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// serviceURL extracts the provider endpoint from a principal requirement.
// The "process" param may be a full URL; otherwise "provider" holds the
// endpoint base and "process" the identifier.
func serviceURL(principal appkg.Requirement) (base, processID string, err error) {
	proc, _ := principal.Params["process"].(string)
	provider, _ := principal.Params["provider"].(string)

	if strings.HasPrefix(proc, "http://") || strings.HasPrefix(proc, "https://") {
		if base, id, ok := splitProcessURL(proc); ok {
			return base, id, nil
		}
		return strings.TrimSuffix(proc, "/"), "", nil
	}
	if provider == "" {
		return "", "", fmt.Errorf("%w: requirement %s names no provider", ErrServiceNotAccessible, principal.Class)
	}
	return strings.TrimSuffix(provider, "/"), proc, nil
}

// splitProcessURL splits {base}/processes/{id} into its parts.
func splitProcessURL(u string) (base, id string, ok bool) {
	u = strings.TrimSuffix(u, "/")
	i := strings.LastIndex(u, "/processes/")
	if i < 0 {
		return "", "", false
	}
	return u[:i], u[i+len("/processes/"):], true
}
