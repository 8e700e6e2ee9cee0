// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes non-workflow application packages locally, either
// by spawning the package command or through a registered builtin.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
)

// ErrPackageExecution wraps a failed local run.
var ErrPackageExecution = errors.New("package execution failed")

// Spec is one local execution request.
type Spec struct {
	Process *appkg.Process
	// Inputs are the coerced values; file references already staged.
	Inputs map[string]ioconv.IOValue
	// InputPaths maps input ids to their staged local files.
	InputPaths map[string][]string
	// WorkDir is the scratch directory the command runs in.
	WorkDir string
	// ExpectedOutputs maps output ids to the glob collecting them.
	ExpectedOutputs map[string]string
	// Env holds extra environment from an EnvVarRequirement.
	Env map[string]string
	// Log receives runner output lines as they appear.
	Log func(level, message string)
}

func (s *Spec) log(level, message string) {
	if s.Log != nil {
		s.Log(level, message)
	}
}

// Outcome is the result of a local run.
type Outcome struct {
	// OutputFiles maps output ids to produced files, matched by glob.
	OutputFiles map[string][]string
	// Values holds inline outputs produced by builtins.
	Values map[string]any
	// StdoutPath and StderrPath are the captured stream files.
	StdoutPath string
	StderrPath string
}

// Runner executes one package locally.
type Runner interface {
	Run(ctx context.Context, spec *Spec) (*Outcome, error)
}

// Select picks the runner for a principal requirement: builtins from the
// registry, anything else through the command runner.
func Select(principal appkg.Requirement, processID string, builtins *BuiltinRegistry, cmd Runner) (Runner, error) {
	if principal.Class == appkg.RequirementBuiltin {
		if fn, ok := builtins.Lookup(processID); ok {
			return fn, nil
		}
		return nil, fmt.Errorf("%w: no builtin registered for %s", ErrPackageExecution, processID)
	}
	return cmd, nil
}

// envOf extracts EnvVarRequirement definitions from the package.
func envOf(pkg *appkg.Package) map[string]string {
	env := map[string]string{}
	for _, req := range append(append([]appkg.Requirement{}, pkg.Requirements...), pkg.Hints...) {
		if req.Class != appkg.RequirementEnvVar {
			continue
		}
		if defs, ok := req.Params["envDef"].(map[string]any); ok {
			for k, v := range defs {
				env[k] = fmt.Sprint(v)
			}
		}
	}
	return env
}
