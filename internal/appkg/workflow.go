// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ResolveSteps recursively resolves every step's run reference of a Workflow
// package. A reference lacking a scheme is treated as a sibling process id
// looked up at the configured data source; URLs are fetched and normalized.
// Step run identifiers are rewritten to their local filename. Step-to-step
// dependencies are validated to form a DAG; cycles fail the load.
func (l *Loader) ResolveSteps(ctx context.Context, pkg *Package) (StepMap, error) {
	if pkg.Class != ClassWorkflow {
		return nil, nil
	}

	if err := checkAcyclic(pkg.Steps); err != nil {
		return nil, err
	}

	stepMap := make(StepMap, len(pkg.Steps))
	for name, step := range pkg.Steps {
		processID, sub, err := l.resolveStepRun(ctx, step.Run)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		stepMap[name] = StepPackage{ProcessID: processID, Package: sub}

		// The dumped sub-package sits alongside the parent under its
		// local filename.
		step.Run = processID + ".cwl"
		pkg.Steps[name] = step
	}
	return stepMap, nil
}

func (l *Loader) resolveStepRun(ctx context.Context, run string) (string, *Package, error) {
	ref := strings.TrimSuffix(run, "#")

	if strings.Contains(ref, "://") {
		sub, err := l.LoadReference(ctx, ref)
		if err != nil {
			return "", nil, err
		}
		id := sub.ID
		if id == "" {
			id = strings.TrimSuffix(path.Base(ref), path.Ext(ref))
		}
		return id, sub, nil
	}

	// Scheme-less references are sibling process ids.
	id := strings.TrimSuffix(path.Base(ref), path.Ext(ref))
	if l.source == nil {
		return "", nil, fmt.Errorf("%w: no process source to resolve %q", ErrPackageNotFound, id)
	}
	sub, err := l.source.LookupPackage(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, sub, nil
}

// checkAcyclic rejects workflows whose step input references form a cycle.
// Dependencies are name references of form "stepName/outputId".
func checkAcyclic(steps map[string]Step) error {
	deps := make(map[string][]string, len(steps))
	for name, step := range steps {
		for _, src := range step.In {
			if upstream, _, ok := strings.Cut(src, "/"); ok {
				if _, isStep := steps[upstream]; isStep {
					deps[name] = append(deps[name], upstream)
				}
			}
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("%w: at step %q", ErrWorkflowCycle, name)
		case black:
			return nil
		}
		color[name] = grey
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for name := range steps {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalSteps returns step names ordered so every step appears after
// the steps it consumes outputs from.
func TopologicalSteps(steps map[string]Step) ([]string, error) {
	if err := checkAcyclic(steps); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for name := range steps {
		indegree[name] = 0
	}
	for name, step := range steps {
		for _, src := range step.In {
			if upstream, _, ok := strings.Cut(src, "/"); ok {
				if _, isStep := steps[upstream]; isStep {
					indegree[name]++
					dependents[upstream] = append(dependents[upstream], name)
				}
			}
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(steps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		next := dependents[name]
		slices.Sort(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order, nil
}
