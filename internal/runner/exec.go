// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
)

// CommandRunner spawns the package base command in the job work directory.
// Containerized execution is delegated to the command itself (a docker or
// podman invocation in the package); the runner only manages the process.
type CommandRunner struct {
	logger *slog.Logger
}

// NewCommandRunner creates the runner.
func NewCommandRunner(logger *slog.Logger) *CommandRunner {
	return &CommandRunner{logger: logger.With("runner", "command")}
}

// Run executes the package command, streaming stdout/stderr to both the
// capture files and the job log sink, then collects outputs by glob.
func (r *CommandRunner) Run(ctx context.Context, spec *Spec) (*Outcome, error) {
	pkg := spec.Process.Package
	if pkg == nil || len(pkg.BaseCommand) == 0 {
		return nil, fmt.Errorf("%w: package %s has no base command", ErrPackageExecution, spec.Process.ID)
	}

	args := append(append([]string{}, pkg.BaseCommand[1:]...), pkg.Arguments...)
	args = append(args, commandArgs(spec)...)

	cmd := exec.CommandContext(ctx, pkg.BaseCommand[0], args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), flattenEnv(spec.Env)...)

	stdoutPath := filepath.Join(spec.WorkDir, "stdout.log")
	stderrPath := filepath.Join(spec.WorkDir, "stderr.log")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}
	defer stderr.Close()

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrPackageExecution, pkg.BaseCommand[0], err)
	}
	spec.log("INFO", fmt.Sprintf("started %s", strings.Join(append([]string{pkg.BaseCommand[0]}, args...), " ")))

	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(&wg, outPipe, stdout, spec, "INFO")
	go r.stream(&wg, errPipe, stderr, spec, "ERROR")
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}
	spec.log("INFO", "command completed")

	files, err := collectOutputs(spec)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		OutputFiles: files,
		StdoutPath:  stdoutPath,
		StderrPath:  stderrPath,
	}, nil
}

func (r *CommandRunner) stream(wg *sync.WaitGroup, src io.Reader, capture io.Writer, spec *Spec, level string) {
	defer wg.Done()
	scanner := bufio.NewScanner(io.TeeReader(src, capture))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		spec.log(level, scanner.Text())
	}
}

// commandArgs flattens the inputs to positional arguments in the declared
// input order. Staged files contribute their local paths.
func commandArgs(spec *Spec) []string {
	var args []string
	for _, def := range spec.Process.Inputs {
		if paths, ok := spec.InputPaths[def.ID]; ok && len(paths) > 0 {
			args = append(args, paths...)
			continue
		}
		v, ok := spec.Inputs[def.ID]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case ioconv.Array:
			for _, item := range t.Items {
				args = append(args, ioconv.LiteralString(item))
			}
		default:
			args = append(args, ioconv.LiteralString(v))
		}
	}
	return args
}

// collectOutputs matches the expected globs below the work directory.
func collectOutputs(spec *Spec) (map[string][]string, error) {
	files := make(map[string][]string, len(spec.ExpectedOutputs))
	for id, pattern := range spec.ExpectedOutputs {
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(spec.WorkDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q for output %s: %v", ErrPackageExecution, pattern, id, err)
		}
		sort.Strings(matches)
		files[id] = matches
	}
	return files, nil
}

// ExpectedOutputs derives the output id to glob map for a package, stripping
// nested directory components since staged outputs flatten per id.
func ExpectedOutputs(proc *appkg.Process) map[string]string {
	expected := make(map[string]string, len(proc.Outputs))
	for _, out := range proc.Outputs {
		glob := out.Glob
		if i := strings.LastIndex(glob, "/"); i >= 0 {
			glob = glob[i+1:]
		}
		if glob == "" && out.Kind != appkg.KindLiteral {
			glob = "*"
		}
		expected[out.ID] = glob
	}
	return expected
}

// Env extracts the environment of a package's EnvVarRequirement, if any.
func Env(pkg *appkg.Package) map[string]string {
	return envOf(pkg)
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
