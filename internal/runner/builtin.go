// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// BuiltinFunc is a natively implemented process body.
type BuiltinFunc func(ctx context.Context, spec *Spec) (*Outcome, error)

// Run implements Runner.
func (f BuiltinFunc) Run(ctx context.Context, spec *Spec) (*Outcome, error) {
	return f(ctx, spec)
}

// BuiltinRegistry maps process ids to native implementations.
type BuiltinRegistry struct {
	mu    sync.RWMutex
	funcs map[string]BuiltinFunc
}

// NewBuiltinRegistry creates an empty registry.
func NewBuiltinRegistry() *BuiltinRegistry {
	return &BuiltinRegistry{funcs: map[string]BuiltinFunc{}}
}

// Register binds a process id to its implementation.
func (r *BuiltinRegistry) Register(processID string, fn BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[processID] = fn
}

// Lookup returns the implementation of a builtin process.
func (r *BuiltinRegistry) Lookup(processID string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[processID]
	return fn, ok
}

// RegisterDefaults installs the stock builtins.
func (r *BuiltinRegistry) RegisterDefaults(fetcher *staging.Fetcher) {
	r.Register("echo", echoBuiltin)
	r.Register("jsonarray2netcdf", jsonarray2netcdf(fetcher))
}

// echoBuiltin writes its message input to a text output and the job log.
func echoBuiltin(_ context.Context, spec *Spec) (*Outcome, error) {
	message := ""
	if v, ok := spec.Inputs["message"]; ok {
		message = ioconv.LiteralString(v)
	}
	spec.log("INFO", message)

	out := filepath.Join(spec.WorkDir, "echo.txt")
	if err := os.WriteFile(out, []byte(message+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
	}
	return &Outcome{
		OutputFiles: map[string][]string{"output": {out}},
		Values:      map[string]any{"output": message},
	}, nil
}

// jsonarray2netcdf reads a JSON array of NetCDF URLs and fetches each file
// into the work directory.
func jsonarray2netcdf(fetcher *staging.Fetcher) BuiltinFunc {
	return func(ctx context.Context, spec *Spec) (*Outcome, error) {
		paths, ok := spec.InputPaths["input"]
		if !ok || len(paths) == 0 {
			return nil, fmt.Errorf("%w: jsonarray2netcdf needs a staged input file", ErrPackageExecution)
		}
		data, err := os.ReadFile(paths[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPackageExecution, err)
		}
		var hrefs []string
		if err := json.Unmarshal(data, &hrefs); err != nil {
			return nil, fmt.Errorf("%w: input is not a JSON array of URLs: %v", ErrPackageExecution, err)
		}

		var fetched []string
		for _, href := range hrefs {
			if !strings.HasSuffix(strings.ToLower(href), ".nc") {
				spec.log("WARNING", fmt.Sprintf("skipping non-NetCDF reference %s", href))
				continue
			}
			local, err := fetcher.Fetch(ctx, href, spec.WorkDir, false)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to fetch %s: %v", ErrPackageExecution, href, err)
			}
			spec.log("INFO", fmt.Sprintf("fetched %s", href))
			fetched = append(fetched, local)
		}
		if len(fetched) == 0 {
			return nil, fmt.Errorf("%w: no NetCDF references in input array", ErrPackageExecution)
		}
		return &Outcome{OutputFiles: map[string][]string{"output": fetched}}, nil
	}
}

// BuiltinProcesses returns the process descriptions of the stock builtins,
// deployed automatically at startup.
func BuiltinProcesses() []*appkg.Process {
	netcdf := appkg.Format{MediaType: "application/x-netcdf"}
	jsonFmt := appkg.Format{MediaType: "application/json", Default: true}
	return []*appkg.Process{
		{
			ID:       "echo",
			Version:  "1.0",
			Title:    "Echo",
			Abstract: "Writes the input message back as a text output.",
			Package: &appkg.Package{
				Class: appkg.ClassCommandLineTool,
				Hints: []appkg.Requirement{{Class: appkg.RequirementBuiltin}},
			},
			Inputs: []appkg.InputDef{{
				ID: "message", Kind: appkg.KindLiteral, DataType: "string", MinOccurs: 1, MaxOccurs: 1,
			}},
			Outputs: []appkg.OutputDef{{
				ID: "output", Kind: appkg.KindComplexFile,
				Formats: []appkg.Format{{MediaType: "text/plain", Default: true}},
				Glob:    "echo.txt",
			}},
			Principal:          appkg.Requirement{Class: appkg.RequirementBuiltin},
			Visibility:         appkg.VisibilityPublic,
			JobControlOptions:  []string{appkg.ControlSync, appkg.ControlAsync},
			OutputTransmission: []string{"value", "reference"},
		},
		{
			ID:       "jsonarray2netcdf",
			Version:  "1.0",
			Title:    "JSON array to NetCDF",
			Abstract: "Fetches every NetCDF file listed in a JSON array of URLs.",
			Package: &appkg.Package{
				Class: appkg.ClassCommandLineTool,
				Hints: []appkg.Requirement{{Class: appkg.RequirementBuiltin}},
			},
			Inputs: []appkg.InputDef{{
				ID: "input", Kind: appkg.KindComplexFile, MinOccurs: 1, MaxOccurs: 1,
				Formats: []appkg.Format{jsonFmt},
			}},
			Outputs: []appkg.OutputDef{{
				ID: "output", Kind: appkg.KindComplexFile, Array: true,
				Formats: []appkg.Format{netcdf},
				Glob:    "*.nc",
			}},
			Principal:          appkg.Requirement{Class: appkg.RequirementBuiltin},
			Visibility:         appkg.VisibilityPublic,
			JobControlOptions:  []string{appkg.ControlSync, appkg.ControlAsync},
			OutputTransmission: []string{"reference"},
		},
	}
}
