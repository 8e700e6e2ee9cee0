// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package appkg defines the Application Package model and the loader that
// normalizes heterogeneous process descriptions (AP documents, WPS-1/2 XML,
// OGC API Processes JSON) into a Process with a validated I/O schema.
package appkg

import "errors"

// Class is the tool class of an application package.
type Class string

const (
	ClassCommandLineTool Class = "CommandLineTool"
	ClassExpressionTool  Class = "ExpressionTool"
	ClassWorkflow        Class = "Workflow"
)

// Requirement class names. The principal set selects the execution backend;
// the auxiliary set tunes a local run.
const (
	RequirementDocker         = "DockerRequirement"
	RequirementBuiltin        = "BuiltinRequirement"
	RequirementOGCAPI         = "OGCAPIRequirement"
	RequirementWPS1           = "WPS1Requirement"
	RequirementESGFCWT        = "ESGF-CWTRequirement"
	RequirementEnvVar         = "EnvVarRequirement"
	RequirementResource       = "ResourceRequirement"
	RequirementInitialWorkDir = "InitialWorkDirRequirement"
)

// PrincipalRequirements is the set of requirement classes that select an
// execution backend. At most one may appear in a package.
var PrincipalRequirements = map[string]bool{
	RequirementDocker:  true,
	RequirementBuiltin: true,
	RequirementOGCAPI:  true,
	RequirementWPS1:    true,
	RequirementESGFCWT: true,
}

// AuxiliaryRequirements is the set of supported non-principal requirements.
var AuxiliaryRequirements = map[string]bool{
	RequirementEnvVar:         true,
	RequirementResource:       true,
	RequirementInitialWorkDir: true,
}

// Requirement is a single CWL requirement or hint entry.
type Requirement struct {
	Class  string         `json:"class"`
	Params map[string]any `json:"params,omitempty"`
}

// Step is a workflow step referencing another package by run target.
type Step struct {
	// Run is the sub-package reference: inline document name, URL, or a
	// sibling process id when the reference carries no scheme.
	Run string `json:"run"`
	// In maps step input ids to workflow inputs or upstream outputs
	// named as "stepName/outputId".
	In map[string]string `json:"in"`
	// Out lists the step output ids exposed to downstream steps.
	Out []string `json:"out"`
}

// Package is a normalized application package document.
type Package struct {
	CWLVersion   string          `json:"cwlVersion,omitempty"`
	ID           string          `json:"id,omitempty"`
	Class        Class           `json:"class"`
	BaseCommand  []string        `json:"baseCommand,omitempty"`
	Arguments    []string        `json:"arguments,omitempty"`
	Requirements []Requirement   `json:"requirements,omitempty"`
	Hints        []Requirement   `json:"hints,omitempty"`
	Inputs       []InputDef      `json:"inputs"`
	Outputs      []OutputDef     `json:"outputs"`
	Steps        map[string]Step `json:"steps,omitempty"`
}

// Kind classifies an input or output definition.
type Kind string

const (
	KindLiteral          Kind = "literal"
	KindBoundingBox      Kind = "bbox"
	KindComplexFile      Kind = "complex"
	KindComplexDirectory Kind = "directory"
)

// MediaTypeDirectory marks directory-staged complex data.
const MediaTypeDirectory = "application/directory"

// Unbounded marks an unlimited maxOccurs.
const Unbounded = -1

// Format is a supported media-type/encoding/schema triple.
type Format struct {
	MediaType string `json:"mediaType"`
	Encoding  string `json:"encoding,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// Range bounds an allowed literal value interval.
type Range struct {
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
}

// InputDef is a typed process input definition.
type InputDef struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Abstract  string   `json:"abstract,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Kind      Kind     `json:"kind"`
	DataType  string   `json:"dataType,omitempty"` // float|int|bool|string
	Symbols   []string `json:"symbols,omitempty"`
	Range     *Range   `json:"range,omitempty"`
	MinOccurs int      `json:"minOccurs"`
	MaxOccurs int      `json:"maxOccurs"` // Unbounded for unlimited
	Formats   []Format `json:"formats,omitempty"`
	Default   any      `json:"default,omitempty"`
}

// OutputDef is a typed process output definition.
type OutputDef struct {
	ID       string   `json:"id"`
	Title    string   `json:"title,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Kind     Kind     `json:"kind"`
	DataType string   `json:"dataType,omitempty"`
	Array    bool     `json:"array,omitempty"`
	Formats  []Format `json:"formats,omitempty"`
	// Glob is the CWL outputBinding glob pattern collecting the output.
	Glob string `json:"glob,omitempty"`
}

// Visibility controls whether a process may be listed and executed.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Job control options.
const (
	ControlSync  = "sync-execute"
	ControlAsync = "async-execute"
)

// DockerAuth holds registry authentication for a Docker principal requirement.
type DockerAuth struct {
	Scheme string `json:"scheme"`
	Token  string `json:"token"`
	// Link is the dockerPull image reference the credentials are bound to.
	Link string `json:"link"`
}

// Process is a normalized, deployable process.
type Process struct {
	ID                 string      `json:"id"`
	Version            string      `json:"version,omitempty"`
	Title              string      `json:"title,omitempty"`
	Abstract           string      `json:"abstract,omitempty"`
	Keywords           []string    `json:"keywords,omitempty"`
	Package            *Package    `json:"package"`
	Inputs             []InputDef  `json:"inputs"`
	Outputs            []OutputDef `json:"outputs"`
	Principal          Requirement `json:"principal"`
	Auth               *DockerAuth `json:"auth,omitempty"`
	Visibility         Visibility  `json:"visibility"`
	JobControlOptions  []string    `json:"jobControlOptions"`
	OutputTransmission []string    `json:"outputTransmission,omitempty"`
	// Service names the remote provider when the process was discovered
	// through one, empty for local deployments.
	Service string `json:"service,omitempty"`
}

// StepMap maps workflow step names to their resolved sub-packages.
type StepMap map[string]StepPackage

// StepPackage is a resolved workflow step target.
type StepPackage struct {
	ProcessID string
	Package   *Package
}

// Loader and validation errors (spec'd deployment taxonomy).
var (
	ErrPackageNotFound      = errors.New("application package not found")
	ErrPackageRegistration  = errors.New("application package registration failed")
	ErrPackageType          = errors.New("unsupported application package type")
	ErrPackageAuth          = errors.New("invalid application package authentication")
	ErrInvalidRequirement   = errors.New("invalid application package requirement")
	ErrIncompatibleDeploy   = errors.New("package incompatible with instance deployment mode")
	ErrInvalidAuthScheme    = errors.New("invalid authentication scheme")
	ErrWorkflowCycle        = errors.New("workflow steps form a cycle")
	ErrProcessNotAccessible = errors.New("process is not accessible")
)

// SupportsControl reports whether the process allows the given job control option.
func (p *Process) SupportsControl(option string) bool {
	for _, o := range p.JobControlOptions {
		if o == option {
			return true
		}
	}
	return false
}

// Input returns the input definition with the given id.
func (p *Process) Input(id string) (*InputDef, bool) {
	for i := range p.Inputs {
		if p.Inputs[i].ID == id {
			return &p.Inputs[i], true
		}
	}
	return nil, false
}

// Output returns the output definition with the given id.
func (p *Process) Output(id string) (*OutputDef, bool) {
	for i := range p.Outputs {
		if p.Outputs[i].ID == id {
			return &p.Outputs[i], true
		}
	}
	return nil, false
}

// DefaultFormat returns the default format of the definition, or the first
// format when none is marked default.
func DefaultFormat(formats []Format) (Format, bool) {
	for _, f := range formats {
		if f.Default {
			return f, true
		}
	}
	if len(formats) > 0 {
		return formats[0], true
	}
	return Format{}, false
}
