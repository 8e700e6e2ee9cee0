// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/config"
)

func TestParseDocumentCWLCommandLineTool(t *testing.T) {
	doc := []byte(`{
		"cwlVersion": "v1.0",
		"class": "CommandLineTool",
		"id": "subset",
		"baseCommand": ["subset-tool"],
		"requirements": {
			"DockerRequirement": {"dockerPull": "example/subset:1.0"}
		},
		"inputs": {
			"variable": "string",
			"count": "int?",
			"files": "File[]",
			"region": {
				"type": {"type": "enum", "symbols": ["north", "south"]},
				"default": "north"
			},
			"dataset": {
				"type": "File",
				"format": "https://www.iana.org/assignments/media-types/application/x-netcdf"
			}
		},
		"outputs": {
			"output": {
				"type": "File",
				"outputBinding": {"glob": "*.nc"}
			}
		}
	}`)

	pkg, err := ParseDocument(doc, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ClassCommandLineTool, pkg.Class)
	assert.Equal(t, []string{"subset-tool"}, pkg.BaseCommand)
	require.Len(t, pkg.Requirements, 1)
	assert.Equal(t, RequirementDocker, pkg.Requirements[0].Class)
	assert.Equal(t, "example/subset:1.0", pkg.Requirements[0].Params["dockerPull"])

	byID := map[string]InputDef{}
	for _, in := range pkg.Inputs {
		byID[in.ID] = in
	}
	require.Len(t, byID, 5)

	assert.Equal(t, KindLiteral, byID["variable"].Kind)
	assert.Equal(t, "string", byID["variable"].DataType)
	assert.Equal(t, 1, byID["variable"].MinOccurs)

	assert.Equal(t, 0, byID["count"].MinOccurs)
	assert.Equal(t, "int", byID["count"].DataType)

	assert.Equal(t, KindComplexFile, byID["files"].Kind)
	assert.Equal(t, Unbounded, byID["files"].MaxOccurs)

	assert.Equal(t, []string{"north", "south"}, byID["region"].Symbols)
	assert.Equal(t, "north", byID["region"].Default)
	assert.Equal(t, 0, byID["region"].MinOccurs)

	require.Len(t, byID["dataset"].Formats, 1)
	assert.Equal(t, "application/x-netcdf", byID["dataset"].Formats[0].MediaType)
	assert.True(t, byID["dataset"].Formats[0].Default)

	require.Len(t, pkg.Outputs, 1)
	assert.Equal(t, KindComplexFile, pkg.Outputs[0].Kind)
	assert.Equal(t, "*.nc", pkg.Outputs[0].Glob)
	assert.False(t, pkg.Outputs[0].Array)
}

func TestParseDocumentCWLListForms(t *testing.T) {
	doc := []byte(`{
		"class": "CommandLineTool",
		"baseCommand": "echo",
		"hints": [{"class": "DockerRequirement", "dockerPull": "busybox"}],
		"inputs": [{"id": "message", "type": "string"}],
		"outputs": [{"id": "result", "type": "File[]"}]
	}`)

	pkg, err := ParseDocument(doc, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, pkg.BaseCommand)
	require.Len(t, pkg.Hints, 1)
	assert.Equal(t, "busybox", pkg.Hints[0].Params["dockerPull"])
	require.Len(t, pkg.Inputs, 1)
	assert.Equal(t, "message", pkg.Inputs[0].ID)
	require.Len(t, pkg.Outputs, 1)
	assert.True(t, pkg.Outputs[0].Array)
}

func TestParseDocumentYAML(t *testing.T) {
	doc := []byte(`
cwlVersion: v1.0
class: CommandLineTool
baseCommand: cat
inputs:
  file:
    type: Directory
outputs:
  out: string
`)
	pkg, err := ParseDocument(doc, FormatYAML)
	require.NoError(t, err)
	require.Len(t, pkg.Inputs, 1)
	assert.Equal(t, KindComplexDirectory, pkg.Inputs[0].Kind)
	require.Len(t, pkg.Inputs[0].Formats, 1)
	assert.Equal(t, MediaTypeDirectory, pkg.Inputs[0].Formats[0].MediaType)
}

func TestParseDocumentOAPDescription(t *testing.T) {
	doc := []byte(`{
		"id": "average",
		"title": "Averager",
		"inputs": {
			"variable": {"schema": {"type": "string", "enum": ["tas", "pr"]}},
			"files": {
				"minOccurs": 1,
				"maxOccurs": "unbounded",
				"schema": {"contentMediaType": "application/x-netcdf"}
			}
		},
		"outputs": {
			"output": {"schema": {"contentMediaType": "application/x-netcdf"}}
		}
	}`)

	pkg, err := ParseDocument(doc, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "average", pkg.ID)

	byID := map[string]InputDef{}
	for _, in := range pkg.Inputs {
		byID[in.ID] = in
	}
	assert.Equal(t, KindLiteral, byID["variable"].Kind)
	assert.Equal(t, []string{"tas", "pr"}, byID["variable"].Symbols)
	assert.Equal(t, KindComplexFile, byID["files"].Kind)
	assert.Equal(t, Unbounded, byID["files"].MaxOccurs)
	require.Len(t, pkg.Outputs, 1)
	assert.Equal(t, "application/x-netcdf", pkg.Outputs[0].Formats[0].MediaType)
}

func TestParseDocumentRejectsUnknown(t *testing.T) {
	_, err := ParseDocument([]byte(`{"foo": "bar"}`), FormatJSON)
	assert.ErrorIs(t, err, ErrPackageType)

	_, err = ParseDocument([]byte(`{"class": "Unknown", "inputs": {}, "outputs": {}}`), FormatJSON)
	assert.ErrorIs(t, err, ErrPackageType)
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		ref         string
		data        string
		want        DocFormat
	}{
		{"content type json", "application/json; charset=utf-8", "", "", FormatJSON},
		{"content type xml", "text/xml", "", "", FormatXML},
		{"content type yaml", "application/x-yaml", "", "", FormatYAML},
		{"content type cwl", "application/cwl", "", "", FormatAP},
		{"extension wins over plain text", "text/plain", "https://h/pkg.cwl?token=x", "", FormatAP},
		{"extension yaml", "", "pkg.yml", "", FormatYAML},
		{"content json brace", "", "", `{"class": "CommandLineTool"}`, FormatJSON},
		{"content xml declaration", "", "", `<?xml version="1.0"?><ProcessDescriptions/>`, FormatXML},
		{"content fallback yaml", "", "", "class: CommandLineTool", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffFormat(tt.contentType, tt.ref, []byte(tt.data)))
		})
	}
}

func TestExtractPrincipal(t *testing.T) {
	t.Run("single principal from hints", func(t *testing.T) {
		principal, err := ExtractPrincipal(&Package{
			Class: ClassCommandLineTool,
			Hints: []Requirement{{Class: RequirementWPS1, Params: map[string]any{"provider": "https://wps"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, RequirementWPS1, principal.Class)
	})

	t.Run("none defaults to builtin", func(t *testing.T) {
		principal, err := ExtractPrincipal(&Package{Class: ClassCommandLineTool})
		require.NoError(t, err)
		assert.Equal(t, RequirementBuiltin, principal.Class)
	})

	t.Run("multiple principals rejected", func(t *testing.T) {
		_, err := ExtractPrincipal(&Package{
			Class:        ClassCommandLineTool,
			Requirements: []Requirement{{Class: RequirementDocker}},
			Hints:        []Requirement{{Class: RequirementOGCAPI}},
		})
		assert.ErrorIs(t, err, ErrInvalidRequirement)
	})

	t.Run("unsupported requirement rejected", func(t *testing.T) {
		_, err := ExtractPrincipal(&Package{
			Class:        ClassCommandLineTool,
			Requirements: []Requirement{{Class: "ShellCommandRequirement"}},
		})
		assert.ErrorIs(t, err, ErrInvalidRequirement)
	})

	t.Run("workflow is its own principal", func(t *testing.T) {
		principal, err := ExtractPrincipal(&Package{
			Class:        ClassWorkflow,
			Requirements: []Requirement{{Class: RequirementEnvVar}},
		})
		require.NoError(t, err)
		assert.Equal(t, string(ClassWorkflow), principal.Class)
	})

	t.Run("workflow cannot carry a backend requirement", func(t *testing.T) {
		_, err := ExtractPrincipal(&Package{
			Class: ClassWorkflow,
			Hints: []Requirement{{Class: RequirementDocker}},
		})
		assert.ErrorIs(t, err, ErrInvalidRequirement)
	})
}

func TestCheckCompatibility(t *testing.T) {
	docker := Requirement{Class: RequirementDocker}
	wps := Requirement{Class: RequirementWPS1}

	assert.NoError(t, CheckCompatibility(docker, config.ModeHybrid))
	assert.NoError(t, CheckCompatibility(wps, config.ModeHybrid))
	assert.NoError(t, CheckCompatibility(wps, config.ModeEMS))
	assert.ErrorIs(t, CheckCompatibility(docker, config.ModeEMS), ErrIncompatibleDeploy)
	assert.ErrorIs(t, CheckCompatibility(wps, config.ModeADES), ErrIncompatibleDeploy)
}

func TestExtractDockerAuth(t *testing.T) {
	docker := Requirement{
		Class:  RequirementDocker,
		Params: map[string]any{"dockerPull": "registry.example.com/tool:1"},
	}

	auth, err := ExtractDockerAuth("Basic dXNlcjpwYXNz", docker)
	require.NoError(t, err)
	assert.Equal(t, "Basic", auth.Scheme)
	assert.Equal(t, "dXNlcjpwYXNz", auth.Token)
	assert.Equal(t, "registry.example.com/tool:1", auth.Link)

	auth, err = ExtractDockerAuth("", docker)
	require.NoError(t, err)
	assert.Nil(t, auth)

	_, err = ExtractDockerAuth("Bearer tok", docker)
	assert.ErrorIs(t, err, ErrInvalidAuthScheme)

	_, err = ExtractDockerAuth("Basic", docker)
	assert.ErrorIs(t, err, ErrPackageAuth)
}

func TestTopologicalSteps(t *testing.T) {
	steps := map[string]Step{
		"subset":  {Run: "subset.cwl", In: map[string]string{"file": "input_file"}},
		"average": {Run: "average.cwl", In: map[string]string{"file": "subset/output"}},
		"plot":    {Run: "plot.cwl", In: map[string]string{"file": "average/output"}},
	}
	order, err := TopologicalSteps(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"subset", "average", "plot"}, order)
}

func TestTopologicalStepsCycle(t *testing.T) {
	steps := map[string]Step{
		"a": {Run: "a.cwl", In: map[string]string{"x": "b/out"}},
		"b": {Run: "b.cwl", In: map[string]string{"x": "a/out"}},
	}
	_, err := TopologicalSteps(steps)
	assert.ErrorIs(t, err, ErrWorkflowCycle)
}

func TestMergeIO(t *testing.T) {
	pkg := &Package{
		Inputs: []InputDef{{
			ID: "file", Kind: KindComplexFile, MinOccurs: 1, MaxOccurs: 1,
			Formats: []Format{{MediaType: "application/x-netcdf", Default: true}},
		}},
		Outputs: []OutputDef{{ID: "output", Kind: KindComplexFile}},
	}
	peerIn := []InputDef{{
		ID: "file", Title: "Input file", Abstract: "NetCDF to subset",
		Formats: []Format{{MediaType: "application/json"}},
	}}

	inputs, outputs := MergeIO(pkg, peerIn, nil)
	require.Len(t, inputs, 1)
	assert.Equal(t, "Input file", inputs[0].Title)
	assert.Equal(t, "NetCDF to subset", inputs[0].Abstract)
	// Peer formats extend the package set; the package default survives.
	assert.Len(t, inputs[0].Formats, 2)
	assert.True(t, inputs[0].Formats[0].Default)
	require.Len(t, outputs, 1)
	assert.Equal(t, "output", outputs[0].ID)
}
