// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"
)

// DocFormat identifies the serialization of a fetched process description.
type DocFormat string

const (
	FormatJSON DocFormat = "json"
	FormatXML  DocFormat = "xml"
	FormatYAML DocFormat = "yaml"
	FormatAP   DocFormat = "ap"
)

// ProcessSource resolves sibling process ids referenced by workflow steps.
type ProcessSource interface {
	LookupPackage(ctx context.Context, processID string) (*Package, error)
}

// Loader fetches and normalizes process descriptions.
type Loader struct {
	client *http.Client
	source ProcessSource
	logger *slog.Logger
}

// NewLoader creates a package loader. source may be nil when workflow sibling
// resolution is not needed.
func NewLoader(client *http.Client, source ProcessSource, logger *slog.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, source: source, logger: logger.With("module", "appkg")}
}

// LoadInline normalizes an inline application package document.
func (l *Loader) LoadInline(doc json.RawMessage) (*Package, error) {
	return ParseDocument([]byte(doc), FormatJSON)
}

// LoadReference fetches a process description URL and normalizes it. The
// Content-Type is inspected first; when absent or text/plain the format is
// sniffed from the URL extension and document content.
func (l *Loader) LoadReference(ctx context.Context, ref string) (*Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, ref)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrPackageNotFound, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrPackageNotFound, ref, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPackageNotFound, ref, err)
	}

	format := SniffFormat(resp.Header.Get("Content-Type"), ref, data)
	l.logger.Debug("loaded process description", "ref", ref, "format", string(format))
	return ParseDocument(data, format)
}

// SniffFormat resolves the document format from the content type, falling
// back to the reference extension and content when absent or text/plain.
func SniffFormat(contentType, ref string, data []byte) DocFormat {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch {
	case strings.Contains(mediaType, "json"):
		return FormatJSON
	case strings.Contains(mediaType, "xml"):
		return FormatXML
	case strings.Contains(mediaType, "yaml"), strings.Contains(mediaType, "x-yaml"):
		return FormatYAML
	case strings.Contains(mediaType, "cwl"):
		return FormatAP
	}

	switch strings.ToLower(path.Ext(strings.SplitN(ref, "?", 2)[0])) {
	case ".json":
		return FormatJSON
	case ".xml":
		return FormatXML
	case ".yml", ".yaml":
		return FormatYAML
	case ".cwl":
		return FormatAP
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return FormatJSON
	case strings.HasPrefix(trimmed, "<?xml"), strings.HasPrefix(trimmed, "<"):
		return FormatXML
	default:
		return FormatYAML
	}
}

// ParseDocument normalizes a raw document of the given format into a Package.
func ParseDocument(data []byte, format DocFormat) (*Package, error) {
	switch format {
	case FormatXML:
		return parseWPSDescription(data)
	case FormatYAML, FormatAP:
		jsonData, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid YAML: %v", ErrPackageType, err)
		}
		data = jsonData
		fallthrough
	case FormatJSON:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON: %v", ErrPackageType, err)
		}
		if _, hasClass := raw["class"]; hasClass {
			return parseCWL(raw)
		}
		// OAP process descriptions carry no CWL class.
		if _, hasInputs := raw["inputs"]; hasInputs {
			return parseOAPDescription(raw)
		}
		return nil, fmt.Errorf("%w: document is neither an application package nor an OGC process description", ErrPackageType)
	default:
		return nil, fmt.Errorf("%w: unknown document format %q", ErrPackageType, format)
	}
}

// parseCWL converts a raw CWL-style application package document.
func parseCWL(raw map[string]any) (*Package, error) {
	pkg := &Package{}
	pkg.CWLVersion, _ = raw["cwlVersion"].(string)
	pkg.ID, _ = raw["id"].(string)

	class, _ := raw["class"].(string)
	switch Class(class) {
	case ClassCommandLineTool, ClassExpressionTool, ClassWorkflow:
		pkg.Class = Class(class)
	default:
		return nil, fmt.Errorf("%w: class %q", ErrPackageType, class)
	}

	pkg.BaseCommand = asStringList(raw["baseCommand"])
	pkg.Arguments = asStringList(raw["arguments"])
	pkg.Requirements = parseRequirements(raw["requirements"])
	pkg.Hints = parseRequirements(raw["hints"])

	inputs, err := parseCWLInputs(raw["inputs"])
	if err != nil {
		return nil, err
	}
	pkg.Inputs = inputs

	outputs, err := parseCWLOutputs(raw["outputs"])
	if err != nil {
		return nil, err
	}
	pkg.Outputs = outputs

	if pkg.Class == ClassWorkflow {
		steps, err := parseSteps(raw["steps"])
		if err != nil {
			return nil, err
		}
		pkg.Steps = steps
	}

	return pkg, nil
}

// parseRequirements accepts the CWL map form {class: params} and the list
// form [{class: ..., ...params}].
func parseRequirements(v any) []Requirement {
	var reqs []Requirement
	switch t := v.(type) {
	case map[string]any:
		for class, params := range t {
			p, _ := params.(map[string]any)
			reqs = append(reqs, Requirement{Class: class, Params: p})
		}
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			class, _ := m["class"].(string)
			params := make(map[string]any, len(m))
			for k, val := range m {
				if k != "class" {
					params[k] = val
				}
			}
			reqs = append(reqs, Requirement{Class: class, Params: params})
		}
	}
	return reqs
}

func parseCWLInputs(v any) ([]InputDef, error) {
	var defs []InputDef
	for _, entry := range iterateIdMap(v) {
		def, err := parseCWLInput(entry.id, entry.body)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseCWLOutputs(v any) ([]OutputDef, error) {
	var defs []OutputDef
	for _, entry := range iterateIdMap(v) {
		def, err := parseCWLOutput(entry.id, entry.body)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type idEntry struct {
	id   string
	body any
}

// iterateIdMap normalizes the CWL map and list forms of id-keyed sections.
func iterateIdMap(v any) []idEntry {
	var entries []idEntry
	switch t := v.(type) {
	case map[string]any:
		// JSON object order is not stable; sort for deterministic output.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			entries = append(entries, idEntry{id: k, body: t[k]})
		}
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			entries = append(entries, idEntry{id: id, body: m})
		}
	}
	return entries
}

func parseCWLInput(id string, body any) (InputDef, error) {
	def := InputDef{ID: id, MinOccurs: 1, MaxOccurs: 1}

	var typeSpec any
	var m map[string]any
	switch t := body.(type) {
	case string:
		typeSpec = t
	case map[string]any:
		m = t
		typeSpec = m["type"]
		if d, ok := m["default"]; ok {
			def.Default = d
			def.MinOccurs = 0
		}
	default:
		return def, fmt.Errorf("%w: input %q has no type", ErrPackageType, id)
	}

	if err := applyTypeSpec(&def, typeSpec); err != nil {
		return def, err
	}

	if m != nil {
		switch def.Kind {
		case KindComplexFile:
			def.Formats = parseCWLFormats(m["format"])
		case KindComplexDirectory:
			def.Formats = []Format{{MediaType: MediaTypeDirectory, Default: true}}
		}
	}
	if def.Kind == KindComplexDirectory && len(def.Formats) == 0 {
		def.Formats = []Format{{MediaType: MediaTypeDirectory, Default: true}}
	}
	return def, nil
}

func parseCWLOutput(id string, body any) (OutputDef, error) {
	def := OutputDef{ID: id}

	var typeSpec any
	var m map[string]any
	switch t := body.(type) {
	case string:
		typeSpec = t
	case map[string]any:
		m = t
		typeSpec = m["type"]
	default:
		return def, fmt.Errorf("%w: output %q has no type", ErrPackageType, id)
	}

	in := InputDef{ID: id, MinOccurs: 1, MaxOccurs: 1}
	if err := applyTypeSpec(&in, typeSpec); err != nil {
		return def, err
	}
	def.Kind = in.Kind
	def.DataType = in.DataType
	def.Array = in.MaxOccurs == Unbounded || in.MaxOccurs > 1

	if m != nil {
		if def.Kind == KindComplexFile {
			def.Formats = parseCWLFormats(m["format"])
		}
		if binding, ok := m["outputBinding"].(map[string]any); ok {
			switch g := binding["glob"].(type) {
			case string:
				def.Glob = g
			case []any:
				if len(g) > 0 {
					def.Glob, _ = g[0].(string)
				}
			}
		}
	}
	if def.Kind == KindComplexDirectory {
		def.Formats = []Format{{MediaType: MediaTypeDirectory, Default: true}}
	}
	return def, nil
}

// applyTypeSpec interprets the CWL type forms: scalar names, "T[]", "T?",
// ["null", T], {type: array, items}, {type: enum, symbols}.
func applyTypeSpec(def *InputDef, spec any) error {
	switch t := spec.(type) {
	case string:
		name := t
		if strings.HasSuffix(name, "?") {
			def.MinOccurs = 0
			name = strings.TrimSuffix(name, "?")
		}
		if strings.HasSuffix(name, "[]") {
			def.MaxOccurs = Unbounded
			name = strings.TrimSuffix(name, "[]")
		}
		return applyScalarType(def, name)
	case []any:
		// Optional union form ["null", T].
		for _, member := range t {
			if s, ok := member.(string); ok && s == "null" {
				def.MinOccurs = 0
				continue
			}
			if err := applyTypeSpec(def, member); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		kind, _ := t["type"].(string)
		switch kind {
		case "array":
			def.MaxOccurs = Unbounded
			return applyTypeSpec(def, t["items"])
		case "enum":
			def.Kind = KindLiteral
			def.DataType = "string"
			def.Symbols = asStringList(t["symbols"])
			return nil
		default:
			return fmt.Errorf("%w: unsupported compound type %q", ErrPackageType, kind)
		}
	default:
		return fmt.Errorf("%w: missing type for %q", ErrPackageType, def.ID)
	}
}

func applyScalarType(def *InputDef, name string) error {
	switch name {
	case "string":
		def.Kind = KindLiteral
		def.DataType = "string"
	case "int", "long":
		def.Kind = KindLiteral
		def.DataType = "int"
	case "float", "double":
		def.Kind = KindLiteral
		def.DataType = "float"
	case "boolean":
		def.Kind = KindLiteral
		def.DataType = "bool"
	case "File":
		def.Kind = KindComplexFile
	case "Directory":
		def.Kind = KindComplexDirectory
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrPackageType, name)
	}
	return nil
}

// parseCWLFormats maps CWL format IRIs or plain media types to Format entries.
// The first entry is the package default.
func parseCWLFormats(v any) []Format {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = []string{t}
	case []any:
		raw = asStringList(t)
	}

	formats := make([]Format, 0, len(raw))
	for i, f := range raw {
		formats = append(formats, Format{MediaType: mediaTypeFromFormat(f), Default: i == 0})
	}
	return formats
}

// mediaTypeFromFormat strips IANA IRI prefixes like
// "https://www.iana.org/assignments/media-types/application/json".
func mediaTypeFromFormat(f string) string {
	if i := strings.Index(f, "media-types/"); i >= 0 {
		return f[i+len("media-types/"):]
	}
	if strings.HasPrefix(f, "edam:") || strings.HasPrefix(f, "iana:") {
		return strings.SplitN(f, ":", 2)[1]
	}
	return f
}

func parseSteps(v any) (map[string]Step, error) {
	steps := make(map[string]Step)
	for _, entry := range iterateIdMap(v) {
		m, ok := entry.body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed workflow step %q", ErrPackageType, entry.id)
		}
		step := Step{In: map[string]string{}}
		switch run := m["run"].(type) {
		case string:
			step.Run = run
		default:
			return nil, fmt.Errorf("%w: step %q has no run reference", ErrPackageType, entry.id)
		}
		if in, ok := m["in"].(map[string]any); ok {
			for k, src := range in {
				switch s := src.(type) {
				case string:
					step.In[k] = s
				case map[string]any:
					if source, ok := s["source"].(string); ok {
						step.In[k] = source
					}
				}
			}
		}
		step.Out = asStringList(m["out"])
		steps[entry.id] = step
	}
	return steps, nil
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
