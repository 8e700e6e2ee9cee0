// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"encoding/json"
	"fmt"
	"slices"
)

// oapDescription mirrors the subset of an OGC API Processes description the
// loader maps onto a CommandLineTool skeleton.
type oapDescription struct {
	ID          string              `json:"id"`
	Version     string              `json:"version"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Keywords    []string            `json:"keywords"`
	Inputs      map[string]oapInput `json:"inputs"`
	Outputs     map[string]oapOut   `json:"outputs"`
}

type oapInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Keywords    []string   `json:"keywords"`
	MinOccurs   *int       `json:"minOccurs"`
	MaxOccurs   any        `json:"maxOccurs"` // number or "unbounded"
	Schema      *oapSchema `json:"schema"`
}

type oapOut struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Schema      *oapSchema `json:"schema"`
}

type oapSchema struct {
	Type            string      `json:"type"`
	Format          string      `json:"format"`
	ContentMediaT   string      `json:"contentMediaType"`
	ContentEncoding string      `json:"contentEncoding"`
	ContentSchema   string      `json:"contentSchema"`
	Enum            []any       `json:"enum"`
	Minimum         *float64    `json:"minimum"`
	Maximum         *float64    `json:"maximum"`
	Items           *oapSchema  `json:"items"`
	OneOf           []oapSchema `json:"oneOf"`
}

// parseOAPDescription maps an OGC API process description JSON to a
// CommandLineTool skeleton carrying an OGCAPI principal hint, using the same
// rules as the WPS mapping via schema.oneOf/enum/format.
func parseOAPDescription(raw map[string]any) (*Package, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackageType, err)
	}
	var desc oapDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: invalid OGC process description: %v", ErrPackageType, err)
	}
	if desc.ID == "" {
		return nil, fmt.Errorf("%w: OGC process description has no id", ErrPackageType)
	}

	pkg := &Package{
		CWLVersion: "v1.2",
		ID:         desc.ID,
		Class:      ClassCommandLineTool,
		Hints: []Requirement{{
			Class:  RequirementOGCAPI,
			Params: map[string]any{"process": desc.ID},
		}},
	}

	for _, entry := range sortedKeys(desc.Inputs) {
		in := desc.Inputs[entry]
		def := InputDef{
			ID:        entry,
			Title:     in.Title,
			Abstract:  in.Description,
			Keywords:  in.Keywords,
			MinOccurs: 1,
			MaxOccurs: 1,
		}
		if in.MinOccurs != nil {
			def.MinOccurs = *in.MinOccurs
		}
		def.MaxOccurs = oapMaxOccurs(in.MaxOccurs)
		applyOAPSchema(&def, in.Schema)
		pkg.Inputs = append(pkg.Inputs, def)
	}

	for _, entry := range sortedKeys(desc.Outputs) {
		out := desc.Outputs[entry]
		in := InputDef{ID: entry, MinOccurs: 1, MaxOccurs: 1}
		applyOAPSchema(&in, out.Schema)
		pkg.Outputs = append(pkg.Outputs, OutputDef{
			ID:       entry,
			Title:    out.Title,
			Abstract: out.Description,
			Kind:     in.Kind,
			DataType: in.DataType,
			Array:    in.MaxOccurs == Unbounded || in.MaxOccurs > 1,
			Formats:  in.Formats,
		})
	}

	return pkg, nil
}

func oapMaxOccurs(v any) int {
	switch t := v.(type) {
	case string:
		return Unbounded
	case float64:
		return int(t)
	case nil:
		return 1
	default:
		return 1
	}
}

// applyOAPSchema maps an OAP JSON schema onto a definition: oneOf picks the
// first complex member for formats, enum becomes symbols, binary formats
// become files.
func applyOAPSchema(def *InputDef, schema *oapSchema) {
	if schema == nil {
		def.Kind = KindLiteral
		def.DataType = "string"
		return
	}

	if len(schema.OneOf) > 0 {
		for i := range schema.OneOf {
			member := schema.OneOf[i]
			if member.ContentMediaT != "" || member.Format == "binary" {
				def.Kind = KindComplexFile
				def.Formats = append(def.Formats, Format{
					MediaType: nonEmpty(member.ContentMediaT, "application/octet-stream"),
					Encoding:  member.ContentEncoding,
					Schema:    member.ContentSchema,
					Default:   len(def.Formats) == 0,
				})
			}
		}
		if def.Kind == KindComplexFile {
			if def.Formats[0].MediaType == MediaTypeDirectory {
				def.Kind = KindComplexDirectory
			}
			return
		}
		// All members literal; fall through with the first.
		s := schema.OneOf[0]
		schema = &s
	}

	if schema.Type == "array" && schema.Items != nil {
		def.MaxOccurs = Unbounded
		applyOAPSchema(def, schema.Items)
		return
	}

	if schema.ContentMediaT != "" || schema.Format == "binary" {
		mediaType := nonEmpty(schema.ContentMediaT, "application/octet-stream")
		if mediaType == MediaTypeDirectory {
			def.Kind = KindComplexDirectory
		} else {
			def.Kind = KindComplexFile
		}
		def.Formats = []Format{{
			MediaType: mediaType,
			Encoding:  schema.ContentEncoding,
			Schema:    schema.ContentSchema,
			Default:   true,
		}}
		return
	}

	def.Kind = KindLiteral
	switch schema.Type {
	case "integer":
		def.DataType = "int"
	case "number":
		def.DataType = "float"
	case "boolean":
		def.DataType = "bool"
	default:
		def.DataType = "string"
	}
	for _, e := range schema.Enum {
		def.Symbols = append(def.Symbols, fmt.Sprint(e))
	}
	if schema.Minimum != nil || schema.Maximum != nil {
		def.Range = &Range{Minimum: schema.Minimum, Maximum: schema.Maximum}
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
