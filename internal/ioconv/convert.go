// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package ioconv

import (
	"fmt"
	"unicode/utf8"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

// OAPSchema is the JSON schema fragment of an OGC API Processes description.
type OAPSchema struct {
	Type            string      `json:"type,omitempty"`
	Format          string      `json:"format,omitempty"`
	ContentMediaT   string      `json:"contentMediaType,omitempty"`
	ContentEncoding string      `json:"contentEncoding,omitempty"`
	ContentSchema   string      `json:"contentSchema,omitempty"`
	Enum            []string    `json:"enum,omitempty"`
	Minimum         *float64    `json:"minimum,omitempty"`
	Maximum         *float64    `json:"maximum,omitempty"`
	Items           *OAPSchema  `json:"items,omitempty"`
	OneOf           []OAPSchema `json:"oneOf,omitempty"`
}

// OAPInput is an input entry in an OGC API Processes description.
type OAPInput struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	MinOccurs   int        `json:"minOccurs"`
	MaxOccurs   any        `json:"maxOccurs,omitempty"`
	Schema      *OAPSchema `json:"schema"`
}

// OAPOutput is an output entry in an OGC API Processes description.
type OAPOutput struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Schema      *OAPSchema `json:"schema"`
}

// ToOAPInput converts an input definition to its OGC API Processes form.
func ToOAPInput(def *appkg.InputDef) OAPInput {
	in := OAPInput{
		Title:       def.Title,
		Description: def.Abstract,
		Keywords:    def.Keywords,
		MinOccurs:   def.MinOccurs,
		Schema:      schemaOf(def),
	}
	switch {
	case def.MaxOccurs == appkg.Unbounded:
		in.MaxOccurs = "unbounded"
	case def.MaxOccurs > 1:
		in.MaxOccurs = def.MaxOccurs
	}
	return in
}

// ToOAPOutput converts an output definition to its OGC API Processes form.
func ToOAPOutput(def *appkg.OutputDef) OAPOutput {
	in := appkg.InputDef{
		ID:       def.ID,
		Kind:     def.Kind,
		DataType: def.DataType,
		Formats:  def.Formats,
	}
	schema := schemaOf(&in)
	if def.Array {
		schema = &OAPSchema{Type: "array", Items: schema}
	}
	return OAPOutput{Title: def.Title, Description: def.Abstract, Schema: schema}
}

// schemaOf builds the OAP schema following the conversion table: literals
// map to their base JSON type, enums to anyValue=false with symbols, files
// to oneOf format members, directories to the application/directory media
// type.
func schemaOf(def *appkg.InputDef) *OAPSchema {
	switch def.Kind {
	case appkg.KindComplexFile, appkg.KindComplexDirectory:
		if len(def.Formats) == 1 {
			f := def.Formats[0]
			return &OAPSchema{
				Type:            "string",
				Format:          "binary",
				ContentMediaT:   f.MediaType,
				ContentEncoding: f.Encoding,
				ContentSchema:   f.Schema,
			}
		}
		members := make([]OAPSchema, 0, len(def.Formats))
		for _, f := range def.Formats {
			members = append(members, OAPSchema{
				Type:            "string",
				Format:          "binary",
				ContentMediaT:   f.MediaType,
				ContentEncoding: f.Encoding,
				ContentSchema:   f.Schema,
			})
		}
		return &OAPSchema{OneOf: members}
	case appkg.KindBoundingBox:
		return &OAPSchema{Type: "array", Items: &OAPSchema{Type: "number"}}
	default:
		schema := &OAPSchema{Type: oapType(def.DataType), Enum: def.Symbols}
		if def.Range != nil {
			schema.Minimum = def.Range.Minimum
			schema.Maximum = def.Range.Maximum
		}
		return schema
	}
}

func oapType(dataType string) string {
	switch dataType {
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}

// EncodeOAPValue renders an IOValue as an OGC API Processes execute input.
func EncodeOAPValue(v IOValue) any {
	switch t := v.(type) {
	case Literal:
		return t.Value
	case FileRef:
		out := map[string]any{"href": t.Href}
		if t.MediaType != "" {
			out["type"] = t.MediaType
		}
		return out
	case DirRef:
		return map[string]any{"href": t.Href, "type": appkg.MediaTypeDirectory}
	case BBox:
		return map[string]any{"bbox": t.Coords, "crs": t.CRS}
	case Array:
		items := make([]any, 0, len(t.Items))
		for _, item := range t.Items {
			items = append(items, EncodeOAPValue(item))
		}
		return items
	default:
		return nil
	}
}

// LiteralString renders an IOValue as the flat string form used by legacy
// WPS data inputs.
func LiteralString(v IOValue) string {
	switch t := v.(type) {
	case Literal:
		return fmt.Sprint(t.Value)
	case FileRef:
		return t.Href
	case DirRef:
		return t.Href
	default:
		return fmt.Sprint(v)
	}
}

// InferMediaType picks the media type for inline data being materialized as
// a file reference: UTF-8 text stays text/plain, anything else is an octet
// stream.
func InferMediaType(data []byte) string {
	if utf8.Valid(data) {
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// Href returns the reference of a file or directory value, or empty when the
// value is inline.
func Href(v IOValue) string {
	switch t := v.(type) {
	case FileRef:
		return t.Href
	case DirRef:
		return t.Href
	}
	return ""
}
