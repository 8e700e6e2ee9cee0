// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// wpsProcessDescriptions mirrors the WPS-1/2 DescribeProcess response.
type wpsProcessDescriptions struct {
	XMLName   xml.Name                `xml:"ProcessDescriptions"`
	Processes []wpsProcessDescription `xml:"ProcessDescription"`
}

type wpsProcessDescription struct {
	Identifier string      `xml:"Identifier"`
	Title      string      `xml:"Title"`
	Abstract   string      `xml:"Abstract"`
	Inputs     []wpsInput  `xml:"DataInputs>Input"`
	Outputs    []wpsOutput `xml:"ProcessOutputs>Output"`
}

type wpsInput struct {
	Identifier  string          `xml:"Identifier"`
	Title       string          `xml:"Title"`
	Abstract    string          `xml:"Abstract"`
	MinOccurs   string          `xml:"minOccurs,attr"`
	MaxOccurs   string          `xml:"maxOccurs,attr"`
	LiteralData *wpsLiteralData `xml:"LiteralData"`
	ComplexData *wpsComplexData `xml:"ComplexData"`
}

type wpsOutput struct {
	Identifier    string          `xml:"Identifier"`
	Title         string          `xml:"Title"`
	Abstract      string          `xml:"Abstract"`
	LiteralOutput *wpsLiteralData `xml:"LiteralOutput"`
	ComplexOutput *wpsComplexData `xml:"ComplexOutput"`
}

type wpsLiteralData struct {
	DataType      string   `xml:"DataType"`
	AllowedValues []string `xml:"AllowedValues>Value"`
}

type wpsComplexData struct {
	Default   wpsFormatHolder `xml:"Default"`
	Supported wpsFormatList   `xml:"Supported"`
}

type wpsFormatHolder struct {
	Format wpsFormat `xml:"Format"`
}

type wpsFormatList struct {
	Formats []wpsFormat `xml:"Format"`
}

type wpsFormat struct {
	MimeType string `xml:"MimeType"`
	Encoding string `xml:"Encoding"`
	Schema   string `xml:"Schema"`
}

// parseWPSDescription maps a WPS-1/2 DescribeProcess XML document to a
// CommandLineTool skeleton carrying a WPS1 principal hint. LiteralData maps
// to AP literals, ComplexData to File with supported formats, maxOccurs > 1
// to arrays, and AllowedValues to enum symbols.
func parseWPSDescription(data []byte) (*Package, error) {
	var doc wpsProcessDescriptions
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid WPS XML: %v", ErrPackageType, err)
	}
	if len(doc.Processes) == 0 {
		return nil, fmt.Errorf("%w: WPS description contains no process", ErrPackageType)
	}
	proc := doc.Processes[0]

	pkg := &Package{
		CWLVersion: "v1.2",
		ID:         proc.Identifier,
		Class:      ClassCommandLineTool,
		Hints: []Requirement{{
			Class:  RequirementWPS1,
			Params: map[string]any{"process": proc.Identifier},
		}},
	}

	for _, in := range proc.Inputs {
		def := InputDef{
			ID:        in.Identifier,
			Title:     in.Title,
			Abstract:  in.Abstract,
			MinOccurs: parseOccurs(in.MinOccurs, 1),
			MaxOccurs: parseOccurs(in.MaxOccurs, 1),
		}
		switch {
		case in.LiteralData != nil:
			def.Kind = KindLiteral
			def.DataType = wpsDataType(in.LiteralData.DataType)
			def.Symbols = in.LiteralData.AllowedValues
		case in.ComplexData != nil:
			def.Kind = KindComplexFile
			def.Formats = wpsFormats(in.ComplexData)
		default:
			// BoundingBoxData and exotic kinds degrade to a plain string.
			def.Kind = KindLiteral
			def.DataType = "string"
		}
		pkg.Inputs = append(pkg.Inputs, def)
	}

	for _, out := range proc.Outputs {
		def := OutputDef{
			ID:       out.Identifier,
			Title:    out.Title,
			Abstract: out.Abstract,
		}
		switch {
		case out.LiteralOutput != nil:
			def.Kind = KindLiteral
			def.DataType = wpsDataType(out.LiteralOutput.DataType)
		case out.ComplexOutput != nil:
			def.Kind = KindComplexFile
			def.Formats = wpsFormats(out.ComplexOutput)
		default:
			def.Kind = KindLiteral
			def.DataType = "string"
		}
		pkg.Outputs = append(pkg.Outputs, def)
	}

	return pkg, nil
}

func parseOccurs(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if strings.EqualFold(s, "unbounded") {
		return Unbounded
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// wpsDataType strips the ows/xsd namespace from declared data types.
func wpsDataType(declared string) string {
	t := declared
	if i := strings.LastIndexAny(t, ":#"); i >= 0 {
		t = t[i+1:]
	}
	switch strings.ToLower(t) {
	case "integer", "int", "long":
		return "int"
	case "float", "double", "decimal":
		return "float"
	case "boolean", "bool":
		return "bool"
	default:
		return "string"
	}
}

func wpsFormats(cd *wpsComplexData) []Format {
	var formats []Format
	if cd.Default.Format.MimeType != "" {
		formats = append(formats, Format{
			MediaType: cd.Default.Format.MimeType,
			Encoding:  cd.Default.Format.Encoding,
			Schema:    cd.Default.Format.Schema,
			Default:   true,
		})
	}
	for _, f := range cd.Supported.Formats {
		if f.MimeType == cd.Default.Format.MimeType &&
			f.Encoding == cd.Default.Format.Encoding &&
			f.Schema == cd.Default.Format.Schema {
			continue
		}
		formats = append(formats, Format{MediaType: f.MimeType, Encoding: f.Encoding, Schema: f.Schema})
	}
	return formats
}
