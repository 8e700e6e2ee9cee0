// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package ioconv converts process inputs and outputs between the application
// package schema, the OGC API Processes schema, and legacy WPS forms, with a
// tagged-variant value model and explicit coercion at the boundaries.
package ioconv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

var (
	ErrInvalidValue         = errors.New("invalid parameter value")
	ErrInvalidIdentifier    = errors.New("invalid identifier value")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// IOValue is the tagged variant carried through execution.
type IOValue interface {
	isIOValue()
}

// Literal is a typed scalar value.
type Literal struct {
	DataType string // float|int|bool|string
	Value    any
}

// BBox is a bounding box with coordinates and CRS.
type BBox struct {
	Coords []float64
	CRS    string
}

// FileRef references complex file data by href.
type FileRef struct {
	Href      string
	MediaType string
	Encoding  string
	Schema    string
}

// DirRef references a directory staged as a folder.
type DirRef struct {
	Href string
}

// Array holds repeated values of a single definition.
type Array struct {
	Items []IOValue
}

func (Literal) isIOValue() {}
func (BBox) isIOValue()    {}
func (FileRef) isIOValue() {}
func (DirRef) isIOValue()  {}
func (Array) isIOValue()   {}

// CoerceInput converts a submitted execute input value into an IOValue
// matching the definition. Inline values accept the JSON scalar forms and
// the OGC object forms {href,type,format} and {value,mediaType}. Strings
// that parse as the declared literal type are promoted; values outside an
// enum or allowed range fail with ErrInvalidValue.
func CoerceInput(def *appkg.InputDef, raw any) (IOValue, error) {
	if list, ok := raw.([]any); ok {
		if def.MaxOccurs != appkg.Unbounded && def.MaxOccurs <= 1 {
			return nil, fmt.Errorf("%w: input %q does not accept multiple values", ErrInvalidValue, def.ID)
		}
		arr := Array{Items: make([]IOValue, 0, len(list))}
		for _, item := range list {
			v, err := coerceSingle(def, item)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, v)
		}
		if def.MinOccurs > len(arr.Items) {
			return nil, fmt.Errorf("%w: input %q requires at least %d values", ErrInvalidValue, def.ID, def.MinOccurs)
		}
		return arr, nil
	}
	return coerceSingle(def, raw)
}

func coerceSingle(def *appkg.InputDef, raw any) (IOValue, error) {
	switch def.Kind {
	case appkg.KindLiteral:
		return coerceLiteral(def, raw)
	case appkg.KindComplexFile:
		return coerceFile(def, raw)
	case appkg.KindComplexDirectory:
		href, err := hrefOf(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %v", ErrInvalidValue, def.ID, err)
		}
		return DirRef{Href: href}, nil
	case appkg.KindBoundingBox:
		return coerceBBox(def, raw)
	default:
		return nil, fmt.Errorf("%w: input %q has unknown kind %q", ErrInvalidValue, def.ID, def.Kind)
	}
}

func coerceLiteral(def *appkg.InputDef, raw any) (IOValue, error) {
	if obj, ok := raw.(map[string]any); ok {
		if v, ok := obj["value"]; ok {
			raw = v
		}
	}

	value, err := PromoteLiteral(def.DataType, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: input %q: %v", ErrInvalidValue, def.ID, err)
	}

	if len(def.Symbols) > 0 {
		s := fmt.Sprint(value)
		found := false
		for _, symbol := range def.Symbols {
			if symbol == s {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: input %q: %q not in allowed values %v",
				ErrInvalidValue, def.ID, s, def.Symbols)
		}
	}
	if def.Range != nil {
		n, ok := asFloat(value)
		if ok {
			if def.Range.Minimum != nil && n < *def.Range.Minimum {
				return nil, fmt.Errorf("%w: input %q: %v below minimum %v",
					ErrInvalidValue, def.ID, n, *def.Range.Minimum)
			}
			if def.Range.Maximum != nil && n > *def.Range.Maximum {
				return nil, fmt.Errorf("%w: input %q: %v above maximum %v",
					ErrInvalidValue, def.ID, n, *def.Range.Maximum)
			}
		}
	}

	return Literal{DataType: def.DataType, Value: value}, nil
}

// PromoteLiteral promotes a raw value to the declared data type. Strings
// parsing as integer/float/bool are promoted; JSON numbers narrow to int
// when the declared type asks for one and the value is integral.
func PromoteLiteral(dataType string, raw any) (any, error) {
	switch dataType {
	case "string", "":
		switch t := raw.(type) {
		case string:
			return t, nil
		case float64, bool, int, int64:
			return fmt.Sprint(t), nil
		}
	case "int":
		switch t := raw.(type) {
		case float64:
			if t == float64(int64(t)) {
				return int64(t), nil
			}
			return nil, fmt.Errorf("value %v is not an integer", t)
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not an integer", t)
			}
			return n, nil
		}
	case "float":
		switch t := raw.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a number", t)
			}
			return n, nil
		}
	case "bool":
		switch t := raw.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("value %q is not a boolean", t)
			}
			return b, nil
		}
	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	return nil, fmt.Errorf("value %v cannot be promoted to %s", raw, dataType)
}

func coerceFile(def *appkg.InputDef, raw any) (IOValue, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		// Bare string inputs are treated as hrefs.
		if s, ok := raw.(string); ok {
			return FileRef{Href: s}, nil
		}
		return nil, fmt.Errorf("%w: input %q expects a file reference", ErrInvalidValue, def.ID)
	}

	href, _ := obj["href"].(string)
	if href == "" {
		return nil, fmt.Errorf("%w: input %q reference has no href", ErrInvalidValue, def.ID)
	}
	ref := FileRef{Href: href}
	if t, ok := obj["type"].(string); ok {
		ref.MediaType = t
	}
	if f, ok := obj["format"].(map[string]any); ok {
		if mt, ok := f["mediaType"].(string); ok {
			ref.MediaType = mt
		}
		ref.Encoding, _ = f["encoding"].(string)
		ref.Schema, _ = f["schema"].(string)
	}

	if ref.MediaType != "" && len(def.Formats) > 0 {
		supported := false
		for _, f := range def.Formats {
			if strings.EqualFold(f.MediaType, ref.MediaType) {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("%w: input %q does not support %q", ErrUnsupportedMediaType, def.ID, ref.MediaType)
		}
	}
	return ref, nil
}

func coerceBBox(def *appkg.InputDef, raw any) (IOValue, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: input %q expects a bbox object", ErrInvalidValue, def.ID)
	}
	coords, ok := obj["bbox"].([]any)
	if !ok || len(coords) < 4 {
		return nil, fmt.Errorf("%w: input %q bbox needs at least 4 coordinates", ErrInvalidValue, def.ID)
	}
	box := BBox{Coords: make([]float64, 0, len(coords))}
	for _, c := range coords {
		n, ok := asFloat(c)
		if !ok {
			return nil, fmt.Errorf("%w: input %q bbox coordinate %v is not numeric", ErrInvalidValue, def.ID, c)
		}
		box.Coords = append(box.Coords, n)
	}
	box.CRS, _ = obj["crs"].(string)
	return box, nil
}

func hrefOf(raw any) (string, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case map[string]any:
		if href, ok := t["href"].(string); ok && href != "" {
			return href, nil
		}
	}
	return "", errors.New("expected an href reference")
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
