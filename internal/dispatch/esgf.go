// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// ESGF-CWT dimension identifiers recognized in workflow inputs.
var esgfDimensions = []string{"lat", "latitude", "lon", "longitude", "time"}

// Valid CRS qualifiers of a dimension range.
var esgfCRSValues = map[string]bool{
	"values":     true,
	"indices":    true,
	"timestamps": true,
}

// ESGFDispatcher executes a process on an ESGF Compute Working Team
// endpoint. The CWT protocol rides on WPS-1 Execute with two synthetic
// inputs: a variable list binding each file to a variable name, and a
// domain restricting the dimensions.
type ESGFDispatcher struct {
	wps *WPS1Dispatcher
}

// NewESGFDispatcher creates the dispatcher.
func NewESGFDispatcher(client *http.Client, fetcher *staging.Fetcher, monitor MonitorConfig, logger *slog.Logger) *ESGFDispatcher {
	return &ESGFDispatcher{
		wps: &WPS1Dispatcher{
			client:  orDefault(client),
			fetcher: fetcher,
			monitor: monitor,
			logger:  logger.With("dispatcher", "esgf-cwt"),
		},
	}
}

func orDefault(client *http.Client) *http.Client {
	if client == nil {
		return http.DefaultClient
	}
	return client
}

// esgfVariable binds a source file to the variable to extract.
type esgfVariable struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
}

// esgfDimension is one axis restriction of the domain.
type esgfDimension struct {
	ID    string `json:"id"`
	Start any    `json:"start"`
	End   any    `json:"end"`
	CRS   string `json:"crs"`
}

type esgfDomain struct {
	ID         string          `json:"id"`
	Dimensions []esgfDimension `json:"dimensions"`
}

// Execute translates the workflow inputs into the CWT variable/domain form
// and dispatches over WPS-1.
func (d *ESGFDispatcher) Execute(ctx context.Context, req *Request) ([]Result, error) {
	translated, err := translateESGFInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	cwtReq := *req
	cwtReq.Inputs = translated
	return d.wps.Execute(ctx, &cwtReq)
}

// translateESGFInputs packs file references as Variable(url, varname)
// entries and extracts {dim}_{start|end|crs} literals into the domain.
// Latitude runs north-to-south, so its range is reversed.
func translateESGFInputs(inputs map[string]ioconv.IOValue) (map[string]ioconv.IOValue, error) {
	varName := "data"
	if v, ok := inputs["variable"].(ioconv.Literal); ok {
		varName = fmt.Sprint(v.Value)
	}

	var variables []esgfVariable
	collectFiles(inputs, varName, &variables)

	var dimensions []esgfDimension
	for _, dim := range esgfDimensions {
		entry, err := dimensionOf(inputs, dim)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			dimensions = append(dimensions, *entry)
		}
	}

	variableJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, err
	}
	domainJSON, err := json.Marshal(esgfDomain{ID: "d0", Dimensions: dimensions})
	if err != nil {
		return nil, err
	}

	out := map[string]ioconv.IOValue{
		"variable": ioconv.Literal{DataType: "string", Value: string(variableJSON)},
		"domain":   ioconv.Literal{DataType: "string", Value: string(domainJSON)},
	}
	// Literals that are neither dimensions nor the variable name pass through.
	for id, v := range inputs {
		if id == "variable" || isDimensionInput(id) {
			continue
		}
		if _, ok := v.(ioconv.Literal); ok {
			out[id] = v
		}
	}
	return out, nil
}

func collectFiles(inputs map[string]ioconv.IOValue, varName string, variables *[]esgfVariable) {
	var add func(v ioconv.IOValue)
	add = func(v ioconv.IOValue) {
		switch t := v.(type) {
		case ioconv.FileRef:
			*variables = append(*variables, esgfVariable{URI: t.Href, ID: varName})
		case ioconv.Array:
			for _, item := range t.Items {
				add(item)
			}
		}
	}
	for _, v := range inputs {
		add(v)
	}
}

// dimensionOf assembles one dimension from {dim}_start/{dim}_end/{dim}_crs
// inputs, returning nil when the dimension is absent.
func dimensionOf(inputs map[string]ioconv.IOValue, dim string) (*esgfDimension, error) {
	start, hasStart := literalValue(inputs, dim+"_start")
	end, hasEnd := literalValue(inputs, dim+"_end")
	if !hasStart && !hasEnd {
		return nil, nil
	}
	if !hasStart || !hasEnd {
		return nil, fmt.Errorf("%w: dimension %s needs both %s_start and %s_end",
			ErrRemoteExecution, dim, dim, dim)
	}

	crs := "values"
	if v, ok := literalValue(inputs, dim+"_crs"); ok {
		crs = fmt.Sprint(v)
		if !esgfCRSValues[crs] {
			return nil, fmt.Errorf("%w: invalid CRS %q for dimension %s", ErrRemoteExecution, crs, dim)
		}
	}

	if dim == "lat" || dim == "latitude" {
		start, end = maxOf(start, end), minOf(start, end)
	}
	return &esgfDimension{ID: dim, Start: start, End: end, CRS: crs}, nil
}

func literalValue(inputs map[string]ioconv.IOValue, id string) (any, bool) {
	lit, ok := inputs[id].(ioconv.Literal)
	if !ok {
		return nil, false
	}
	return lit.Value, true
}

func isDimensionInput(id string) bool {
	for _, dim := range esgfDimensions {
		for _, suffix := range []string{"_start", "_end", "_crs"} {
			if id == dim+suffix {
				return true
			}
		}
	}
	return false
}

func maxOf(a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok && bf > af {
		return b
	}
	if aok && bok {
		return a
	}
	if strings.Compare(fmt.Sprint(a), fmt.Sprint(b)) < 0 {
		return b
	}
	return a
}

func minOf(a, b any) any {
	if maxOf(a, b) == a {
		return b
	}
	return a
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}
