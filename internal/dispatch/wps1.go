// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// WPS1Dispatcher executes a process on a legacy WPS-1/2 provider via the
// XML Execute protocol with stored asynchronous responses.
type WPS1Dispatcher struct {
	client  *http.Client
	fetcher *staging.Fetcher
	monitor MonitorConfig
	logger  *slog.Logger
}

// NewWPS1Dispatcher creates the dispatcher.
func NewWPS1Dispatcher(client *http.Client, fetcher *staging.Fetcher, monitor MonitorConfig, logger *slog.Logger) *WPS1Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &WPS1Dispatcher{client: client, fetcher: fetcher, monitor: monitor, logger: logger.With("dispatcher", "wps1")}
}

// Execute request document.
type wpsExecuteRequest struct {
	XMLName    xml.Name `xml:"wps:Execute"`
	Service    string   `xml:"service,attr"`
	Version    string   `xml:"version,attr"`
	XmlnsWPS   string   `xml:"xmlns:wps,attr"`
	XmlnsOWS   string   `xml:"xmlns:ows,attr"`
	XmlnsXlink string   `xml:"xmlns:xlink,attr"`

	Identifier   string          `xml:"ows:Identifier"`
	Inputs       []wpsInputEntry `xml:"wps:DataInputs>wps:Input"`
	ResponseForm wpsResponseForm `xml:"wps:ResponseForm"`
}

type wpsInputEntry struct {
	Identifier string        `xml:"ows:Identifier"`
	Reference  *wpsReference `xml:"wps:Reference,omitempty"`
	Data       *wpsData      `xml:"wps:Data,omitempty"`
}

type wpsReference struct {
	Href string `xml:"xlink:href,attr"`
}

type wpsData struct {
	LiteralData string `xml:"wps:LiteralData"`
}

type wpsResponseForm struct {
	ResponseDocument wpsResponseDocument `xml:"wps:ResponseDocument"`
}

type wpsResponseDocument struct {
	StoreExecuteResponse bool             `xml:"storeExecuteResponse,attr"`
	Status               bool             `xml:"status,attr"`
	Outputs              []wpsDocOutput   `xml:"wps:Output"`
}

type wpsDocOutput struct {
	AsReference bool   `xml:"asReference,attr"`
	Identifier  string `xml:"ows:Identifier"`
}

// Execute response document. Namespace prefixes are ignored on decode.
type wpsExecuteResponse struct {
	XMLName        xml.Name         `xml:"ExecuteResponse"`
	StatusLocation string           `xml:"statusLocation,attr"`
	Status         wpsStatusNode    `xml:"Status"`
	Outputs        []wpsOutputEntry `xml:"ProcessOutputs>Output"`
}

type wpsStatusNode struct {
	Accepted  *wpsPlainStatus `xml:"ProcessAccepted"`
	Started   *wpsStarted     `xml:"ProcessStarted"`
	Paused    *wpsStarted     `xml:"ProcessPaused"`
	Succeeded *wpsPlainStatus `xml:"ProcessSucceeded"`
	Failed    *wpsFailed      `xml:"ProcessFailed"`
}

type wpsPlainStatus struct {
	Message string `xml:",chardata"`
}

type wpsStarted struct {
	Percent int    `xml:"percentCompleted,attr"`
	Message string `xml:",chardata"`
}

type wpsFailed struct {
	ExceptionText string `xml:"ExceptionReport>Exception>ExceptionText"`
}

type wpsOutputEntry struct {
	Identifier string `xml:"Identifier"`
	Reference  *struct {
		Href string `xml:"href,attr"`
	} `xml:"Reference"`
	Data *struct {
		LiteralData string `xml:"LiteralData"`
	} `xml:"Data"`
}

// Execute runs the phased sequence against the WPS endpoint.
func (d *WPS1Dispatcher) Execute(ctx context.Context, req *Request) ([]Result, error) {
	var (
		endpoint, processID string
		doc                 wpsExecuteRequest
		statusLocation      string
		final               *wpsExecuteResponse
		results             []Result
	)

	phases := []phase{
		{"prepare", markerPrepare, func(ctx context.Context) (bool, error) {
			var err error
			endpoint, processID, err = serviceURL(req.Process.Principal)
			if err != nil {
				return false, err
			}
			if processID == "" {
				processID = req.Process.ID
			}
			return false, nil
		}},
		{"stage-inputs", markerStageInputs, func(ctx context.Context) (bool, error) {
			return false, nil
		}},
		{"format-inputs", markerFormatInputs, func(ctx context.Context) (bool, error) {
			doc = wpsExecuteRequest{
				Service:    "WPS",
				Version:    "1.0.0",
				XmlnsWPS:   "http://www.opengis.net/wps/1.0.0",
				XmlnsOWS:   "http://www.opengis.net/ows/1.1",
				XmlnsXlink: "http://www.w3.org/1999/xlink",
				Identifier: processID,
				Inputs:     formatWPSInputs(req.Inputs),
			}
			return false, nil
		}},
		{"format-outputs", markerFormatOutputs, func(ctx context.Context) (bool, error) {
			outputs := make([]wpsDocOutput, 0, len(req.ExpectedOutputs))
			for id := range req.ExpectedOutputs {
				outputs = append(outputs, wpsDocOutput{AsReference: true, Identifier: id})
			}
			doc.ResponseForm = wpsResponseForm{ResponseDocument: wpsResponseDocument{
				StoreExecuteResponse: true,
				Status:               true,
				Outputs:              outputs,
			}}
			return false, nil
		}},
		{"dispatch", markerDispatch, func(ctx context.Context) (bool, error) {
			var err error
			statusLocation, final, err = d.submit(ctx, endpoint, &doc, req.Headers)
			return false, err
		}},
		{"monitor", markerMonitor, func(ctx context.Context) (bool, error) {
			if final != nil && terminalWPSStatus(&final.Status) {
				return false, failureOf(&final.Status)
			}
			var err error
			final, err = d.waitForCompletion(ctx, statusLocation, req)
			return false, err
		}},
		{"get-results", markerFetchResults, func(ctx context.Context) (bool, error) {
			if final == nil {
				return false, fmt.Errorf("%w: no final execute response", ErrRemoteExecution)
			}
			return false, nil
		}},
		{"stage-results", markerStageResults, func(ctx context.Context) (bool, error) {
			var err error
			results, err = d.stageResults(ctx, final, req)
			return false, err
		}},
	}

	if err := runPhases(ctx, req, d.logger, phases, nil); err != nil {
		return nil, err
	}
	return results, nil
}

// formatWPSInputs flattens coerced values to the legacy literal/reference
// forms. Arrays repeat the input identifier.
func formatWPSInputs(inputs map[string]ioconv.IOValue) []wpsInputEntry {
	entries := make([]wpsInputEntry, 0, len(inputs))
	var add func(id string, v ioconv.IOValue)
	add = func(id string, v ioconv.IOValue) {
		switch t := v.(type) {
		case ioconv.Array:
			for _, item := range t.Items {
				add(id, item)
			}
		case ioconv.FileRef:
			entries = append(entries, wpsInputEntry{Identifier: id, Reference: &wpsReference{Href: t.Href}})
		case ioconv.DirRef:
			entries = append(entries, wpsInputEntry{Identifier: id, Reference: &wpsReference{Href: t.Href}})
		default:
			entries = append(entries, wpsInputEntry{Identifier: id, Data: &wpsData{LiteralData: ioconv.LiteralString(v)}})
		}
	}
	for id, v := range inputs {
		add(id, v)
	}
	return entries
}

func (d *WPS1Dispatcher) submit(ctx context.Context, endpoint string, doc *wpsExecuteRequest, fwd http.Header) (string, *wpsExecuteResponse, error) {
	payload, err := xml.Marshal(doc)
	if err != nil {
		return "", nil, err
	}
	body := append([]byte(xml.Header), payload...)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	forwardAuth(httpReq, fwd)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrServiceNotAccessible, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", nil, fmt.Errorf("%w: execute returned %d: %s", ErrRemoteExecution, resp.StatusCode, detail)
	}

	var exec wpsExecuteResponse
	if err := xml.NewDecoder(resp.Body).Decode(&exec); err != nil {
		return "", nil, fmt.Errorf("%w: malformed execute response: %v", ErrRemoteExecution, err)
	}
	return exec.StatusLocation, &exec, nil
}

func (d *WPS1Dispatcher) waitForCompletion(ctx context.Context, statusLocation string, req *Request) (*wpsExecuteResponse, error) {
	if statusLocation == "" {
		return nil, fmt.Errorf("%w: execute response has no status location", ErrRemoteExecution)
	}
	span := markerResults - markerMonitor
	var final *wpsExecuteResponse
	err := Poll(ctx, d.monitor, req.Cancelled, func(ctx context.Context) (bool, error) {
		exec, err := d.readStatus(ctx, statusLocation, req.Headers)
		if err != nil {
			return false, err
		}
		if started := exec.Status.Started; started != nil {
			req.report(markerMonitor+span*started.Percent/100, started.Message)
		}
		if exec.Status.Failed != nil {
			return false, Permanent(failureOf(&exec.Status))
		}
		if exec.Status.Succeeded != nil {
			final = exec
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (d *WPS1Dispatcher) readStatus(ctx context.Context, statusLocation string, fwd http.Header) (*wpsExecuteResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusLocation, nil)
	if err != nil {
		return nil, err
	}
	forwardAuth(httpReq, fwd)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status location returned %d", resp.StatusCode)
	}
	var exec wpsExecuteResponse
	if err := xml.NewDecoder(resp.Body).Decode(&exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (d *WPS1Dispatcher) stageResults(ctx context.Context, final *wpsExecuteResponse, req *Request) ([]Result, error) {
	results := make([]Result, 0, len(final.Outputs))
	for _, out := range final.Outputs {
		res := Result{ID: out.Identifier}
		switch {
		case out.Reference != nil && out.Reference.Href != "":
			res.Href = out.Reference.Href
			local, err := d.fetcher.Fetch(ctx, res.Href, filepath.Join(req.OutDir, res.ID), false)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to stage output %s: %v", ErrRemoteExecution, res.ID, err)
			}
			res.LocalPath = local
		case out.Data != nil:
			res.Value = out.Data.LiteralData
		}
		results = append(results, res)
	}
	return results, nil
}

func terminalWPSStatus(s *wpsStatusNode) bool {
	return s.Succeeded != nil || s.Failed != nil
}

// failureOf maps a terminal status node to an error; succeeded maps to nil.
func failureOf(s *wpsStatusNode) error {
	if s.Failed == nil {
		return nil
	}
	detail := strings.TrimSpace(s.Failed.ExceptionText)
	if detail == "" {
		detail = "process failed without exception detail"
	}
	return fmt.Errorf("%w: %s", ErrRemoteExecution, detail)
}
