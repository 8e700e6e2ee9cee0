// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"path/filepath"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// OAPDispatcher executes a process on a remote OGC API Processes provider.
type OAPDispatcher struct {
	client  *http.Client
	fetcher *staging.Fetcher
	monitor MonitorConfig
	logger  *slog.Logger
}

// NewOAPDispatcher creates the dispatcher.
func NewOAPDispatcher(client *http.Client, fetcher *staging.Fetcher, monitor MonitorConfig, logger *slog.Logger) *OAPDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAPDispatcher{client: client, fetcher: fetcher, monitor: monitor, logger: logger.With("dispatcher", "oap")}
}

// oapExecuteBody is the OGC API Processes execute request.
type oapExecuteBody struct {
	Inputs   map[string]any           `json:"inputs"`
	Outputs  map[string]oapOutputSpec `json:"outputs,omitempty"`
	Response string                   `json:"response,omitempty"`
	Mode     string                   `json:"mode,omitempty"`
}

type oapOutputSpec struct {
	TransmissionMode string `json:"transmissionMode,omitempty"`
}

// oapStatus is the remote job status document.
type oapStatus struct {
	JobID    string `json:"jobID"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Execute runs the phased sequence against the remote provider.
func (d *OAPDispatcher) Execute(ctx context.Context, req *Request) ([]Result, error) {
	var (
		base, processID string
		body            oapExecuteBody
		statusURL       string
		resultsDoc      map[string]any
		results         []Result
	)

	phases := []phase{
		{"prepare", markerPrepare, func(ctx context.Context) (bool, error) {
			var err error
			base, processID, err = serviceURL(req.Process.Principal)
			if err != nil {
				return false, err
			}
			if processID == "" {
				processID = req.Process.ID
			}
			return false, nil
		}},
		{"stage-inputs", markerStageInputs, func(ctx context.Context) (bool, error) {
			// Remote providers fetch references themselves; nothing to move.
			return false, nil
		}},
		{"format-inputs", markerFormatInputs, func(ctx context.Context) (bool, error) {
			body.Inputs = make(map[string]any, len(req.Inputs))
			for id, v := range req.Inputs {
				body.Inputs[id] = ioconv.EncodeOAPValue(v)
			}
			return false, nil
		}},
		{"format-outputs", markerFormatOutputs, func(ctx context.Context) (bool, error) {
			body.Outputs = make(map[string]oapOutputSpec, len(req.ExpectedOutputs))
			for id := range req.ExpectedOutputs {
				body.Outputs[id] = oapOutputSpec{TransmissionMode: "reference"}
			}
			body.Response = "document"
			return false, nil
		}},
		{"dispatch", markerDispatch, func(ctx context.Context) (bool, error) {
			var err error
			statusURL, err = d.submit(ctx, base, processID, &body, req.Headers)
			return false, err
		}},
		{"monitor", markerMonitor, func(ctx context.Context) (bool, error) {
			return false, d.waitForCompletion(ctx, statusURL, req)
		}},
		{"get-results", markerFetchResults, func(ctx context.Context) (bool, error) {
			var err error
			resultsDoc, err = d.fetchResults(ctx, statusURL, req.Headers)
			return false, err
		}},
		{"stage-results", markerStageResults, func(ctx context.Context) (bool, error) {
			var err error
			results, err = d.stageResults(ctx, resultsDoc, req)
			return false, err
		}},
	}

	if err := runPhases(ctx, req, d.logger, phases, nil); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *OAPDispatcher) submit(ctx context.Context, base, processID string, body *oapExecuteBody, fwd http.Header) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/processes/%s/execution", base, processID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "respond-async")
	forwardAuth(httpReq, fwd)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceNotAccessible, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: submit returned %d: %s", ErrRemoteExecution, resp.StatusCode, detail)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		var status oapStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil || status.JobID == "" {
			return "", fmt.Errorf("%w: no job location in submit response", ErrRemoteExecution)
		}
		location = fmt.Sprintf("%s/jobs/%s", base, status.JobID)
	} else if strings.HasPrefix(location, "/") {
		if u, err := neturl.Parse(base); err == nil {
			location = u.Scheme + "://" + u.Host + location
		}
	}
	return location, nil
}

func (d *OAPDispatcher) waitForCompletion(ctx context.Context, statusURL string, req *Request) error {
	span := markerResults - markerMonitor
	return Poll(ctx, d.monitor, req.Cancelled, func(ctx context.Context) (bool, error) {
		status, err := d.readStatus(ctx, statusURL, req.Headers)
		if err != nil {
			return false, err
		}
		req.report(markerMonitor+span*status.Progress/100, status.Message)
		switch status.Status {
		case "successful", "succeeded":
			return true, nil
		case "failed":
			return false, Permanent(fmt.Errorf("%w: %s", ErrRemoteExecution, status.Message))
		case "dismissed":
			return false, Permanent(fmt.Errorf("%w: remote job dismissed", ErrRemoteExecution))
		default:
			return false, nil
		}
	})
}

func (d *OAPDispatcher) readStatus(ctx context.Context, statusURL string, fwd http.Header) (*oapStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
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
		return nil, fmt.Errorf("status poll returned %d", resp.StatusCode)
	}
	var status oapStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (d *OAPDispatcher) fetchResults(ctx context.Context, statusURL string, fwd http.Header) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL+"/results", nil)
	if err != nil {
		return nil, err
	}
	forwardAuth(httpReq, fwd)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteExecution, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: results returned %d", ErrRemoteExecution, resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: malformed results document: %v", ErrRemoteExecution, err)
	}
	return doc, nil
}

// stageResults fetches referenced outputs into the request output directory,
// one subdirectory per output id.
func (d *OAPDispatcher) stageResults(ctx context.Context, doc map[string]any, req *Request) ([]Result, error) {
	results := make([]Result, 0, len(doc))
	for id, raw := range doc {
		res := Result{ID: id}
		switch t := raw.(type) {
		case map[string]any:
			if href, ok := t["href"].(string); ok && href != "" {
				res.Href = href
				res.MediaType, _ = t["type"].(string)
				local, err := d.fetcher.Fetch(ctx, href, filepath.Join(req.OutDir, id), res.MediaType == staging.MediaTypeDirectory)
				if err != nil {
					return nil, fmt.Errorf("%w: failed to stage result %s: %v", ErrRemoteExecution, id, err)
				}
				res.LocalPath = local
			} else {
				res.Value = t["value"]
			}
		default:
			res.Value = raw
		}
		results = append(results, res)
	}
	return results, nil
}

func forwardAuth(req *http.Request, fwd http.Header) {
	if fwd == nil {
		return
	}
	if auth := fwd.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
}
