// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package provider browses registered remote providers: OGC API Processes
// endpoints and WPS-1 services. Remote processes are normalized on the fly
// and never persisted locally.
package provider

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// ErrProviderUnreachable marks a provider endpoint that did not answer.
var ErrProviderUnreachable = errors.New("provider not reachable")

// Provider type identifiers, matching the registration request values.
const (
	TypeWPS1 = "WPS-1"
	TypeWPS2 = "WPS-2"
	TypeOAP  = "OAP"
)

// RemoteProcess is one process advertised by a remote provider.
type RemoteProcess struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Abstract string `json:"description,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Client browses remote provider catalogs.
type Client struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a provider client.
func New(client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{client: client, logger: logger.With("module", "provider")}
}

// Check verifies the provider endpoint answers before registration. For OAP
// endpoints the process list must parse; for WPS the capabilities document.
func (c *Client) Check(ctx context.Context, rec *store.ProviderRecord) error {
	_, err := c.ListProcesses(ctx, rec)
	return err
}

// ListProcesses fetches the process catalog of a provider.
func (c *Client) ListProcesses(ctx context.Context, rec *store.ProviderRecord) ([]RemoteProcess, error) {
	if rec.Type == TypeWPS1 || rec.Type == TypeWPS2 {
		return c.listWPS(ctx, rec)
	}
	return c.listOAP(ctx, rec)
}

// DescribeProcess fetches and normalizes one remote process. The returned
// process carries a remote principal requirement so job execution dispatches
// back to the provider.
func (c *Client) DescribeProcess(ctx context.Context, rec *store.ProviderRecord, processID string) (*appkg.Process, error) {
	var (
		pkg *appkg.Package
		err error
	)
	if rec.Type == TypeWPS1 || rec.Type == TypeWPS2 {
		pkg, err = c.describeWPS(ctx, rec, processID)
	} else {
		pkg, err = c.describeOAP(ctx, rec, processID)
	}
	if err != nil {
		return nil, err
	}

	proc := &appkg.Process{
		ID:                processID,
		Title:             pkg.ID,
		Package:           pkg,
		Inputs:            pkg.Inputs,
		Outputs:           pkg.Outputs,
		Principal:         remotePrincipal(rec, processID),
		Visibility:        appkg.VisibilityPublic,
		JobControlOptions: []string{appkg.ControlAsync},
		Service:           rec.Name,
	}
	if proc.Title == "" {
		proc.Title = processID
	}
	return proc, nil
}

// remotePrincipal builds the dispatch requirement for a discovered process.
func remotePrincipal(rec *store.ProviderRecord, processID string) appkg.Requirement {
	class := appkg.RequirementOGCAPI
	if rec.Type == TypeWPS1 || rec.Type == TypeWPS2 {
		class = appkg.RequirementWPS1
	}
	return appkg.Requirement{
		Class: class,
		Params: map[string]any{
			"provider": rec.URL,
			"process":  processID,
		},
	}
}

func (c *Client) listOAP(ctx context.Context, rec *store.ProviderRecord) ([]RemoteProcess, error) {
	data, err := c.get(ctx, strings.TrimSuffix(rec.URL, "/")+"/processes", "application/json")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Processes []RemoteProcess `json:"processes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid process list: %v", ErrProviderUnreachable, rec.Name, err)
	}
	return doc.Processes, nil
}

func (c *Client) describeOAP(ctx context.Context, rec *store.ProviderRecord, processID string) (*appkg.Package, error) {
	data, err := c.get(ctx, strings.TrimSuffix(rec.URL, "/")+"/processes/"+url.PathEscape(processID), "application/json")
	if err != nil {
		return nil, err
	}
	return appkg.ParseDocument(data, appkg.FormatJSON)
}

// wpsCapabilities is the subset of a WPS-1 GetCapabilities response listing
// the offered processes.
type wpsCapabilities struct {
	XMLName   xml.Name `xml:"Capabilities"`
	Processes []struct {
		Identifier string `xml:"Identifier"`
		Title      string `xml:"Title"`
		Abstract   string `xml:"Abstract"`
	} `xml:"ProcessOfferings>Process"`
}

func (c *Client) listWPS(ctx context.Context, rec *store.ProviderRecord) ([]RemoteProcess, error) {
	data, err := c.get(ctx, wpsURL(rec.URL, "GetCapabilities", ""), "text/xml")
	if err != nil {
		return nil, err
	}
	var caps wpsCapabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid capabilities: %v", ErrProviderUnreachable, rec.Name, err)
	}
	out := make([]RemoteProcess, 0, len(caps.Processes))
	for _, p := range caps.Processes {
		out = append(out, RemoteProcess{ID: p.Identifier, Title: p.Title, Abstract: p.Abstract})
	}
	return out, nil
}

func (c *Client) describeWPS(ctx context.Context, rec *store.ProviderRecord, processID string) (*appkg.Package, error) {
	data, err := c.get(ctx, wpsURL(rec.URL, "DescribeProcess", processID), "text/xml")
	if err != nil {
		return nil, err
	}
	return appkg.ParseDocument(data, appkg.FormatXML)
}

// wpsURL appends the KVP query parameters of a WPS-1 GET operation.
func wpsURL(base, request, identifier string) string {
	q := url.Values{}
	q.Set("service", "WPS")
	q.Set("version", "1.0.0")
	q.Set("request", request)
	if identifier != "" {
		q.Set("identifier", identifier)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	req.Header.Set("Accept", accept)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", appkg.ErrPackageNotFound, u)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrProviderUnreachable, u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
