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
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// ADESDispatcher executes on a peer ADES over OGC API Processes, deploying
// the application package first when the peer does not know the process.
type ADESDispatcher struct {
	client *http.Client
	oap    *OAPDispatcher
	auth   *adesAuth
	logger *slog.Logger
}

// NewADESDispatcher creates the dispatcher. When auth credentials are
// configured, 401/403 responses are retried once with an acquired bearer.
func NewADESDispatcher(client *http.Client, fetcher *staging.Fetcher, monitor MonitorConfig, authCfg config.ADESConfig, logger *slog.Logger) *ADESDispatcher {
	logger = logger.With("dispatcher", "ades")
	auth := newADESAuth(authCfg)
	authed := &http.Client{
		Transport: &authTransport{next: transportOf(client), auth: auth, logger: logger},
	}
	if client != nil {
		authed.Timeout = client.Timeout
	}
	return &ADESDispatcher{
		client: authed,
		oap:    NewOAPDispatcher(authed, fetcher, monitor, logger),
		auth:   auth,
		logger: logger,
	}
}

func transportOf(client *http.Client) http.RoundTripper {
	if client != nil && client.Transport != nil {
		return client.Transport
	}
	return http.DefaultTransport
}

// Execute deploys the package if absent, makes it public, then runs the
// standard OGC API Processes sequence.
func (d *ADESDispatcher) Execute(ctx context.Context, req *Request) ([]Result, error) {
	base, processID, err := serviceURL(req.Process.Principal)
	if err != nil {
		return nil, err
	}
	if processID == "" {
		processID = req.Process.ID
	}
	if err := d.ensureDeployed(ctx, base, processID, req); err != nil {
		return nil, err
	}
	return d.oap.Execute(ctx, req)
}

func (d *ADESDispatcher) ensureDeployed(ctx context.Context, base, processID string, req *Request) error {
	deployed, err := d.processExists(ctx, base, processID, req.Headers)
	if err != nil {
		return err
	}
	if !deployed {
		if err := d.deploy(ctx, base, processID, req); err != nil {
			return err
		}
	}
	return d.setPublic(ctx, base, processID, req.Headers)
}

func (d *ADESDispatcher) processExists(ctx context.Context, base, processID string, fwd http.Header) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/processes/%s", base, processID), nil)
	if err != nil {
		return false, err
	}
	forwardAuth(httpReq, fwd)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrServiceNotAccessible, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: describe returned %d", ErrRemoteExecution, resp.StatusCode)
	}
}

func (d *ADESDispatcher) deploy(ctx context.Context, base, processID string, req *Request) error {
	body := map[string]any{
		"processDescription": map[string]any{
			"process": map[string]any{
				"id":       processID,
				"title":    req.Process.Title,
				"abstract": req.Process.Abstract,
			},
		},
		"executionUnit": []map[string]any{{"unit": req.Process.Package}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/processes", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	forwardAuth(httpReq, req.Headers)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceNotAccessible, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		d.logger.Info("deployed process on peer", "process", processID, "peer", base)
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already deployed by a concurrent submission.
		return nil
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: deploy returned %d: %s", ErrRemoteExecution, resp.StatusCode, detail)
	}
}

func (d *ADESDispatcher) setPublic(ctx context.Context, base, processID string, fwd http.Header) error {
	payload := []byte(`{"value":"public"}`)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/processes/%s/visibility", base, processID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	forwardAuth(httpReq, fwd)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceNotAccessible, err)
	}
	defer resp.Body.Close()
	// Peers without a visibility endpoint answer 404/405; the deploy already
	// succeeded, so that is not fatal.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound &&
		resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("%w: visibility update returned %d", ErrRemoteExecution, resp.StatusCode)
	}
	return nil
}

// adesAuth acquires bearer tokens lazily, preferring the client credentials
// grant and falling back to the resource owner password grant.
type adesAuth struct {
	cfg config.ADESConfig

	mu    sync.Mutex
	token *oauth2.Token
}

func newADESAuth(cfg config.ADESConfig) *adesAuth {
	if cfg.TokenURL == "" {
		return nil
	}
	return &adesAuth{cfg: cfg}
}

func (a *adesAuth) bearer(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token.Valid() {
		return a.token.AccessToken, nil
	}

	cc := clientcredentials.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		TokenURL:     a.cfg.TokenURL,
	}
	token, err := cc.Token(ctx)
	if err != nil && a.cfg.Username != "" {
		pw := oauth2.Config{
			ClientID:     a.cfg.ClientID,
			ClientSecret: a.cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: a.cfg.TokenURL},
		}
		token, err = pw.PasswordCredentialsToken(ctx, a.cfg.Username, a.cfg.Password)
	}
	if err != nil {
		return "", fmt.Errorf("failed to acquire ADES token: %w", err)
	}
	a.token = token
	return token.AccessToken, nil
}

// authTransport retries a 401/403 response once with an acquired bearer.
// Requests keep whatever Authorization header was forwarded originally.
type authTransport struct {
	next   http.RoundTripper
	auth   *adesAuth
	logger *slog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || t.auth == nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if req.GetBody == nil && req.Body != nil {
		return resp, nil
	}

	token, tokenErr := t.auth.bearer(req.Context())
	if tokenErr != nil {
		t.logger.Warn("bearer acquisition failed, keeping original response", "error", tokenErr)
		return resp, nil
	}
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, bodyErr
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(retry)
}
