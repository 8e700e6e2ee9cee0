// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/notify"
)

// ErrUnsupportedScheme marks an input reference the fetcher cannot resolve.
var ErrUnsupportedScheme = errors.New("unsupported reference scheme")

// Fetcher resolves input references into local files under a job workdir.
type Fetcher struct {
	client *http.Client
	s3     *S3Backend
	stager *Stager
	vault  config.VaultConfig
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. s3 may be nil.
func NewFetcher(client *http.Client, s3 *S3Backend, stager *Stager, vault config.VaultConfig, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, s3: s3, stager: stager, vault: vault, logger: logger.With("module", "staging")}
}

// Fetch resolves one reference into destDir and returns the local path.
// References inside the served output location map straight to their on-disk
// path without copying. Directory references are fetched recursively.
func (f *Fetcher) Fetch(ctx context.Context, href, destDir string, isDir bool) (string, error) {
	if local, ok := f.stager.LocalPath(href); ok {
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("reference %s maps to missing local path: %w", href, err)
		}
		return local, nil
	}

	switch {
	case strings.HasPrefix(href, "s3://"):
		return f.fetchS3(ctx, href, destDir, isDir)
	case strings.HasPrefix(href, "vault://"):
		return f.fetchVault(ctx, href, destDir)
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		if isDir {
			return "", fmt.Errorf("%w: recursive HTTP directory %s", ErrUnsupportedScheme, href)
		}
		return f.fetchHTTP(ctx, href, destDir)
	case strings.HasPrefix(href, "file://"):
		p := strings.TrimPrefix(href, "file://")
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("missing local reference %s: %w", href, err)
		}
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, href)
	}
}

func (f *Fetcher) fetchS3(ctx context.Context, href, destDir string, isDir bool) (string, error) {
	if f.s3 == nil {
		return "", fmt.Errorf("%w: no S3 backend configured for %s", ErrUnsupportedScheme, href)
	}
	bucket, key, err := ParseS3URL(href)
	if err != nil {
		return "", err
	}
	name := path.Base(strings.TrimSuffix(key, "/"))
	dest := filepath.Join(destDir, name)
	if isDir || strings.HasSuffix(href, "/") {
		if err := f.s3.DownloadPrefix(ctx, bucket, key, dest); err != nil {
			return "", err
		}
		return dest, nil
	}
	if err := f.s3.Download(ctx, bucket, key, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, href, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", href, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %d", href, resp.StatusCode)
	}

	dest := filepath.Join(destDir, basenameOf(href))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to save %s: %w", href, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// fetchVault resolves a single-use vault reference: validate with HEAD,
// download, decrypt with the configured secret, then delete the source so
// the reference cannot be replayed.
func (f *Fetcher) fetchVault(ctx context.Context, href, destDir string) (string, error) {
	if f.vault.URL == "" {
		return "", fmt.Errorf("%w: no vault configured for %s", ErrUnsupportedScheme, href)
	}
	id := strings.TrimPrefix(href, "vault://")
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", fmt.Errorf("malformed vault reference %s", href)
	}
	fileURL := strings.TrimSuffix(f.vault.URL, "/") + "/vault/" + id

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, fileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(head)
	if err != nil {
		return "", fmt.Errorf("vault validation failed for %s: %w", href, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault reference %s not available: status %d", href, resp.StatusCode)
	}
	name := basenameOf(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = id
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err = f.client.Do(get)
	if err != nil {
		return "", fmt.Errorf("vault download failed for %s: %w", href, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault download failed for %s: status %d", href, resp.StatusCode)
	}
	sealed, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	plaintext, err := notify.DecryptBytes(sealed, f.vault.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt vault file %s: %w", id, err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, name)
	if err := os.WriteFile(dest, plaintext, 0o600); err != nil {
		return "", err
	}

	// Single use: best-effort removal of the source.
	if del, err := http.NewRequestWithContext(ctx, http.MethodDelete, fileURL, nil); err == nil {
		if resp, err := f.client.Do(del); err == nil {
			resp.Body.Close()
		} else {
			f.logger.Warn("failed to remove consumed vault file", "id", id, "error", err)
		}
	}
	return dest, nil
}

// basenameOf extracts a usable file name from a URL or a
// Content-Disposition header value.
func basenameOf(ref string) string {
	if ref == "" {
		return ""
	}
	if _, params, ok := strings.Cut(ref, "filename="); ok {
		return strings.Trim(strings.TrimSpace(params), `"`)
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(ref)
}
