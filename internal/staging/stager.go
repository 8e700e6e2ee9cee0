// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package staging moves produced outputs into the served WPS output tree,
// mirrors them to S3 when configured, and fetches remote input references
// into per-job working directories.
package staging

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/config"
)

// StagedRef describes one output after staging.
type StagedRef struct {
	// Path is the local filesystem location inside the output tree.
	Path string
	// Href is the pseudo-relative reference, a /-rooted path under the
	// output URL prefix.
	Href string
	// S3URL is set when the output was mirrored to the object store.
	S3URL string
	// Size is the total byte size (recursive for directories).
	Size int64
	// IsDir marks directory outputs.
	IsDir bool
}

// Stager places job results under {outputDir}/{context?}/{jobId}/{outputId}/.
type Stager struct {
	wps    config.WPSConfig
	s3     *S3Backend
	logger *slog.Logger
}

// NewStager creates a Stager. s3 may be nil for filesystem-only staging.
func NewStager(wps config.WPSConfig, s3 *S3Backend, logger *slog.Logger) *Stager {
	return &Stager{wps: wps, s3: s3, logger: logger.With("module", "staging")}
}

// jobPrefix is the slash-separated path below the output root.
func jobPrefix(contextPrefix, jobID, outputID string) string {
	parts := make([]string, 0, 3)
	if contextPrefix != "" {
		parts = append(parts, strings.Trim(contextPrefix, "/"))
	}
	parts = append(parts, jobID, outputID)
	return path.Join(parts...)
}

// OutputDir returns the local staging directory for one job output.
func (s *Stager) OutputDir(contextPrefix, jobID, outputID string) string {
	return filepath.Join(s.wps.OutputDir, filepath.FromSlash(jobPrefix(contextPrefix, jobID, outputID)))
}

// Stage moves src into the output tree and returns its staged reference.
// Files are moved, not copied; a copy fallback handles cross-device renames.
func (s *Stager) Stage(ctx context.Context, contextPrefix, jobID, outputID, src string) (*StagedRef, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output %s: %w", src, err)
	}

	destDir := s.OutputDir(contextPrefix, jobID, outputID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	dest := filepath.Join(destDir, filepath.Base(src))
	if err := move(src, dest); err != nil {
		return nil, fmt.Errorf("failed to stage output %s: %w", outputID, err)
	}

	relHref := "/" + path.Join(jobPrefix(contextPrefix, jobID, outputID), filepath.Base(src))
	ref := &StagedRef{
		Path:  dest,
		Href:  relHref,
		IsDir: info.IsDir(),
	}
	if info.IsDir() {
		ref.Size, err = dirSize(dest)
		if err != nil {
			return nil, err
		}
	} else {
		ref.Size = info.Size()
	}

	if s.s3 != nil {
		if err := s.mirror(ctx, ref, strings.TrimPrefix(relHref, "/")); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

// PublicHref resolves a pseudo-relative reference against the output URL.
func (s *Stager) PublicHref(relHref string) string {
	return strings.TrimSuffix(s.wps.OutputURL, "/") + relHref
}

// RelativeHref rewrites an absolute URL inside the output location to its
// pseudo-relative form, or returns it unchanged if external.
func (s *Stager) RelativeHref(href string) string {
	base := strings.TrimSuffix(s.wps.OutputURL, "/")
	if rest, ok := strings.CutPrefix(href, base+"/"); ok {
		return "/" + rest
	}
	if s.s3 != nil {
		s3Base := fmt.Sprintf("s3://%s/", s.s3.Bucket())
		if rest, ok := strings.CutPrefix(href, s3Base); ok {
			return "/" + rest
		}
	}
	return href
}

// LocalPath maps a URL inside the served output location to its on-disk
// path, avoiding a network round-trip. ok is false for external URLs.
func (s *Stager) LocalPath(href string) (string, bool) {
	base := strings.TrimSuffix(s.wps.OutputURL, "/")
	rest, ok := strings.CutPrefix(href, base+"/")
	if !ok {
		return "", false
	}
	return filepath.Join(s.wps.OutputDir, filepath.FromSlash(rest)), true
}

// IsStaged reports whether a local path already sits inside the served
// output tree.
func (s *Stager) IsStaged(p string) bool {
	rel, err := filepath.Rel(s.wps.OutputDir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RemoveJobOutputs deletes everything staged for a job, used on dismissal.
func (s *Stager) RemoveJobOutputs(contextPrefix, jobID string) error {
	dir := filepath.Join(s.wps.OutputDir, filepath.FromSlash(path.Join(strings.Trim(contextPrefix, "/"), jobID)))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove outputs of job %s: %w", jobID, err)
	}
	// Sidecar log and status files live next to the output directory.
	for _, ext := range []string{".log", ".xml"} {
		_ = os.Remove(dir + ext)
	}
	return nil
}

func (s *Stager) mirror(ctx context.Context, ref *StagedRef, keyPrefix string) error {
	if !ref.IsDir {
		url, err := s.s3.Upload(ctx, keyPrefix, ref.Path)
		if err != nil {
			return err
		}
		ref.S3URL = url
		return nil
	}
	if err := s.s3.UploadDirMarker(ctx, keyPrefix); err != nil {
		return err
	}
	err := filepath.WalkDir(ref.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(ref.Path, p)
		if err != nil {
			return err
		}
		_, err = s.s3.Upload(ctx, path.Join(keyPrefix, filepath.ToSlash(rel)), p)
		return err
	})
	if err != nil {
		return err
	}
	ref.S3URL = fmt.Sprintf("s3://%s/%s/", s.s3.Bucket(), keyPrefix)
	return nil
}

func move(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyTree(src, dest); err != nil {
			return err
		}
	} else if err := copyFile(src, dest, info.Mode()); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode())
	})
}

func copyFile(src, dest string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
