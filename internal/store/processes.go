// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

func processKey(id, version string) string {
	if version == "" {
		return id
	}
	return id + ":" + version
}

// SaveProcess registers a deployed process. Deploying an already existing
// (id, version) pair fails with ErrProcessConflict.
func (s *Store) SaveProcess(ctx context.Context, proc *appkg.Process) error {
	record := &ProcessRecord{
		ID:         processKey(proc.ID, proc.Version),
		ProcessID:  proc.ID,
		Version:    proc.Version,
		Process:    proc,
		Visibility: proc.Visibility,
	}

	var existing ProcessRecord
	err := s.db.WithContext(ctx).First(&existing, "id = ?", record.ID).Error
	if err == nil {
		return fmt.Errorf("%w: %s", ErrProcessConflict, record.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check process %s: %w", record.ID, err)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save process %s: %w", record.ID, err)
	}
	return nil
}

// FetchProcess loads a process by id and optional version. With an empty
// version the most recently deployed revision wins.
func (s *Store) FetchProcess(ctx context.Context, id, version string) (*appkg.Process, error) {
	var record ProcessRecord
	query := s.db.WithContext(ctx)
	var err error
	if version != "" {
		err = query.First(&record, "id = ?", processKey(id, version)).Error
	} else {
		err = query.Where("process_id = ?", id).Order("created_at DESC").First(&record).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchProcess, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch process %s: %w", id, err)
	}
	return record.Process, nil
}

// LookupPackage resolves a sibling process id to its application package,
// satisfying the loader's workflow step resolution.
func (s *Store) LookupPackage(ctx context.Context, processID string) (*appkg.Package, error) {
	proc, err := s.FetchProcess(ctx, processID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appkg.ErrPackageNotFound, processID)
	}
	return proc.Package, nil
}

// ListProcesses returns deployed processes, optionally restricted to public
// visibility.
func (s *Store) ListProcesses(ctx context.Context, publicOnly bool) ([]*appkg.Process, error) {
	query := s.db.WithContext(ctx).Model(&ProcessRecord{})
	if publicOnly {
		query = query.Where("visibility = ?", appkg.VisibilityPublic)
	}

	var records []ProcessRecord
	if err := query.Order("process_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	procs := make([]*appkg.Process, 0, len(records))
	for i := range records {
		procs = append(procs, records[i].Process)
	}
	return procs, nil
}

// SetVisibility updates a process visibility, the only permitted mutation.
func (s *Store) SetVisibility(ctx context.Context, id, version string, visibility appkg.Visibility) error {
	proc, err := s.FetchProcess(ctx, id, version)
	if err != nil {
		return err
	}
	proc.Visibility = visibility

	result := s.db.WithContext(ctx).Model(&ProcessRecord{}).
		Where("id = ?", processKey(proc.ID, proc.Version)).
		Updates(map[string]any{"visibility": visibility, "process": proc})
	if result.Error != nil {
		return fmt.Errorf("failed to update visibility of %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchProcess, id)
	}
	return nil
}

// DeleteProcess undeploys a process.
func (s *Store) DeleteProcess(ctx context.Context, id, version string) error {
	proc, err := s.FetchProcess(ctx, id, version)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Delete(&ProcessRecord{}, "id = ?", processKey(proc.ID, proc.Version))
	if result.Error != nil {
		return fmt.Errorf("failed to delete process %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchProcess, id)
	}
	return nil
}
