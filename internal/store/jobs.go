// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobFilter narrows job listings.
type JobFilter struct {
	Status    Status
	ProcessID string
	Service   string
}

// SaveJob inserts a new job document.
func (s *Store) SaveJob(ctx context.Context, job *JobRecord) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// FetchJob loads a job by id.
func (s *Store) FetchJob(ctx context.Context, id string) (*JobRecord, error) {
	var job JobRecord
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob writes the job back, bumping the optimistic revision. Mutations
// are last-writer-wins: a stale revision simply overwrites with the bumped
// counter so readers can detect the change.
func (s *Store) UpdateJob(ctx context.Context, job *JobRecord) error {
	job.Revision++
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter, page, limit int) ([]JobRecord, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}

	query := s.db.WithContext(ctx).Model(&JobRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProcessID != "" {
		query = query.Where("process_id = ?", filter.ProcessID)
	}
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []JobRecord
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// SaveLog appends a log entry, assigning the next per-job sequence number.
func (s *Store) SaveLog(ctx context.Context, entry *JobLogRecord) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Model(&JobLogRecord{}).
			Where("job_id = ?", entry.JobID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to allocate log sequence: %w", err)
		}
		entry.Seq = maxSeq + 1
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to save log entry: %w", err)
		}
		return nil
	})
}

// FetchLogs returns a job's log entries ordered by sequence number.
func (s *Store) FetchLogs(ctx context.Context, jobID string) ([]JobLogRecord, error) {
	var logs []JobLogRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("seq ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for job %s: %w", jobID, err)
	}
	return logs, nil
}
