// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// Category is the notification category of a status.
type Category string

const (
	CategoryRunning Category = "running"
	CategoryFailed  Category = "failed"
	CategorySuccess Category = "success"
)

// Category maps a status to its notification category.
func (s Status) Category() Category {
	switch s {
	case StatusSucceeded:
		return CategorySuccess
	case StatusFailed, StatusDismissed:
		return CategoryFailed
	default:
		return CategoryRunning
	}
}

// Response modes recorded at submission.
const (
	ResponseRaw      = "raw"
	ResponseDocument = "document"
)

// Result is a single resolved output value or reference. References inside
// the configured WPS output location are stored pseudo-relative (a /-rooted
// path); external URLs are stored verbatim.
type Result struct {
	ID        string `json:"id"`
	Value     any    `json:"value,omitempty"`
	Href      string `json:"href,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	DataType  string `json:"dataType,omitempty"`
}

// Exception is an error captured during execution.
type Exception struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status,omitempty"`
}

// Statistics aggregates resource usage of a finished job.
type Statistics struct {
	RSSBytes     int64            `json:"rssBytes,omitempty"`
	CPUSeconds   float64          `json:"cpuSeconds,omitempty"`
	OutputsBytes map[string]int64 `json:"outputsBytes,omitempty"`
	TotalBytes   int64            `json:"totalBytes,omitempty"`
}

// Subscribers holds at most one target per (kind, category). Emails are
// stored encrypted; callbacks store raw URLs.
type Subscribers struct {
	SuccessURI      string `json:"successUri,omitempty"`
	FailedURI       string `json:"failedUri,omitempty"`
	InProgressURI   string `json:"inProgressUri,omitempty"`
	SuccessEmail    string `json:"successEmail,omitempty"`
	FailedEmail     string `json:"failedEmail,omitempty"`
	InProgressEmail string `json:"inProgressEmail,omitempty"`
}

// Empty reports whether no target is configured.
func (s *Subscribers) Empty() bool {
	return s == nil || *s == Subscribers{}
}

// JobRecord is the persisted job document. The execution engine is the sole
// writer during the running window; readers tolerate slightly stale views.
type JobRecord struct {
	ID          string         `gorm:"primaryKey"`
	ProcessID   string         `gorm:"index"`
	Version     string
	Service     string         `gorm:"index"`
	Status      Status         `gorm:"index"`
	Progress    int
	Inputs      map[string]any `gorm:"serializer:json"`
	Outputs     map[string]any `gorm:"serializer:json"`
	Results     []Result       `gorm:"serializer:json"`
	Exceptions  []Exception    `gorm:"serializer:json"`
	Statistics  *Statistics    `gorm:"serializer:json"`
	Subscribers *Subscribers   `gorm:"serializer:json"`

	ExecuteAsync   bool
	ResponseMode   string
	AcceptLanguage string
	// Context is the optional subdirectory prefix for output staging.
	Context string
	// TaskID is the opaque worker handle used for cancellation.
	TaskID string
	// WPSID is the identifier of the underlying local execution directory,
	// possibly different from ID.
	WPSID string

	// Revision implements last-writer-wins optimistic concurrency.
	Revision int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobLogRecord is one append-only job log line. Seq is chronologically
// monotonic per job so interleaved engine and runner writes reconcile at
// read time.
type JobLogRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	JobID     string `gorm:"index:idx_job_seq,priority:1"`
	Seq       int    `gorm:"index:idx_job_seq,priority:2"`
	Timestamp time.Time
	Level     string
	Message   string
	Progress  int
	Status    Status
}

// ProcessRecord is a deployed process. The normalized Process document is
// stored as a JSON column; visibility is the only mutable field.
type ProcessRecord struct {
	ID         string `gorm:"primaryKey"` // "{id}" or "{id}:{version}"
	ProcessID  string `gorm:"index"`
	Version    string
	Process    *appkg.Process   `gorm:"serializer:json"`
	Visibility appkg.Visibility `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProviderRecord is a registered remote provider.
type ProviderRecord struct {
	Name      string `gorm:"primaryKey"`
	URL       string
	Type      string // WPS-1, WPS-2, OAP
	CreatedAt time.Time
}
