// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func testProcess(id, version string) *appkg.Process {
	return &appkg.Process{
		ID:      id,
		Version: version,
		Package: &appkg.Package{Class: appkg.ClassCommandLineTool, BaseCommand: []string{"true"}},
		Principal: appkg.Requirement{
			Class: appkg.RequirementDocker,
			Params: map[string]any{"dockerPull": "example/tool:1"},
		},
		Visibility:        appkg.VisibilityPrivate,
		JobControlOptions: []string{appkg.ControlAsync},
	}
}

func TestSaveAndFetchProcess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "1.0.0")))

	proc, err := s.FetchProcess(ctx, "subset", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "subset", proc.ID)
	assert.Equal(t, appkg.RequirementDocker, proc.Principal.Class)
	require.NotNil(t, proc.Package)
	assert.Equal(t, appkg.ClassCommandLineTool, proc.Package.Class)
}

func TestSaveProcessConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "1.0.0")))
	err := s.SaveProcess(ctx, testProcess("subset", "1.0.0"))
	assert.ErrorIs(t, err, ErrProcessConflict)

	// A new version of the same process is fine.
	assert.NoError(t, s.SaveProcess(ctx, testProcess("subset", "2.0.0")))
}

func TestFetchProcessLatestRevision(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "1.0.0")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "2.0.0")))

	proc, err := s.FetchProcess(ctx, "subset", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", proc.Version)
}

func TestFetchProcessMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.FetchProcess(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestListProcessesPublicOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	private := testProcess("hidden", "")
	public := testProcess("visible", "")
	public.Visibility = appkg.VisibilityPublic
	require.NoError(t, s.SaveProcess(ctx, private))
	require.NoError(t, s.SaveProcess(ctx, public))

	procs, err := s.ListProcesses(ctx, true)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "visible", procs[0].ID)

	all, err := s.ListProcesses(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetVisibility(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "")))
	require.NoError(t, s.SetVisibility(ctx, "subset", "", appkg.VisibilityPublic))

	proc, err := s.FetchProcess(ctx, "subset", "")
	require.NoError(t, err)
	assert.Equal(t, appkg.VisibilityPublic, proc.Visibility)
}

func TestDeleteProcess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "")))
	require.NoError(t, s.DeleteProcess(ctx, "subset", ""))
	_, err := s.FetchProcess(ctx, "subset", "")
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestLookupPackage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProcess(ctx, testProcess("subset", "")))

	pkg, err := s.LookupPackage(ctx, "subset")
	require.NoError(t, err)
	assert.Equal(t, appkg.ClassCommandLineTool, pkg.Class)

	_, err = s.LookupPackage(ctx, "nope")
	assert.ErrorIs(t, err, appkg.ErrPackageNotFound)
}

func TestJobLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := &JobRecord{
		ID:        "job-1",
		ProcessID: "subset",
		Status:    StatusAccepted,
		Inputs:    map[string]any{"variable": "tas"},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = StatusRunning
	job.Progress = 42
	require.NoError(t, s.UpdateJob(ctx, job))

	loaded, err := s.FetchJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, 42, loaded.Progress)
	assert.Equal(t, "tas", loaded.Inputs["variable"])
}

func TestFetchJobMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.FetchJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestListJobsFilterAndPaging(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, status := range []Status{StatusAccepted, StatusRunning, StatusSucceeded, StatusSucceeded} {
		require.NoError(t, s.SaveJob(ctx, &JobRecord{
			ID:        string(rune('a' + i)),
			ProcessID: "subset",
			Status:    status,
		}))
	}
	require.NoError(t, s.SaveJob(ctx, &JobRecord{ID: "other", ProcessID: "echo", Status: StatusSucceeded}))

	jobs, total, err := s.ListJobs(ctx, JobFilter{Status: StatusSucceeded, ProcessID: "subset"}, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = s.ListJobs(ctx, JobFilter{}, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, jobs, 2)
}

func TestJobLogsOrdered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJob(ctx, &JobRecord{ID: "job-1", ProcessID: "p", Status: StatusRunning}))

	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveLog(ctx, &JobLogRecord{
			JobID: "job-1", Seq: i + 1, Timestamp: time.Now(), Level: "INFO", Message: msg,
		}))
	}

	logs, err := s.FetchLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "third", logs[2].Message)
}

func TestProviderCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProvider(ctx, &ProviderRecord{Name: "hummingbird", URL: "https://wps.example.com", Type: "WPS-1"}))

	rec, err := s.FetchProvider(ctx, "hummingbird")
	require.NoError(t, err)
	assert.Equal(t, "WPS-1", rec.Type)

	all, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteProvider(ctx, "hummingbird"))
	_, err = s.FetchProvider(ctx, "hummingbird")
	assert.ErrorIs(t, err, ErrNoSuchProvider)

	err = s.DeleteProvider(ctx, "hummingbird")
	assert.ErrorIs(t, err, ErrNoSuchProvider)
}
