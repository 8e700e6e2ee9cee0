// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

var fastMonitor = MonitorConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollCompletes(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastMonitor, nil, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollToleratesTransientFailures(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastMonitor, nil, func(ctx context.Context) (bool, error) {
		calls++
		if calls < 4 {
			return false, errors.New("flaky read")
		}
		return true, nil
	})
	assert.NoError(t, err)
}

func TestPollGivesUpAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastMonitor, nil, func(ctx context.Context) (bool, error) {
		calls++
		return false, errors.New("dead endpoint")
	})
	assert.ErrorIs(t, err, ErrRemoteExecution)
	assert.Equal(t, maxConsecutiveFailures, calls)
}

func TestPollPermanentErrorStopsImmediately(t *testing.T) {
	cause := errors.New("process failed on remote")
	calls := 0
	err := Poll(context.Background(), fastMonitor, nil, func(ctx context.Context) (bool, error) {
		calls++
		return false, Permanent(cause)
	})
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestPollDeadlineMapsToMonitoringTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Poll(ctx, fastMonitor, nil, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrMonitoringTimeout)
}

func TestPollCancelledTombstone(t *testing.T) {
	err := Poll(context.Background(), fastMonitor, func() bool { return true },
		func(ctx context.Context) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestServiceURL(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]any
		wantBase  string
		wantID    string
		wantError bool
	}{
		{
			"full process url",
			map[string]any{"process": "https://remote.example.com/ogcapi/processes/subset"},
			"https://remote.example.com/ogcapi", "subset", false,
		},
		{
			"provider plus identifier",
			map[string]any{"provider": "https://remote.example.com/wps/", "process": "subset"},
			"https://remote.example.com/wps", "subset", false,
		},
		{
			"process url without processes segment",
			map[string]any{"process": "https://remote.example.com/wps"},
			"https://remote.example.com/wps", "", false,
		},
		{
			"no provider",
			map[string]any{"process": "subset"},
			"", "", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, id, err := serviceURL(appkg.Requirement{Class: appkg.RequirementWPS1, Params: tt.params})
			if tt.wantError {
				assert.ErrorIs(t, err, ErrServiceNotAccessible)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRunPhasesReportsMarkers(t *testing.T) {
	var marks []int
	req := &Request{Progress: func(p int, _ string) { marks = append(marks, p) }}

	err := runPhases(context.Background(), req, testLogger(), []phase{
		{"prepare", markerPrepare, func(ctx context.Context) (bool, error) { return false, nil }},
		{"dispatch", markerDispatch, func(ctx context.Context) (bool, error) { return false, nil }},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{markerPrepare, markerDispatch, markerDone}, marks)
}

func TestRunPhasesCancellation(t *testing.T) {
	ran := false
	req := &Request{Cancelled: func() bool { return true }}
	err := runPhases(context.Background(), req, testLogger(), []phase{
		{"prepare", markerPrepare, func(ctx context.Context) (bool, error) { ran = true; return false, nil }},
	}, nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, ran)
}

func TestRunPhasesCleanupAlwaysRuns(t *testing.T) {
	cleaned := false
	err := runPhases(context.Background(), &Request{}, testLogger(), []phase{
		{"boom", markerPrepare, func(ctx context.Context) (bool, error) { return false, errors.New("boom") }},
	}, func() { cleaned = true })
	assert.Error(t, err)
	assert.True(t, cleaned)
}
