// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Preference
	}{
		{"empty", "", Preference{}},
		{"async", "respond-async", Preference{RespondAsync: true}},
		{"wait", "wait=10", Preference{Wait: 10 * time.Second, HasWait: true}},
		{"both", "respond-async, wait=10", Preference{RespondAsync: true, Wait: 10 * time.Second, HasWait: true}},
		{"case and spacing", " Respond-Async ,  WAIT=5", Preference{RespondAsync: true, Wait: 5 * time.Second, HasWait: true}},
		{"unknown tokens ignored", "return=minimal, wait=3", Preference{Wait: 3 * time.Second, HasWait: true}},
		{"negative wait ignored", "wait=-1", Preference{}},
		{"malformed wait ignored", "wait=abc", Preference{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrefer(tt.header))
		})
	}
}

func procWith(options ...string) *appkg.Process {
	return &appkg.Process{ID: "p", JobControlOptions: options}
}

func TestNegotiate(t *testing.T) {
	maxWait := 60 * time.Second

	tests := []struct {
		name string
		pref Preference
		proc *appkg.Process
		want Negotiated
	}{
		{
			"no preference defaults to async",
			Preference{},
			procWith(appkg.ControlSync, appkg.ControlAsync),
			Negotiated{Async: true},
		},
		{
			"sync wait honored",
			Preference{Wait: 10 * time.Second, HasWait: true},
			procWith(appkg.ControlSync, appkg.ControlAsync),
			Negotiated{Wait: 10 * time.Second, Applied: "wait=10"},
		},
		{
			"wait clipped to server ceiling",
			Preference{Wait: 300 * time.Second, HasWait: true},
			procWith(appkg.ControlSync, appkg.ControlAsync),
			Negotiated{Wait: maxWait, Applied: "wait=60"},
		},
		{
			"zero wait is an async submission",
			Preference{Wait: 0, HasWait: true},
			procWith(appkg.ControlSync, appkg.ControlAsync),
			Negotiated{Async: true},
		},
		{
			"async-only process forces async",
			Preference{Wait: 10 * time.Second, HasWait: true},
			procWith(appkg.ControlAsync),
			Negotiated{Async: true, Applied: "respond-async"},
		},
		{
			"respond-async wins over wait",
			Preference{RespondAsync: true, Wait: 10 * time.Second, HasWait: true},
			procWith(appkg.ControlSync, appkg.ControlAsync),
			Negotiated{Async: true, Applied: "respond-async"},
		},
		{
			"sync-only process gets bounded wait",
			Preference{},
			procWith(appkg.ControlSync),
			Negotiated{Wait: maxWait},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.pref, tt.proc, maxWait)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNegotiateUnsupported(t *testing.T) {
	_, err := Negotiate(Preference{}, procWith(), 60*time.Second)
	assert.ErrorIs(t, err, ErrControlUnsupported)

	_, err = Negotiate(Preference{RespondAsync: true}, procWith(appkg.ControlSync), 60*time.Second)
	assert.ErrorIs(t, err, ErrControlUnsupported)
}
