// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDefaultsShutdownTimeout(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, http.NewServeMux(), testLogger())
	assert.Equal(t, DefaultShutdownTimeout, srv.shutdownTimeout)

	srv = New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, http.NewServeMux(), testLogger())
	assert.Equal(t, time.Second, srv.shutdownTimeout)
}

func TestRunShutdownRunsDrainHooksInOrder(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		http.NewServeMux(), testLogger())

	var order []string
	srv.OnDrained(func(context.Context) { order = append(order, "workers") })
	srv.OnDrained(func(context.Context) { order = append(order, "store") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, []string{"workers", "store"}, order)
}

func TestRunListenFailureStillDrains(t *testing.T) {
	// Occupy a port so ListenAndServe fails immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(Config{Addr: ln.Addr().String(), ShutdownTimeout: time.Second},
		http.NewServeMux(), testLogger())
	var drained bool
	srv.OnDrained(func(context.Context) { drained = true })

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.True(t, drained)
}
