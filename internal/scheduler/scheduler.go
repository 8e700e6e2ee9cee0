// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler accepts job submissions, negotiates sync/async
// execution, and feeds a bounded task queue consumed by a worker pool. A
// dismiss request sets a tombstone the engine observes at every suspension
// point.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/metrics"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

var (
	// ErrQueueFull marks a submission rejected because no worker slot is
	// available.
	ErrQueueFull = errors.New("task queue full")
	// ErrSyncTimeout marks a synchronous wait that outlasted its window.
	ErrSyncTimeout = errors.New("synchronous wait expired")
	// ErrAlreadyTerminal marks a dismiss against a finished job.
	ErrAlreadyTerminal = errors.New("job already finished")
)

// Executor runs one job to a terminal status.
type Executor interface {
	Execute(ctx context.Context, jobID string, cancelled func() bool) error
}

// Scheduler owns the task queue, the worker pool, and the cancellation
// registry.
type Scheduler struct {
	cfg      config.WorkerConfig
	store    *store.Store
	executor Executor
	queue    chan string
	logger   *slog.Logger

	mu         sync.Mutex
	tombstones map[string]struct{}
	waiters    map[string]chan struct{}
}

// New creates a Scheduler.
func New(cfg config.WorkerConfig, st *store.Store, executor Executor, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      st,
		executor:   executor,
		queue:      make(chan string, cfg.QueueSize),
		logger:     logger.With("module", "scheduler"),
		tombstones: map[string]struct{}{},
		waiters:    map[string]chan struct{}{},
	}
}

// Run consumes the queue with the configured worker count until the context
// ends, then drains in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Count; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobID := <-s.queue:
					metrics.QueueDepth.Dec()
					s.runJob(ctx, jobID)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) runJob(ctx context.Context, jobID string) {
	defer s.finish(jobID)
	cancelled := func() bool { return s.IsCancelled(jobID) }
	if err := s.executor.Execute(ctx, jobID, cancelled); err != nil {
		s.logger.Error("job execution errored", "job", jobID, "error", err)
	}
}

// Enqueue hands a job to the worker pool without blocking.
func (s *Scheduler) Enqueue(jobID string) error {
	s.mu.Lock()
	s.waiters[jobID] = make(chan struct{})
	s.mu.Unlock()

	select {
	case s.queue <- jobID:
		metrics.QueueDepth.Inc()
		return nil
	default:
		s.finish(jobID)
		return ErrQueueFull
	}
}

// WaitForCompletion blocks until the job reaches a terminal status or the
// wait window expires, returning the fresh job document either way. The
// second return reports whether the job finished inside the window.
func (s *Scheduler) WaitForCompletion(ctx context.Context, jobID string, wait time.Duration) (*store.JobRecord, bool, error) {
	s.mu.Lock()
	done, ok := s.waiters[jobID]
	s.mu.Unlock()

	finished := false
	if !ok {
		finished = true // already drained
	} else {
		select {
		case <-done:
			finished = true
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	job, err := s.store.FetchJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, finished && job.Status.Terminal(), nil
}

// Dismiss sets the cancellation tombstone and, for jobs that never started,
// finalizes the dismissal immediately.
func (s *Scheduler) Dismiss(ctx context.Context, jobID string) (*store.JobRecord, error) {
	job, err := s.store.FetchJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("%w: job %s is %s", ErrAlreadyTerminal, jobID, job.Status)
	}

	s.mu.Lock()
	s.tombstones[jobID] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("dismiss requested", "job", jobID, "status", job.Status)

	if job.Status == store.StatusAccepted {
		// Not picked up yet; the worker will observe the tombstone and skip,
		// but the client deserves the terminal status now.
		now := time.Now().UTC()
		job.Status = store.StatusDismissed
		job.FinishedAt = &now
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		_ = s.store.SaveLog(ctx, &store.JobLogRecord{
			JobID:   jobID,
			Level:   "INFO",
			Message: "job dismissed before start",
			Status:  store.StatusDismissed,
		})
	}
	return job, nil
}

// IsCancelled reports whether a dismiss tombstone exists for the job.
func (s *Scheduler) IsCancelled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tombstones[jobID]
	return ok
}

// finish releases the waiter and tombstone entries of a drained job.
func (s *Scheduler) finish(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.waiters[jobID]; ok {
		close(done)
		delete(s.waiters, jobID)
	}
	delete(s.tombstones, jobID)
}
