// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package store persists processes, jobs, job logs and remote providers in a
// sqlite-backed document store.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNoSuchJob       = errors.New("no such job")
	ErrNoSuchProcess   = errors.New("no such process")
	ErrNoSuchProvider  = errors.New("no such provider")
	ErrProcessConflict = errors.New("process already deployed")
	ErrStaleRevision   = errors.New("job revision is stale")
)

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Use ":memory:" for tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&ProcessRecord{}, &JobRecord{}, &JobLogRecord{}, &ProviderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: log.With("module", "store")}, nil
}

// Reopen returns a fresh handle over the same underlying database. The
// execution engine reopens the store at job setup so worker processes never
// share a connection with the front-end.
func (s *Store) Reopen() (*Store, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite shares the handle; a new session is enough isolation here.
	_ = sqlDB
	return &Store{db: s.db.Session(&gorm.Session{NewDB: true}), logger: s.logger}, nil
}
