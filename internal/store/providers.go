// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// SaveProvider registers (or replaces) a remote provider.
func (s *Store) SaveProvider(ctx context.Context, provider *ProviderRecord) error {
	if err := s.db.WithContext(ctx).Save(provider).Error; err != nil {
		return fmt.Errorf("failed to save provider %s: %w", provider.Name, err)
	}
	return nil
}

// FetchProvider loads a provider by name.
func (s *Store) FetchProvider(ctx context.Context, name string) (*ProviderRecord, error) {
	var provider ProviderRecord
	err := s.db.WithContext(ctx).First(&provider, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchProvider, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider %s: %w", name, err)
	}
	return &provider, nil
}

// ListProviders returns all registered providers.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	var providers []ProviderRecord
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// DeleteProvider removes a registered provider.
func (s *Store) DeleteProvider(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Delete(&ProviderRecord{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("failed to delete provider %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchProvider, name)
	}
	return nil
}
