// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"
	"net/http"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/staging"
)

// Set holds one dispatcher per remote protocol.
type Set struct {
	OAP  Dispatcher
	WPS1 Dispatcher
	ESGF Dispatcher
	ADES Dispatcher
}

// NewSet wires the full dispatcher set from shared components.
func NewSet(client *http.Client, fetcher *staging.Fetcher, monitor MonitorConfig, adesCfg config.ADESConfig, logger *slog.Logger) *Set {
	return &Set{
		OAP:  NewOAPDispatcher(client, fetcher, monitor, logger),
		WPS1: NewWPS1Dispatcher(client, fetcher, monitor, logger),
		ESGF: NewESGFDispatcher(client, fetcher, monitor, logger),
		ADES: NewADESDispatcher(client, fetcher, monitor, adesCfg, logger),
	}
}

// ForPrincipal selects the dispatcher serving a principal requirement.
// Docker packages dispatch to a peer ADES; Builtin packages never dispatch.
func (s *Set) ForPrincipal(principal appkg.Requirement) (Dispatcher, bool) {
	switch principal.Class {
	case appkg.RequirementOGCAPI:
		return s.OAP, true
	case appkg.RequirementWPS1:
		return s.WPS1, true
	case appkg.RequirementESGFCWT:
		return s.ESGF, true
	case appkg.RequirementDocker:
		return s.ADES, true
	default:
		return nil, false
	}
}
