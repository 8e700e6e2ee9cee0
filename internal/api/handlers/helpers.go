// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/ioconv"
	"github.com/crim-ca/weaver-sub003/internal/provider"
	"github.com/crim-ca/weaver-sub003/internal/scheduler"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data) // Ignore encoding errors for response
}

func writeException(w http.ResponseWriter, exc *models.Exception) {
	writeJSON(w, exc.Status, exc)
}

// exceptionOf maps a domain error chain to its exception document.
func exceptionOf(err error) *models.Exception {
	switch {
	case errors.Is(err, store.ErrNoSuchProcess), errors.Is(err, appkg.ErrPackageNotFound):
		return models.NewException(http.StatusNotFound, "NoSuchProcess", models.TypeNoSuchProcess, err.Error())
	case errors.Is(err, store.ErrNoSuchJob):
		return models.NewException(http.StatusNotFound, "NoSuchJob", models.TypeNoSuchJob, err.Error())
	case errors.Is(err, store.ErrNoSuchProvider):
		return models.NewException(http.StatusNotFound, "NoSuchProvider", "", err.Error())
	case errors.Is(err, store.ErrProcessConflict):
		return models.NewException(http.StatusConflict, "DuplicatedProcess", models.TypeDuplicatedProcess, err.Error())
	case errors.Is(err, appkg.ErrProcessNotAccessible):
		return models.NewException(http.StatusForbidden, "ProcessNotAccessible", "", err.Error())
	case errors.Is(err, appkg.ErrIncompatibleDeploy):
		return models.NewException(http.StatusBadRequest, "DeploymentIncompatible", models.TypeInvalidParameter, err.Error())
	case errors.Is(err, appkg.ErrInvalidRequirement),
		errors.Is(err, appkg.ErrPackageType),
		errors.Is(err, appkg.ErrPackageRegistration),
		errors.Is(err, appkg.ErrWorkflowCycle):
		return models.NewException(http.StatusBadRequest, "PackageRegistrationError", models.TypeInvalidParameter, err.Error())
	case errors.Is(err, appkg.ErrInvalidAuthScheme), errors.Is(err, appkg.ErrPackageAuth):
		return models.NewException(http.StatusForbidden, "PackageAuthenticationError", "", err.Error())
	case errors.Is(err, ioconv.ErrInvalidIdentifier):
		return models.NewException(http.StatusBadRequest, "InvalidIdentifierValue", models.TypeInvalidParameter, err.Error())
	case errors.Is(err, ioconv.ErrInvalidValue):
		return models.NewException(http.StatusBadRequest, "InvalidParameterValue", models.TypeInvalidParameter, err.Error())
	case errors.Is(err, ioconv.ErrUnsupportedMediaType):
		return models.NewException(http.StatusUnsupportedMediaType, "UnsupportedMediaType", models.TypeInvalidParameter, err.Error())
	case errors.Is(err, provider.ErrProviderUnreachable):
		return models.NewException(http.StatusBadGateway, "ProviderNotAccessible", "", err.Error())
	case errors.Is(err, scheduler.ErrControlUnsupported):
		return models.NewException(http.StatusBadRequest, "JobInvalidParameter", models.TypeUnsupportedControl, err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		return models.NewException(http.StatusServiceUnavailable, "ServerBusy", "", err.Error())
	case errors.Is(err, scheduler.ErrAlreadyTerminal):
		return models.NewException(http.StatusConflict, "JobNotRunning", "", err.Error())
	default:
		return models.NewException(http.StatusInternalServerError, "InternalServerError", "", err.Error())
	}
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeException(w, models.NewException(http.StatusBadRequest, "InvalidParameterValue", models.TypeInvalidParameter, detail))
}
