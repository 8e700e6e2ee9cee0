// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/api/models"
	"github.com/crim-ca/weaver-sub003/internal/appkg"
	"github.com/crim-ca/weaver-sub003/internal/logging"
)

// splitProcessRef splits a "{id}:{version}" path value into its parts.
func splitProcessRef(ref string) (id, version string) {
	if i := strings.LastIndex(ref, ":"); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// ListProcesses serves the public process catalog.
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := h.store.ListProcesses(r.Context(), true)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	base := h.baseURL(r)
	doc := models.ProcessList{Processes: make([]models.ProcessSummary, 0, len(procs))}
	for _, proc := range procs {
		doc.Processes = append(doc.Processes, models.NewProcessSummary(proc, base))
	}
	doc.Links = []models.Link{{Href: base + "/processes", Rel: "self", Type: "application/json"}}
	writeJSON(w, http.StatusOK, doc)
}

// DeployProcess registers a new process from an application package.
func (h *Handler) DeployProcess(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req models.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid deploy body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	meta := req.ProcessDescription.Metadata()

	proc, err := h.buildProcess(r.Context(), &req, meta, r.Header.Get("X-Auth-Docker"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}

	if err := h.store.SaveProcess(r.Context(), proc); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	logger.Info("process deployed", "process_id", proc.ID, "version", proc.Version,
		"principal", proc.Principal.Class)

	w.Header().Set("Location", fmt.Sprintf("%s/processes/%s", h.baseURL(r), proc.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"processSummary": models.NewProcessSummary(proc, h.baseURL(r)),
		"deploymentDone": true,
	})
}

// buildProcess normalizes the deploy request into a stored process.
func (h *Handler) buildProcess(ctx context.Context, req *models.DeployRequest,
	meta models.ProcessMetadata, dockerAuthHeader string) (*appkg.Process, error) {
	unit := req.ExecutionUnit[0]
	var (
		pkg *appkg.Package
		err error
	)
	if len(unit.Unit) > 0 {
		doc, mErr := json.Marshal(unit.Unit)
		if mErr != nil {
			return nil, fmt.Errorf("%w: %v", appkg.ErrPackageType, mErr)
		}
		pkg, err = h.loader.LoadInline(doc)
	} else {
		pkg, err = h.loader.LoadReference(ctx, unit.Href)
	}
	if err != nil {
		return nil, err
	}

	principal, err := appkg.ExtractPrincipal(pkg)
	if err != nil {
		return nil, err
	}
	if err := appkg.CheckCompatibility(principal, h.cfg.DeploymentMode()); err != nil {
		return nil, err
	}
	auth, err := appkg.ExtractDockerAuth(dockerAuthHeader, principal)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := mergeDescriptionIO(pkg, meta)
	if err != nil {
		return nil, err
	}

	proc := &appkg.Process{
		ID:                 meta.ID,
		Version:            meta.Version,
		Title:              meta.Title,
		Abstract:           meta.Abstract,
		Keywords:           meta.Keywords,
		Package:            pkg,
		Inputs:             inputs,
		Outputs:            outputs,
		Principal:          principal,
		Auth:               auth,
		Visibility:         appkg.VisibilityPrivate,
		JobControlOptions:  []string{appkg.ControlAsync, appkg.ControlSync},
		OutputTransmission: []string{"value", "reference"},
	}

	if pkg.Class == appkg.ClassWorkflow {
		if _, err := h.loader.ResolveSteps(ctx, pkg); err != nil {
			return nil, err
		}
	}
	return proc, nil
}

// mergeDescriptionIO overlays the deploy body's OGC-style I/O metadata onto
// the package definitions.
func mergeDescriptionIO(pkg *appkg.Package, meta models.ProcessMetadata) ([]appkg.InputDef, []appkg.OutputDef, error) {
	if len(meta.Inputs) == 0 && len(meta.Outputs) == 0 {
		inputs, outputs := appkg.MergeIO(pkg, nil, nil)
		return inputs, outputs, nil
	}
	doc := map[string]json.RawMessage{"id": json.RawMessage(`"` + meta.ID + `"`)}
	doc["inputs"] = meta.Inputs
	if len(meta.Inputs) == 0 {
		doc["inputs"] = json.RawMessage(`{}`)
	}
	if len(meta.Outputs) > 0 {
		doc["outputs"] = meta.Outputs
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", appkg.ErrPackageRegistration, err)
	}
	peer, err := appkg.ParseDocument(data, appkg.FormatJSON)
	if err != nil {
		return nil, nil, err
	}
	inputs, outputs := appkg.MergeIO(pkg, peer.Inputs, peer.Outputs)
	return inputs, outputs, nil
}

// fetchVisible loads a process and enforces its visibility.
func (h *Handler) fetchVisible(ctx context.Context, ref string) (*appkg.Process, error) {
	id, version := splitProcessRef(ref)
	proc, err := h.store.FetchProcess(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if proc.Visibility != appkg.VisibilityPublic {
		return nil, fmt.Errorf("%w: %s", appkg.ErrProcessNotAccessible, id)
	}
	return proc, nil
}

// DescribeProcess serves the full process description.
func (h *Handler) DescribeProcess(w http.ResponseWriter, r *http.Request) {
	proc, err := h.fetchVisible(r.Context(), r.PathValue("processID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, models.NewProcessDescription(proc, h.baseURL(r)))
}

// GetPackage serves the raw application package of a process.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	proc, err := h.fetchVisible(r.Context(), r.PathValue("processID"))
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, proc.Package)
}

// SetVisibility toggles whether a process is listed and executable.
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req models.VisibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid visibility body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	id, version := splitProcessRef(r.PathValue("processID"))
	if err := h.store.SetVisibility(r.Context(), id, version, appkg.Visibility(req.Value)); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": req.Value})
}

// UndeployProcess removes a deployed process. Builtin processes are immutable.
func (h *Handler) UndeployProcess(w http.ResponseWriter, r *http.Request) {
	id, version := splitProcessRef(r.PathValue("processID"))
	proc, err := h.store.FetchProcess(r.Context(), id, version)
	if err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	if proc.Principal.Class == appkg.RequirementBuiltin {
		writeException(w, models.NewException(http.StatusForbidden, "ImmutableProcess",
			models.TypeImmutableProcess, fmt.Sprintf("process %s is builtin and cannot be undeployed", id)))
		return
	}
	if err := h.store.DeleteProcess(r.Context(), id, version); err != nil {
		writeException(w, exceptionOf(err))
		return
	}
	logging.FromContext(r.Context()).Info("process undeployed", "process_id", id, "version", version)
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier":       id,
		"undeploymentDone": true,
	})
}
