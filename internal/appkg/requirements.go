// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

import (
	"fmt"
	"strings"

	"github.com/crim-ca/weaver-sub003/internal/config"
)

// Placement classifies where a loaded package may execute.
type Placement string

const (
	// PlacementRemote requires dispatch to an external provider.
	PlacementRemote Placement = "always-remote"
	// PlacementLocal can run on this instance.
	PlacementLocal Placement = "local-capable"
	// PlacementAmbiguous could run either way.
	PlacementAmbiguous Placement = "ambiguous"
)

// ExtractPrincipal validates the union of requirements and hints and returns
// the single principal application requirement. A Workflow class acts as its
// own principal. All remaining entries must belong to the auxiliary set.
func ExtractPrincipal(pkg *Package) (Requirement, error) {
	if pkg.Class == ClassWorkflow {
		for _, req := range append(append([]Requirement{}, pkg.Requirements...), pkg.Hints...) {
			if PrincipalRequirements[req.Class] {
				return Requirement{}, fmt.Errorf("%w: workflow class cannot carry %s",
					ErrInvalidRequirement, req.Class)
			}
			if !AuxiliaryRequirements[req.Class] {
				return Requirement{}, fmt.Errorf("%w: unsupported requirement %q",
					ErrInvalidRequirement, req.Class)
			}
		}
		return Requirement{Class: string(ClassWorkflow)}, nil
	}

	var principal *Requirement
	for _, req := range append(append([]Requirement{}, pkg.Requirements...), pkg.Hints...) {
		req := req
		switch {
		case PrincipalRequirements[req.Class]:
			if principal != nil {
				return Requirement{}, fmt.Errorf("%w: multiple principal requirements (%s, %s)",
					ErrInvalidRequirement, principal.Class, req.Class)
			}
			principal = &req
		case AuxiliaryRequirements[req.Class]:
			// supported auxiliary, nothing to validate here
		default:
			return Requirement{}, fmt.Errorf("%w: unsupported requirement %q",
				ErrInvalidRequirement, req.Class)
		}
	}

	if principal == nil {
		// A plain CommandLineTool without hints runs locally as a builtin-style
		// subprocess; keep an explicit principal so dispatch never guesses.
		return Requirement{Class: RequirementBuiltin}, nil
	}
	return *principal, nil
}

// Classify returns the placement of a process given its principal requirement.
func Classify(principal Requirement) Placement {
	switch principal.Class {
	case RequirementWPS1, RequirementESGFCWT, RequirementOGCAPI, string(ClassWorkflow):
		return PlacementRemote
	case RequirementBuiltin, RequirementDocker:
		return PlacementLocal
	default:
		return PlacementAmbiguous
	}
}

// CheckCompatibility fails a deployment whose placement the instance mode
// cannot serve.
func CheckCompatibility(principal Requirement, mode config.Mode) error {
	switch Classify(principal) {
	case PlacementRemote:
		if !mode.RemoteCapable() {
			return fmt.Errorf("%w: %s requires remote dispatch but mode is %s",
				ErrIncompatibleDeploy, principal.Class, mode)
		}
	case PlacementLocal:
		if !mode.LocalCapable() {
			return fmt.Errorf("%w: %s requires local execution but mode is %s",
				ErrIncompatibleDeploy, principal.Class, mode)
		}
	}
	return nil
}

// ExtractDockerAuth builds registry credentials from an X-Auth-Docker header
// value when the principal requirement is Docker. Only the Basic scheme is
// accepted.
func ExtractDockerAuth(header string, principal Requirement) (*DockerAuth, error) {
	if header == "" || principal.Class != RequirementDocker {
		return nil, nil
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: malformed X-Auth-Docker header", ErrPackageAuth)
	}
	if !strings.EqualFold(scheme, "Basic") {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidAuthScheme, scheme)
	}

	link, _ := principal.Params["dockerPull"].(string)
	if link == "" {
		return nil, fmt.Errorf("%w: DockerRequirement has no dockerPull reference", ErrPackageAuth)
	}

	return &DockerAuth{Scheme: "Basic", Token: strings.TrimSpace(token), Link: link}, nil
}
