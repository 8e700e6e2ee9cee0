// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/crim-ca/weaver-sub003/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FormatSpec selects an output format at submission.
type FormatSpec struct {
	MediaType string `json:"mediaType,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Schema    string `json:"schema,omitempty"`
}

// OutputSpec configures one requested output.
type OutputSpec struct {
	TransmissionMode string      `json:"transmissionMode,omitempty" validate:"omitempty,oneof=value reference"`
	Format           *FormatSpec `json:"format,omitempty"`
}

// SubscribersRequest holds the notification targets of a submission.
type SubscribersRequest struct {
	SuccessURI      string `json:"successUri,omitempty" validate:"omitempty,url"`
	FailedURI       string `json:"failedUri,omitempty" validate:"omitempty,url"`
	InProgressURI   string `json:"inProgressUri,omitempty" validate:"omitempty,url"`
	SuccessEmail    string `json:"successEmail,omitempty" validate:"omitempty,email"`
	FailedEmail     string `json:"failedEmail,omitempty" validate:"omitempty,email"`
	InProgressEmail string `json:"inProgressEmail,omitempty" validate:"omitempty,email"`
}

// ExecuteRequest is the job submission body.
type ExecuteRequest struct {
	Inputs   map[string]any        `json:"inputs"`
	Outputs  map[string]OutputSpec `json:"outputs,omitempty"`
	Response string                `json:"response,omitempty" validate:"omitempty,oneof=raw document"`
	Mode     string                `json:"mode,omitempty" validate:"omitempty,oneof=sync async auto"`

	Subscribers *SubscribersRequest `json:"subscribers,omitempty"`
	// NotificationEmail is the back-compat alias for success and failure
	// email targets.
	NotificationEmail string `json:"notification_email,omitempty" validate:"omitempty,email"`
}

// Validate checks the request shape; alias resolution happens after.
func (r *ExecuteRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid execute request: %w", err)
	}
	return nil
}

// ResolveSubscribers merges the notification_email alias into the subscriber
// set and returns the plaintext store form.
func (r *ExecuteRequest) ResolveSubscribers() *store.Subscribers {
	subs := &store.Subscribers{}
	if r.Subscribers != nil {
		subs.SuccessURI = r.Subscribers.SuccessURI
		subs.FailedURI = r.Subscribers.FailedURI
		subs.InProgressURI = r.Subscribers.InProgressURI
		subs.SuccessEmail = r.Subscribers.SuccessEmail
		subs.FailedEmail = r.Subscribers.FailedEmail
		subs.InProgressEmail = r.Subscribers.InProgressEmail
	}
	if r.NotificationEmail != "" {
		if subs.SuccessEmail == "" {
			subs.SuccessEmail = r.NotificationEmail
		}
		if subs.FailedEmail == "" {
			subs.FailedEmail = r.NotificationEmail
		}
	}
	if subs.Empty() {
		return nil
	}
	return subs
}

// ResponseMode returns the effective response mode, defaulting to document.
func (r *ExecuteRequest) ResponseMode() string {
	if r.Response == "" {
		return store.ResponseDocument
	}
	return r.Response
}

// DeployRequest is the process deployment body.
type DeployRequest struct {
	ProcessDescription    *ProcessDescriptionBody `json:"processDescription" validate:"required"`
	ExecutionUnit         []ExecutionUnit         `json:"executionUnit" validate:"required,min=1"`
	DeploymentProfileName string                  `json:"deploymentProfileName,omitempty"`
}

// ProcessDescriptionBody wraps the deployed process metadata. Both the
// nested {process: {...}} and the flattened form are accepted.
type ProcessDescriptionBody struct {
	Process  *ProcessMetadata `json:"process,omitempty"`
	ID       string           `json:"id,omitempty"`
	Title    string           `json:"title,omitempty"`
	Abstract string           `json:"abstract,omitempty"`
	Version  string           `json:"processVersion,omitempty"`
	Inputs   json.RawMessage  `json:"inputs,omitempty"`
	Outputs  json.RawMessage  `json:"outputs,omitempty"`
}

// Metadata resolves the effective process metadata.
func (b *ProcessDescriptionBody) Metadata() ProcessMetadata {
	if b.Process != nil {
		return *b.Process
	}
	return ProcessMetadata{
		ID: b.ID, Title: b.Title, Abstract: b.Abstract, Version: b.Version,
		Inputs: b.Inputs, Outputs: b.Outputs,
	}
}

// ProcessMetadata is the deploy-time process identification. Inputs and
// Outputs, when present, are OGC-style I/O maps merged over the package's
// own definitions.
type ProcessMetadata struct {
	ID       string          `json:"id"`
	Title    string          `json:"title,omitempty"`
	Abstract string          `json:"abstract,omitempty"`
	Version  string          `json:"processVersion,omitempty"`
	Keywords []string        `json:"keywords,omitempty"`
	Inputs   json.RawMessage `json:"inputs,omitempty"`
	Outputs  json.RawMessage `json:"outputs,omitempty"`
}

// ExecutionUnit carries the application package, inline or by reference.
type ExecutionUnit struct {
	Unit map[string]any `json:"unit,omitempty"`
	Href string         `json:"href,omitempty"`
}

// Validate checks the deploy request shape.
func (r *DeployRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid deploy request: %w", err)
	}
	meta := r.ProcessDescription.Metadata()
	if meta.ID == "" {
		return fmt.Errorf("invalid deploy request: processDescription names no process id")
	}
	unit := r.ExecutionUnit[0]
	if len(unit.Unit) == 0 && unit.Href == "" {
		return fmt.Errorf("invalid deploy request: executionUnit carries neither unit nor href")
	}
	return nil
}

// VisibilityRequest toggles process visibility.
type VisibilityRequest struct {
	Value string `json:"value" validate:"required,oneof=public private"`
}

// Validate checks the visibility request.
func (r *VisibilityRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid visibility request: %w", err)
	}
	return nil
}

// ProviderRequest registers a remote provider.
type ProviderRequest struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
	Type string `json:"type,omitempty" validate:"omitempty,oneof=WPS-1 WPS-2 OAP"`
}

// Validate checks the provider registration.
func (r *ProviderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid provider request: %w", err)
	}
	return nil
}
