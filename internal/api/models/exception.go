// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

// Package models defines the request and response documents of the OGC API
// Processes surface.
package models

// OGC API Processes exception type identifiers.
const (
	exceptionBase = "http://www.opengis.net/def/exceptions/ogcapi-processes-1/1.0/"

	TypeNoSuchProcess      = exceptionBase + "no-such-process"
	TypeNoSuchJob          = exceptionBase + "no-such-job"
	TypeResultsNotReady    = exceptionBase + "result-not-ready"
	TypeInvalidParameter   = exceptionBase + "invalid-parameter"
	TypeDuplicatedProcess  = exceptionBase + "duplicated-process"
	TypeImmutableProcess   = exceptionBase + "immutable-process"
	TypeUnsupportedControl = exceptionBase + "job-control-options"
	TypeGeneric            = "http://www.opengis.net/def/rel/ogc/1.0/exception"
)

// Link is a typed hyperlink.
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Exception is the error document returned on every non-2xx response.
type Exception struct {
	Title  string `json:"title"`
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
	Cause  string `json:"cause,omitempty"`
	Links  []Link `json:"links,omitempty"`
}

// NewException builds an exception document.
func NewException(status int, title, typeURI, detail string) *Exception {
	if typeURI == "" {
		typeURI = TypeGeneric
	}
	return &Exception{Title: title, Type: typeURI, Detail: detail, Status: status}
}

// WithCause attaches the detailed cause chain.
func (e *Exception) WithCause(cause string) *Exception {
	e.Cause = cause
	return e
}
