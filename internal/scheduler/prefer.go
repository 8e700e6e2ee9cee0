// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/crim-ca/weaver-sub003/internal/appkg"
)

// ErrControlUnsupported marks a submission whose requested execution mode
// conflicts with the process job control options.
var ErrControlUnsupported = errors.New("unsupported job control option")

// Preference is the parsed Prefer request header.
type Preference struct {
	RespondAsync bool
	Wait         time.Duration
	HasWait      bool
}

// ParsePrefer parses "Prefer: respond-async, wait=10" style headers.
// Unknown tokens are ignored.
func ParsePrefer(header string) Preference {
	var pref Preference
	for _, token := range strings.Split(header, ",") {
		token = strings.TrimSpace(strings.ToLower(token))
		switch {
		case token == "respond-async":
			pref.RespondAsync = true
		case strings.HasPrefix(token, "wait="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(token, "wait=")); err == nil && secs >= 0 {
				pref.Wait = time.Duration(secs) * time.Second
				pref.HasWait = true
			}
		}
	}
	return pref
}

// Negotiated is the resolved execution mode of one submission.
type Negotiated struct {
	Async bool
	// Wait is the bounded synchronous window, zero when async.
	Wait time.Duration
	// Applied echoes back the honored preference, empty when none.
	Applied string
}

// Negotiate resolves the client preference against the process job control
// options and the server synchronous ceiling. A process supporting only
// asynchronous execution forces async regardless of the preference; a
// wait of zero is an async submission.
func Negotiate(pref Preference, proc *appkg.Process, maxWait time.Duration) (Negotiated, error) {
	supportsSync := proc.SupportsControl(appkg.ControlSync)
	supportsAsync := proc.SupportsControl(appkg.ControlAsync)
	if !supportsSync && !supportsAsync {
		return Negotiated{}, ErrControlUnsupported
	}

	wantsSync := pref.HasWait && pref.Wait > 0 && !pref.RespondAsync

	switch {
	case wantsSync && supportsSync:
		wait := pref.Wait
		if wait > maxWait {
			wait = maxWait
		}
		return Negotiated{Wait: wait, Applied: "wait=" + strconv.Itoa(int(wait.Seconds()))}, nil
	case wantsSync && !supportsSync:
		// The process cannot execute synchronously; fall back to async and
		// tell the client which preference actually applied.
		return Negotiated{Async: true, Applied: "respond-async"}, nil
	case pref.RespondAsync:
		if !supportsAsync {
			return Negotiated{}, ErrControlUnsupported
		}
		return Negotiated{Async: true, Applied: "respond-async"}, nil
	default:
		if supportsAsync {
			return Negotiated{Async: true}, nil
		}
		// Sync-only process with no stated preference: bounded sync wait.
		return Negotiated{Wait: maxWait}, nil
	}
}
