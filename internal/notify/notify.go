// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// Notifier fans out subscriber notifications for a job's final status
// category. Every delivery error is logged and swallowed.
type Notifier struct {
	mailer *Mailer
	client *http.Client
	secret string
	logger *slog.Logger
}

// New creates a Notifier.
func New(cfg *config.Config, mailer *Mailer, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		mailer: mailer,
		client: client,
		secret: cfg.Notify.EncryptSecret,
		logger: logger.With("module", "notify"),
	}
}

// Notify sends each target configured for the job's status category. The
// payload is the job status document for non-success categories and the
// results document on success.
func (n *Notifier) Notify(ctx context.Context, job *store.JobRecord, payload any) {
	if job.Subscribers.Empty() {
		return
	}

	uri, email := targetsFor(job.Subscribers, job.Status.Category())

	if uri != "" {
		if err := n.postCallback(ctx, uri, payload); err != nil {
			n.logger.Warn("callback notification failed", "job", job.ID, "uri", uri, "error", err)
		}
	}
	if email != "" {
		recipient, err := Decrypt(email, n.secret)
		if err != nil {
			n.logger.Warn("failed to decrypt subscriber email", "job", job.ID, "error", err)
			return
		}
		if err := n.mailer.Send(job, recipient); err != nil {
			n.logger.Warn("email notification failed", "job", job.ID, "error", err)
		}
	}
}

func targetsFor(subs *store.Subscribers, category store.Category) (uri, email string) {
	switch category {
	case store.CategorySuccess:
		return subs.SuccessURI, subs.SuccessEmail
	case store.CategoryFailed:
		return subs.FailedURI, subs.FailedEmail
	default:
		return subs.InProgressURI, subs.InProgressEmail
	}
}

func (n *Notifier) postCallback(ctx context.Context, uri string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

// EncryptSubscribers encrypts every email target in place using the
// configured secret, leaving callback URLs untouched.
func EncryptSubscribers(subs *store.Subscribers, secret string, rounds int) error {
	if subs == nil {
		return nil
	}
	for _, field := range []*string{&subs.SuccessEmail, &subs.FailedEmail, &subs.InProgressEmail} {
		if *field == "" {
			continue
		}
		enc, err := Encrypt(*field, secret, rounds)
		if err != nil {
			return err
		}
		*field = enc
	}
	return nil
}
