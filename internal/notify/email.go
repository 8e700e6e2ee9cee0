// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
	"time"

	"github.com/crim-ca/weaver-sub003/internal/config"
	"github.com/crim-ca/weaver-sub003/internal/store"
)

// defaultTemplate renders when no template directory override matches.
const defaultTemplate = `Job {{.JobID}} of process {{.ProcessID}} finished with status: {{.Status}}.
Progress: {{.Progress}}%
Submitted: {{.Created}}
{{if .Detail}}Detail: {{.Detail}}
{{end}}`

// templateData is the context handed to email templates.
type templateData struct {
	JobID     string
	ProcessID string
	Status    string
	Progress  int
	Created   string
	Detail    string
}

// SendFunc delivers a rendered message; the default opens an SMTP session.
// Tests replace it.
type SendFunc func(to string, subject string, body []byte) error

// Mailer renders and sends subscriber email notifications.
type Mailer struct {
	smtp config.SMTPConfig
	tmpl config.NotifyConfig
	send SendFunc
}

// NewMailer creates a Mailer using the configured SMTP server.
func NewMailer(smtpCfg config.SMTPConfig, tmplCfg config.NotifyConfig) *Mailer {
	m := &Mailer{smtp: smtpCfg, tmpl: tmplCfg}
	m.send = m.sendSMTP
	return m
}

// NewMailerWithSender creates a Mailer with a custom delivery function.
func NewMailerWithSender(smtpCfg config.SMTPConfig, tmplCfg config.NotifyConfig, send SendFunc) *Mailer {
	return &Mailer{smtp: smtpCfg, tmpl: tmplCfg, send: send}
}

// Send renders the status template for the job and delivers it to the
// recipient.
func (m *Mailer) Send(job *store.JobRecord, recipient string) error {
	tmpl, err := m.resolveTemplate(job.ProcessID, string(job.Status))
	if err != nil {
		return err
	}

	detail := ""
	if len(job.Exceptions) > 0 {
		detail = job.Exceptions[len(job.Exceptions)-1].Detail
	}
	data := templateData{
		JobID:     job.ID,
		ProcessID: job.ProcessID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Created:   job.CreatedAt.UTC().Format(time.RFC3339),
		Detail:    detail,
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render notification template: %w", err)
	}

	subject := fmt.Sprintf("Job %s %s", job.ProcessID, job.Status)
	return m.send(recipient, subject, body.Bytes())
}

// resolveTemplate looks up the notification template by precedence:
// {dir}/{processId}/{status}.tmpl, {dir}/{processId}.tmpl, the configured
// default file, then the built-in default.
func (m *Mailer) resolveTemplate(processID, status string) (*template.Template, error) {
	if m.tmpl.TemplateDir != "" {
		candidates := []string{
			filepath.Join(m.tmpl.TemplateDir, processID, status+".tmpl"),
			filepath.Join(m.tmpl.TemplateDir, processID+".tmpl"),
		}
		if m.tmpl.DefaultTemplate != "" {
			candidates = append(candidates, filepath.Join(m.tmpl.TemplateDir, m.tmpl.DefaultTemplate))
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				return template.ParseFiles(path)
			}
		}
	}
	return template.New("default").Parse(defaultTemplate)
}

// sendSMTP opens the mail session with TLS-if-available, or an implicit TLS
// connection when SSL is configured.
func (m *Mailer) sendSMTP(to, subject string, body []byte) error {
	addr := net.JoinHostPort(m.smtp.Host, strconv.Itoa(m.smtp.Port))

	msg := bytes.Buffer{}
	fmt.Fprintf(&msg, "From: %s\r\n", m.smtp.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.Write(body)

	var client *smtp.Client
	var err error
	if m.smtp.SSL {
		conn, dialErr := tls.DialWithDialer(
			&net.Dialer{Timeout: m.smtp.Timeout}, "tcp", addr,
			&tls.Config{ServerName: m.smtp.Host})
		if dialErr != nil {
			return fmt.Errorf("failed to open SMTPS connection: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, m.smtp.Host)
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to open SMTP session: %w", err)
	}
	defer client.Close()

	if !m.smtp.SSL {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.smtp.Host}); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if m.smtp.Password != "" {
		auth := smtp.PlainAuth("", m.smtp.From, m.smtp.Password, m.smtp.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("SMTP authentication failed: %w", err)
			}
		}
	}

	if err := client.Mail(m.smtp.From); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}
