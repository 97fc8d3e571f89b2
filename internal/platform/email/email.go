// Package email renders and delivers transactional email such as
// verification and password reset codes.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Template IDs.
const (
	TemplateVerificationCode = "verification-code"
	TemplatePasswordReset    = "password-reset"
	TemplateAccountVerified  = "account-verified"
)

// Sender delivers a single message.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateVerificationCode,
			Subject: "Your verification code",
			Body: "Hello {{first_name}},\n\nYour verification code is {{code}}. " +
				"It expires in {{ttl}}.\n\nIf you did not create an account, ignore this message.",
		},
		{
			ID:      TemplatePasswordReset,
			Subject: "Password reset code",
			Body: "Hello {{first_name}},\n\nUse the code {{code}} to reset your password. " +
				"It expires in {{ttl}}.\n\nIf you did not request a reset, ignore this message.",
		},
		{
			ID:      TemplateAccountVerified,
			Subject: "Your account is active",
			Body:    "Hello {{first_name}},\n\nYour account has been verified. You can now sign in.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Placeholders without a value
// are left as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu        sync.Mutex
	calls     []EmailCall
	FailTimes int
	FailError string
}

func (m *MockSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.FailTimes > 0 {
		m.FailTimes--
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
