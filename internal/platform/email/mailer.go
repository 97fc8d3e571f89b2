package email

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/pkg/retry"
)

// Mailer renders templates and sends them in the background with retries.
// Delivery is best-effort: failures are logged and never reach the caller.
type Mailer struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	retry     retry.Config
	wg        sync.WaitGroup
}

func NewMailer(sender Sender, templates *TemplateEngine, logger zerolog.Logger, cfg retry.Config) *Mailer {
	return &Mailer{sender: sender, templates: templates, logger: logger, retry: cfg}
}

// Send queues a templated message to one recipient.
func (m *Mailer) Send(templateID, to string, data map[string]string) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		m.logger.Error().Err(err).Str("template", templateID).Msg("render email")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := retry.Do(ctx, m.retry, func() error {
			return m.sender.SendEmail(ctx, to, subject, body)
		}, func(attempt int, err error, next time.Duration) {
			m.logger.Warn().Err(err).
				Int("attempt", attempt).
				Dur("next", next).
				Str("template", templateID).
				Msg("email send failed, retrying")
		})
		if err != nil {
			m.logger.Error().Err(err).Str("template", templateID).Str("to", to).Msg("email not delivered")
		}
	}()
}

// Wait blocks until queued messages have been attempted.
func (m *Mailer) Wait() {
	m.wg.Wait()
}
