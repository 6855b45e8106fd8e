package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/learnsphere/learnsphere-core/pkg/circuitbreaker"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
	"github.com/learnsphere/learnsphere-core/pkg/retry"
)

// MailSender is the part of the SendGrid client used here.
type MailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridConfig holds the sender identity.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string

	// Breaker guards the API. Nil uses circuitbreaker.SendGridBreaker.
	Breaker *circuitbreaker.CircuitBreaker
}

// SendGridNotifier sends emails through the SendGrid v3 API.
type SendGridNotifier struct {
	client  MailSender
	from    *mail.Email
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// ErrMissingAPIKey is returned when no SendGrid key is configured.
var ErrMissingAPIKey = errors.New("notify: missing SENDGRID_API_KEY")

// NewSendGridNotifier builds a notifier on the official client.
func NewSendGridNotifier(cfg SendGridConfig, log *logger.Logger) (*SendGridNotifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return NewSendGridNotifierWithClient(sendgrid.NewSendClient(cfg.APIKey), cfg, log), nil
}

// NewSendGridNotifierWithClient builds a notifier on any MailSender.
// opts tune the retry policy.
func NewSendGridNotifierWithClient(client MailSender, cfg SendGridConfig, log *logger.Logger, opts ...retry.Option) *SendGridNotifier {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("notify.sendgrid"))

	opts = append([]retry.Option{retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("sendgrid send retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})}, opts...)

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.SendGridBreaker(countsAsOutage, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}

	return &SendGridNotifier{
		client:  client,
		from:    mail.NewEmail(cfg.FromName, cfg.FromEmail),
		retrier: retry.NotifierRetrier(opts...),
		breaker: breaker,
		logger:  log,
	}
}

// HTTPError is a non-2xx answer from SendGrid.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, body)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// countsAsOutage is false for 4xx answers other than 429: the request was
// bad, the service is up.
func countsAsOutage(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.StatusCode)
	}
	return !errors.Is(err, context.Canceled)
}

func (n *SendGridNotifier) send(ctx context.Context, to, name string, r rendered) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("notify: recipient required")
	}
	msg := mail.NewSingleEmail(n.from, r.subject, mail.NewEmail(name, to), r.text, r.html)

	// One breaker call per email: the retries inside count as a single outcome.
	err := n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.retrier.Do(ctx, func(ctx context.Context) error {
			resp, err := n.client.SendWithContext(ctx, msg)
			if err != nil {
				return retry.Retryable(fmt.Errorf("sendgrid: %w", err))
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: resp.Body}
			if retryableStatus(resp.StatusCode) {
				return retry.Retryable(httpErr)
			}
			return httpErr
		})
	})
	if circuitbreaker.IsRejection(err) {
		return fmt.Errorf("notify: sendgrid unavailable: %w", err)
	}
	return err
}

// SendEnrollmentEmail sends the enrollment confirmation. Bulk enrollments add
// a line saying the instructor enrolled the student.
func (n *SendGridNotifier) SendEnrollmentEmail(ctx context.Context, msg EnrollmentEmail) error {
	if err := n.send(ctx, msg.To, msg.StudentName, renderEnrollment(msg)); err != nil {
		return err
	}
	n.logger.Debug("enrollment email sent", logger.Email(msg.To))
	return nil
}

// SendCourseCompletedEmail sends the congratulation mail for a finished course.
func (n *SendGridNotifier) SendCourseCompletedEmail(ctx context.Context, msg CourseCompletedEmail) error {
	if err := n.send(ctx, msg.To, msg.StudentName, renderCompletion(msg)); err != nil {
		return err
	}
	n.logger.Debug("course completion email sent", logger.Email(msg.To))
	return nil
}

// SendCourseMessage sends an instructor message to one attendee. The subject
// is prefixed with the course title and the body is escaped in the HTML part.
func (n *SendGridNotifier) SendCourseMessage(ctx context.Context, msg CourseMessage) error {
	if err := n.send(ctx, msg.To, msg.StudentName, renderCourseMessage(msg)); err != nil {
		return err
	}
	n.logger.Debug("course message sent", logger.Email(msg.To))
	return nil
}
