// Package notify sends the transactional emails around enrollment and
// course completion.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// Notifier delivers student emails. Callers treat failures as best effort.
type Notifier interface {
	SendEnrollmentEmail(ctx context.Context, msg EnrollmentEmail) error
	SendCourseCompletedEmail(ctx context.Context, msg CourseCompletedEmail) error
	SendCourseMessage(ctx context.Context, msg CourseMessage) error
}

// EnrollmentEmail confirms a new enrollment.
type EnrollmentEmail struct {
	To          string
	StudentName string
	CourseTitle string
	Bulk        bool
}

// CourseCompletedEmail congratulates a student on finishing a course.
type CourseCompletedEmail struct {
	To          string
	StudentName string
	CourseTitle string
}

// CourseMessage is a free-form message to one attendee of a course.
type CourseMessage struct {
	To          string
	StudentName string
	CourseTitle string
	Subject     string
	Body        string
}

type rendered struct {
	subject string
	text    string
	html    string
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

func renderEnrollment(m EnrollmentEmail) rendered {
	name := greetingName(m.StudentName)
	text := fmt.Sprintf("Hi %s,\n\nYou are now enrolled in %q. Your progress is saved as you complete materials.\n", name, m.CourseTitle)
	if m.Bulk {
		text += "\nYour instructor enrolled you in this course.\n"
	}
	return rendered{
		subject: "You're enrolled in " + m.CourseTitle,
		text:    text,
		html: fmt.Sprintf("<p>Hi %s,</p><p>You are now enrolled in <strong>%s</strong>.</p>",
			html.EscapeString(name), html.EscapeString(m.CourseTitle)),
	}
}

func renderCompletion(m CourseCompletedEmail) rendered {
	name := greetingName(m.StudentName)
	return rendered{
		subject: "You completed " + m.CourseTitle,
		text:    fmt.Sprintf("Hi %s,\n\nCongratulations, you completed %q.\n", name, m.CourseTitle),
		html: fmt.Sprintf("<p>Hi %s,</p><p>Congratulations, you completed <strong>%s</strong>.</p>",
			html.EscapeString(name), html.EscapeString(m.CourseTitle)),
	}
}

func renderCourseMessage(m CourseMessage) rendered {
	name := greetingName(m.StudentName)
	paras := strings.Split(strings.TrimSpace(m.Body), "\n\n")
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", html.EscapeString(name))
	for _, p := range paras {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>")
	}
	fmt.Fprintf(&b, "<p>You receive this because you are enrolled in <strong>%s</strong>.</p>", html.EscapeString(m.CourseTitle))
	return rendered{
		subject: fmt.Sprintf("[%s] %s", m.CourseTitle, m.Subject),
		text: fmt.Sprintf("Hi %s,\n\n%s\n\nYou receive this because you are enrolled in %q.\n",
			name, strings.TrimSpace(m.Body), m.CourseTitle),
		html: b.String(),
	}
}

// LogNotifier writes emails to the log instead of sending them.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{logger: log.With(logger.Component("notify.log"))}
}

func (n *LogNotifier) SendEnrollmentEmail(_ context.Context, msg EnrollmentEmail) error {
	r := renderEnrollment(msg)
	n.logger.Info("email not sent (disabled)", logger.Email(msg.To), logger.String("subject", r.subject))
	return nil
}

func (n *LogNotifier) SendCourseCompletedEmail(_ context.Context, msg CourseCompletedEmail) error {
	r := renderCompletion(msg)
	n.logger.Info("email not sent (disabled)", logger.Email(msg.To), logger.String("subject", r.subject))
	return nil
}

func (n *LogNotifier) SendCourseMessage(_ context.Context, msg CourseMessage) error {
	r := renderCourseMessage(msg)
	n.logger.Info("email not sent (disabled)", logger.Email(msg.To), logger.String("subject", r.subject))
	return nil
}
