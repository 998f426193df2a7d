// Package notify tells task owners that their task finished.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/tasks"

	"github.com/jordan-wright/email"
)

const report_mailer_notify = "mailer.notify"

// Notifier is told about every task that reaches a terminal status.
type Notifier interface {
	Notify(ctx context.Context, task tasks.Task) error
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, tasks.Task) error { return nil }

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	// SenderName is shown in the From header, it defaults to "Enroll Assist".
	SenderName string `json:"sender_name"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != ""
}

// Mailer e-mails owners whose id is an e-mail address.
type Mailer struct {
	config SmtpConfig
	tel    telemetry.API
}

func NewMailer(config SmtpConfig, tel telemetry.API) Mailer {
	if config.SenderName == "" {
		config.SenderName = "Enroll Assist"
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return Mailer{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

// Address returns the owner's address, ok is false when the owner is not an
// e-mail address.
func Address(owner string) (string, bool) {
	owner = strings.TrimSpace(owner)
	if !strings.Contains(owner, "@") {
		return "", false
	}
	parsed, err := mail.ParseAddress(owner)
	if err != nil {
		return "", false
	}
	return parsed.Address, true
}

func subject(task tasks.Task) string {
	switch task.Status {
	case tasks.StatusCompleted:
		return "Enrollment succeeded"
	case tasks.StatusFailed:
		return "Enrollment failed"
	case tasks.StatusCancelled:
		return "Enrollment cancelled"
	}
	return "Enrollment update"
}

func body(task tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s is %s.\n\n", task.ID, task.Status)

	if task.Result != nil && len(task.Result.Confirmed) > 0 {
		b.WriteString("Enrolled courses:\n")
		for _, c := range task.Result.Confirmed {
			fmt.Fprintf(&b, "  - %s %s (%s)\n", c.CourseID, c.Title, c.ClassID)
		}
		b.WriteString("\n")
	} else if len(task.Courses) > 0 {
		b.WriteString("Requested courses:\n")
		for _, c := range task.Courses {
			fmt.Fprintf(&b, "  - %s %s (%s)\n", c.CourseID, c.Title, c.ClassID)
		}
		b.WriteString("\n")
	}
	if len(task.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(task.Keywords, ", "))
	}

	fmt.Fprintf(&b, "Attempts: %d\n", task.Attempts)
	if task.FinishedAt != nil {
		fmt.Fprintf(&b, "Finished at: %s\n", task.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Last message: %s\n", task.Message)
	return b.String()
}

func (m Mailer) Notify(ctx context.Context, task tasks.Task) error {
	to, ok := Address(task.Owner)
	if !ok {
		return nil
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("%s <%s>", m.config.SenderName, m.config.EmailAddress)
	mail.To = []string{to}
	mail.Subject = subject(task)
	mail.Text = []byte(body(task))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		m.tel.ReportBroken(report_mailer_notify, err, task.ID)
		return err
	}
	m.tel.ReportDebug("sent notification", task.ID, to)
	return nil
}
