package utils

import (
	"fmt"
	"html"
	"pawn-storage/config"
	"pawn-storage/models"
	"pawn-storage/services"
	"strings"

	"gopkg.in/gomail.v2"
)

// Mailer sends reconciliation notices over SMTP.
type Mailer struct {
	From string
	To   []string
	send func(msgs ...*gomail.Message) error
}

func NewMailer() *Mailer {
	dialer := gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.SMTPUser, config.SMTPPassword)
	from := config.SMTPFrom
	if from == "" {
		from = config.SMTPUser
	}
	return &Mailer{
		From: from,
		To:   config.ReportRecipients,
		send: dialer.DialAndSend,
	}
}

func (m *Mailer) message(subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)
	return msg
}

func (m *Mailer) SessionCompleted(report *services.ReconciliationReport) error {
	subject := fmt.Sprintf("Reconciliation %s completed: %s%% accuracy", report.Session.SessionNumber, report.Accuracy.StringFixed(2))
	return m.send(m.message(subject, CompletionBody(report)))
}

func (m *Mailer) SessionsExpired(sessions []models.ReconciliationSession) error {
	if len(sessions) == 0 {
		return nil
	}
	subject := fmt.Sprintf("%d reconciliation session(s) expired", len(sessions))
	return m.send(m.message(subject, ExpiryBody(sessions)))
}

func CompletionBody(report *services.ReconciliationReport) string {
	s := report.Session
	var missing strings.Builder
	for _, scan := range report.Missing {
		missing.WriteString("<li>" + html.EscapeString(scan.ScannedBarcode) + "</li>")
	}
	if missing.Len() == 0 {
		missing.WriteString("<li>none</li>")
	}

	return fmt.Sprintf(`
		<html>
			<body>
				<h3>Reconciliation %s completed</h3>
				<p>Branch: <strong>%d</strong>, type: %s</p>
				<p>Expected %d, scanned %d, matched %d, missing %d, unexpected %d</p>
				<p>Accuracy: <strong>%s%%</strong></p>
				<p>Missing items:</p>
				<ul>%s</ul>
				<p>This is an auto-generated email. Please do not reply.</p>
			</body>
		</html>
	`, html.EscapeString(s.SessionNumber), s.BranchID, s.Type,
		s.ExpectedCount, s.ScannedCount, s.MatchedCount, s.MissingCount, s.UnexpectedCount,
		report.Accuracy.StringFixed(2), missing.String())
}

func ExpiryBody(sessions []models.ReconciliationSession) string {
	var rows strings.Builder
	for _, s := range sessions {
		rows.WriteString(fmt.Sprintf("<li>%s (branch %d), expired at %s, %d of %d scanned</li>",
			html.EscapeString(s.SessionNumber), s.BranchID, s.ExpiresAt.Format("2006-01-02 15:04"), s.ScannedCount, s.ExpectedCount))
	}

	return fmt.Sprintf(`
		<html>
			<body>
				<h3>Reconciliation sessions cancelled after their window closed</h3>
				<ul>%s</ul>
				<p>This is an auto-generated email. Please do not reply.</p>
			</body>
		</html>
	`, rows.String())
}
