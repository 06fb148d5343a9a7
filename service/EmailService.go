package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/gomail.v2"
)

// EmailSink mails token_reuse incidents to the security team. Runs on the
// incident dispatcher goroutine, so a slow SMTP server never touches the
// rotation path.
type EmailSink struct {
	dialer    *gomail.Dialer
	sender    string
	recipient string
}

// NewEmailSink reads SMTP settings from the environment. Recipient comes
// from SECURITY_ALERT_EMAIL; main skips this sink when it is unset.
func NewEmailSink(recipient string) *EmailSink {
	host := os.Getenv("SMTP_HOST")
	portStr := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	sender := os.Getenv("SMTP_SENDER_NAME")

	port, _ := strconv.Atoi(portStr)

	dialer := gomail.NewDialer(host, port, user, pass)

	// Fix for common TLS issues (optional but recommended for dev)
	dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}

	return &EmailSink{
		dialer:    dialer,
		sender:    sender,
		recipient: recipient,
	}
}

// Report sends the incident as a security alert email
func (s *EmailSink) Report(_ context.Context, inc Incident) error {
	m := gomail.NewMessage()

	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.sender, s.dialer.Username))
	m.SetHeader("To", s.recipient)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s for user %s", inc.Severity, inc.Type, inc.UserID))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px;">
			<h2>Security incident: %s</h2>
			<p>Severity: <strong>%s</strong></p>
			<ul>
				<li>User: %s</li>
				<li>Token record: %s</li>
				<li>Tokens revoked: %d</li>
				<li>Client IP: %s</li>
				<li>Device: %s</li>
				<li>User agent: %s</li>
				<li>Detected at: %s</li>
			</ul>
			<p>The token family has been revoked and the user was flagged for re-authentication.</p>
		</div>
	`, inc.Type, inc.Severity, inc.UserID, inc.RecordID, inc.RevokedCount,
		inc.ClientIP, inc.DeviceID, inc.UserAgent, inc.OccurredAt.Format("2006-01-02 15:04:05 MST"))
	m.SetBody("text/html", body)

	return s.dialer.DialAndSend(m)
}
