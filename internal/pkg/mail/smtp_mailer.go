package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"net/url"
	"strings"

	"github.com/intakecoach/webportal/internal/pkg/env"
)

// SendMail sends an HTML email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendAccountSetupMail invites a freshly provisioned customer to pick a
// password. Best-effort: callers treat a failure as non-fatal.
func SendAccountSetupMail(email, name string) {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	setupURL := fmt.Sprintf("%s/complete-account?email=%s", base, url.QueryEscape(email))

	greeting := "Hi"
	if name != "" {
		greeting = "Hi " + name
	}
	body := fmt.Sprintf(
		"<p>%s,</p>"+
			"<p>Thanks for subscribing to IntakeCoach. Your account is ready - "+
			"choose a password to finish setting it up:</p>"+
			"<p><a href=\"%s\">Complete your account</a></p>",
		greeting, setupURL,
	)

	if err := SendMail(email, "Finish setting up your IntakeCoach account", body); err != nil {
		log.Printf("account setup mail to %s failed: %v", email, err)
	}
}
