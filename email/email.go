package email

import (
	"fmt"

	"github.com/resend/resend-go/v2"
)

// Mailer sends approval notifications. A zero APIKey disables sending;
// callers should check Enabled before building messages.
type Mailer struct {
	APIKey string
	From   string
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.APIKey != ""
}

type Email struct {
	To      string
	Subject string
	Text    string
}

func (m *Mailer) Send(email Email) error {
	client := resend.NewClient(m.APIKey)
	_, err := client.Emails.Send(&resend.SendEmailRequest{
		From:    m.From,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}

// SendApprovalRequest notifies each approver that a deployment is paused
// on their sign-off.
func (m *Mailer) SendApprovalRequest(to []string, environment, executionName, requestID string, requiredApprovals int) error {
	subject := fmt.Sprintf("approval needed: %s (%s)", executionName, environment)
	text := fmt.Sprintf(
		"Deployment %q to %s is paused awaiting %d approval(s).\n\nRequest id: %s\n",
		executionName, environment, requiredApprovals, requestID,
	)

	for _, rcpt := range to {
		if err := m.Send(Email{To: rcpt, Subject: subject, Text: text}); err != nil {
			return err
		}
	}
	return nil
}
