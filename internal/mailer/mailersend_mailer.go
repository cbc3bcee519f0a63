package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"

	"github.com/carserv/carserv-api/internal/domain"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendBookingConfirmation(toEmail, toName string, booking *domain.Booking) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	var services []string
	for _, svc := range booking.Services {
		services = append(services, fmt.Sprintf("%s (%.2f)", svc.Name, svc.Price))
	}

	subject := "Your service booking is confirmed"
	html := fmt.Sprintf(`
		<h2>Booking confirmed</h2>
		<p>Hi %s,</p>
		<p>Your car service booking has been received.</p>
		<ul>
			<li>Date: %s</li>
			<li>Time slot: %s - %s</li>
			<li>Services: %s</li>
			<li>Total due: %.2f</li>
		</ul>
	`, toName, booking.Date.Format("2006-01-02"),
		booking.TimeSlot.StartTime, booking.TimeSlot.EndTime,
		strings.Join(services, ", "), booking.FinalAmount)

	text := fmt.Sprintf("Your booking for %s (%s - %s) is confirmed. Total due: %.2f",
		booking.Date.Format("2006-01-02"),
		booking.TimeSlot.StartTime, booking.TimeSlot.EndTime, booking.FinalAmount)

	return m.sendEmail(toEmail, toName, subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)
	msg.SetText(text)
	msg.SetHTML(html)

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
