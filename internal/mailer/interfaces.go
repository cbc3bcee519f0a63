package mailer

import "github.com/carserv/carserv-api/internal/domain"

type Service interface {
	SendBookingConfirmation(toEmail, toName string, booking *domain.Booking) error
}
