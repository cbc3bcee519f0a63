package mailer

import (
	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/pkg/logger"
)

// DevMailer logs mails instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendBookingConfirmation(toEmail, toName string, booking *domain.Booking) error {
	logger.Info("[DEV MAIL] Booking confirmation",
		"to", toEmail,
		"name", toName,
		"booking_id", booking.ID.Hex(),
		"car_id", booking.CarID,
		"date", booking.Date,
		"time_slot", booking.TimeSlot.StartTime+"-"+booking.TimeSlot.EndTime,
		"final_amount", booking.FinalAmount,
	)
	return nil
}
