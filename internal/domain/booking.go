package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ServiceItem struct {
	ID    string  `bson:"id" json:"id"`
	Name  string  `bson:"name" json:"name"`
	Price float64 `bson:"price" json:"price"`
}

type TimeSlot struct {
	StartTime string `bson:"startTime" json:"startTime"`
	EndTime   string `bson:"endTime" json:"endTime"`
}

type Booking struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"userId" json:"userId"`
	CarID       string             `bson:"carId" json:"carId"`
	Services    []ServiceItem      `bson:"services" json:"services"`
	Date        time.Time          `bson:"date" json:"date"`
	TimeSlot    TimeSlot           `bson:"timeSlot" json:"timeSlot"`
	MechanicID  string             `bson:"mechanicId" json:"mechanicId"`
	TotalAmount float64            `bson:"totalAmount" json:"totalAmount"`
	GSTAmount   float64            `bson:"gstAmount" json:"gstAmount"`
	FinalAmount float64            `bson:"finalAmount" json:"finalAmount"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// CreateBookingRequest carries the booking submission. The owning user is
// always taken from the verified token, never from this body.
type CreateBookingRequest struct {
	CarID       string        `json:"carId"`
	Services    []ServiceItem `json:"services"`
	Date        time.Time     `json:"date"`
	TimeSlot    TimeSlot      `json:"timeSlot"`
	MechanicID  string        `json:"mechanicId"`
	TotalAmount float64       `json:"totalAmount"`
	GSTAmount   float64       `json:"gstAmount"`
	FinalAmount float64       `json:"finalAmount"`
}

// amountTolerance absorbs float rounding when cross-checking client totals.
const amountTolerance = 0.01

func (r *CreateBookingRequest) Validate() error {
	if strings.TrimSpace(r.CarID) == "" {
		return fmt.Errorf("%w: carId is required", ErrValidation)
	}
	if strings.TrimSpace(r.MechanicID) == "" {
		return fmt.Errorf("%w: mechanicId is required", ErrValidation)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if len(r.Services) == 0 {
		return fmt.Errorf("%w: at least one service is required", ErrValidation)
	}
	for _, svc := range r.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return fmt.Errorf("%w: service name is required", ErrValidation)
		}
		if svc.Price < 0 {
			return fmt.Errorf("%w: service price must not be negative", ErrValidation)
		}
	}
	if r.GSTAmount < 0 {
		return fmt.Errorf("%w: gstAmount must not be negative", ErrValidation)
	}

	// Totals are cross-checked against the selected services instead of
	// trusting the client-supplied figures verbatim.
	subtotal := 0.0
	for _, svc := range r.Services {
		subtotal += svc.Price
	}
	if math.Abs(r.TotalAmount-subtotal) > amountTolerance {
		return fmt.Errorf("%w: totalAmount does not match selected services", ErrValidation)
	}
	if math.Abs(r.FinalAmount-(r.TotalAmount+r.GSTAmount)) > amountTolerance {
		return fmt.Errorf("%w: finalAmount does not match totalAmount plus gstAmount", ErrValidation)
	}
	return nil
}
