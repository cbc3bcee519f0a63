package service

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/internal/mailer"
	"github.com/carserv/carserv-api/internal/repository"
	"github.com/carserv/carserv-api/pkg/events"
	"github.com/carserv/carserv-api/pkg/logger"
)

type BookingService interface {
	CreateBooking(ctx context.Context, userID string, req *domain.CreateBookingRequest) (*domain.Booking, error)
	ListBookings(ctx context.Context, userID string) ([]domain.Booking, error)
	ListAllBookings(ctx context.Context) ([]domain.Booking, error)
}

type bookingService struct {
	bookingRepo repository.BookingRepository
	userRepo    repository.UserRepository
	mailer      mailer.Service
	eventBus    events.Publisher
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	userRepo repository.UserRepository,
	mailer mailer.Service,
	eventBus events.Publisher,
) BookingService {
	return &bookingService{
		bookingRepo: bookingRepo,
		userRepo:    userRepo,
		mailer:      mailer,
		eventBus:    eventBus,
	}
}

// CreateBooking persists a booking owned by the authenticated user. The owner
// comes from the verified token only; a userId in the request body is ignored.
func (s *bookingService) CreateBooking(ctx context.Context, userID string, req *domain.CreateBookingRequest) (*domain.Booking, error) {
	ownerID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user identifier", domain.ErrValidation)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking owner: %w", err)
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrValidation)
	}

	booking, err := s.bookingRepo.Create(ctx, &domain.Booking{
		UserID:      ownerID,
		CarID:       req.CarID,
		Services:    req.Services,
		Date:        req.Date,
		TimeSlot:    req.TimeSlot,
		MechanicID:  req.MechanicID,
		TotalAmount: req.TotalAmount,
		GSTAmount:   req.GSTAmount,
		FinalAmount: req.FinalAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if err := s.eventBus.Publish(ctx, events.BookingCreated, events.BookingCreatedEvent{
		BookingID:   booking.ID.Hex(),
		UserID:      booking.UserID.Hex(),
		CarID:       booking.CarID,
		MechanicID:  booking.MechanicID,
		Date:        booking.Date.Format("2006-01-02"),
		FinalAmount: booking.FinalAmount,
		CreatedAt:   booking.CreatedAt,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish booking.created event", "error", err, "booking_id", booking.ID.Hex())
	}

	if err := s.mailer.SendBookingConfirmation(owner.Email, owner.FullName, booking); err != nil {
		logger.WarnContext(ctx, "Failed to send booking confirmation", "error", err, "booking_id", booking.ID.Hex())
	}

	return booking, nil
}

func (s *bookingService) ListBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	ownerID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user identifier", domain.ErrValidation)
	}

	bookings, err := s.bookingRepo.ListByUserID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	return bookings, nil
}

func (s *bookingService) ListAllBookings(ctx context.Context) ([]domain.Booking, error) {
	bookings, err := s.bookingRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	return bookings, nil
}
