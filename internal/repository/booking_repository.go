package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/carserv/carserv-api/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)
	ListByUserID(ctx context.Context, userID primitive.ObjectID) ([]domain.Booking, error)
	List(ctx context.Context) ([]domain.Booking, error)
	EnsureIndexes(ctx context.Context) error
}

type bookingRepository struct {
	coll *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) BookingRepository {
	return &bookingRepository{coll: db.Collection("bookings")}
}

func (r *bookingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (r *bookingRepository) Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	booking.CreatedAt = time.Now().UTC()
	if booking.Services == nil {
		booking.Services = []domain.ServiceItem{}
	}

	res, err := r.coll.InsertOne(ctx, booking)
	if err != nil {
		return nil, err
	}

	booking.ID = res.InsertedID.(primitive.ObjectID)
	return booking, nil
}

func (r *bookingRepository) ListByUserID(ctx context.Context, userID primitive.ObjectID) ([]domain.Booking, error) {
	return r.find(ctx, bson.M{"userId": userID})
}

// List returns every booking in the store, newest first. Admin only.
func (r *bookingRepository) List(ctx context.Context) ([]domain.Booking, error) {
	return r.find(ctx, bson.M{})
}

func (r *bookingRepository) find(ctx context.Context, filter bson.M) ([]domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var bookings []domain.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}
