package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Car struct {
	Brand string `bson:"brand" json:"brand"`
	Model string `bson:"model" json:"model"`
}

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName     string             `bson:"fullName" json:"fullName"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash" json:"-"`
	Phone        string             `bson:"phone" json:"phone"`
	Address      string             `bson:"address" json:"address"`
	Role         string             `bson:"role" json:"role"`
	Cars         []Car              `bson:"cars" json:"cars"`
	CreatedAt    time.Time          `bson:"createdAt" json:"created_at"`
}

type RegisterRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Cars     []Car  `json:"cars"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by both register and login.
type AuthResponse struct {
	Token string    `json:"token"`
	User  *UserInfo `json:"user"`
}

// UserInfo is the public view of a user. It never carries the password hash.
type UserInfo struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Role     string `json:"role"`
	Cars     []Car  `json:"cars"`
}

// User roles. Role is assigned server-side, never taken from a request body.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func (r *RegisterRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Address = strings.TrimSpace(r.Address)
}

func (r *RegisterRequest) Validate() error {
	if r.FullName == "" {
		return fmt.Errorf("%w: fullName is required", ErrValidation)
	}
	if r.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !emailRegex.MatchString(r.Email) {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	if r.Phone == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	if r.Address == "" {
		return fmt.Errorf("%w: address is required", ErrValidation)
	}
	for _, car := range r.Cars {
		if strings.TrimSpace(car.Brand) == "" || strings.TrimSpace(car.Model) == "" {
			return fmt.Errorf("%w: car entries require brand and model", ErrValidation)
		}
	}
	return nil
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	return nil
}

// ToUserInfo converts User to its public view.
func (u *User) ToUserInfo() *UserInfo {
	cars := u.Cars
	if cars == nil {
		cars = []Car{}
	}
	return &UserInfo{
		ID:       u.ID.Hex(),
		FullName: u.FullName,
		Email:    u.Email,
		Phone:    u.Phone,
		Address:  u.Address,
		Role:     u.Role,
		Cars:     cars,
	}
}
