package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/internal/handlers"
	"github.com/carserv/carserv-api/internal/service"
	"github.com/carserv/carserv-api/pkg/auth"
	"github.com/carserv/carserv-api/pkg/config"
)

// ---------- Mocks ----------

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User // by email
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*domain.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Email]; exists {
		return nil, domain.ErrUserExists
	}
	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now().UTC()
	if user.Cars == nil {
		user.Cars = []domain.Car{}
	}
	m.users[user.Email] = user
	return user, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email], nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) EnsureIndexes(context.Context) error { return nil }

type mockBookingRepo struct {
	mu       sync.Mutex
	bookings []domain.Booking
	clock    time.Time
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *mockBookingRepo) Create(_ context.Context, booking *domain.Booking) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking.ID = primitive.NewObjectID()
	// Strictly increasing creation times so ordering is observable.
	m.clock = m.clock.Add(time.Minute)
	booking.CreatedAt = m.clock
	m.bookings = append(m.bookings, *booking)
	return booking, nil
}

func (m *mockBookingRepo) ListByUserID(_ context.Context, userID primitive.ObjectID) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *mockBookingRepo) List(context.Context) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Booking, len(m.bookings))
	copy(result, m.bookings)
	sortNewestFirst(result)
	return result, nil
}

func (m *mockBookingRepo) EnsureIndexes(context.Context) error { return nil }

func sortNewestFirst(bookings []domain.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
}

type mockRateLimitRepo struct {
	allowed bool
}

func (m *mockRateLimitRepo) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return m.allowed, nil
}

type mockMailer struct {
	mu    sync.Mutex
	sends []string // recipient emails
}

func (m *mockMailer) SendBookingConfirmation(toEmail, _ string, _ *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, toEmail)
	return nil
}

type mockEventBus struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockEventBus) Publish(_ context.Context, subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockEventBus) Close() error { return nil }

// ---------- Test harness ----------

type testEnv struct {
	router    *chi.Mux
	cfg       *config.Config
	userRepo  *mockUserRepo
	bookings  *mockBookingRepo
	rateLimit *mockRateLimitRepo
	mailer    *mockMailer
	bus       *mockEventBus
}

func newTestEnv() *testEnv {
	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret: "test-secret",
			TokenTTL:  24 * time.Hour,
		},
	}

	env := &testEnv{
		cfg:       cfg,
		userRepo:  newMockUserRepo(),
		bookings:  newMockBookingRepo(),
		rateLimit: &mockRateLimitRepo{allowed: true},
		mailer:    &mockMailer{},
		bus:       &mockEventBus{},
	}

	authService := service.NewAuthService(env.userRepo, env.bus, cfg)
	bookingService := service.NewBookingService(env.bookings, env.userRepo, env.mailer, env.bus)
	h := handlers.New(authService, bookingService, env.rateLimit, cfg)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.With(h.AuthRateLimit(10, time.Minute)).Post("/register", h.Register)
		r.With(h.AuthRateLimit(10, time.Minute)).Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireJWT)
			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.ListBookings)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireRole(domain.RoleAdmin))
				r.Get("/bookings", h.ListAllBookings)
			})
		})
	})
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func registerBody(email string) map[string]interface{} {
	return map[string]interface{}{
		"fullName": "Jane Doe",
		"email":    email,
		"password": "hunter2hunter2",
		"phone":    "555-0100",
		"address":  "1 Main St",
		"cars": []map[string]string{
			{"brand": "Toyota", "model": "Corolla"},
		},
	}
}

func bookingBody() map[string]interface{} {
	return map[string]interface{}{
		"carId": "car-1",
		"services": []map[string]interface{}{
			{"id": "svc-1", "name": "Oil change", "price": 49.99},
		},
		"date":        "2026-09-10T00:00:00Z",
		"timeSlot":    map[string]string{"startTime": "10:00", "endTime": "11:00"},
		"mechanicId":  "mech-7",
		"totalAmount": 49.99,
		"gstAmount":   9.00,
		"finalAmount": 58.99,
	}
}

// register creates a user through the API and returns its token and id.
func (e *testEnv) register(t *testing.T, email string) (token, userID string) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/register", "", registerBody(email))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}

	var resp domain.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token, resp.User.ID
}

// ---------- Tests ----------

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/register", "", registerBody("jane@example.com"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp domain.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("response has no token")
	}
	if resp.User == nil || resp.User.Email != "jane@example.com" {
		t.Fatalf("unexpected user view: %+v", resp.User)
	}
	if resp.User.Role != domain.RoleCustomer {
		t.Errorf("Role = %q, want %q", resp.User.Role, domain.RoleCustomer)
	}
	if len(resp.User.Cars) != 1 || resp.User.Cars[0].Brand != "Toyota" {
		t.Errorf("Cars = %+v", resp.User.Cars)
	}

	// The public view never carries the digest.
	if strings.Contains(rec.Body.String(), "passwordHash") || strings.Contains(rec.Body.String(), "argon2") {
		t.Error("response leaks the password digest")
	}

	stored := env.userRepo.users["jane@example.com"]
	if stored == nil {
		t.Fatal("user not persisted")
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "hunter2hunter2" {
		t.Error("password was not hashed before persisting")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv()
	env.register(t, "jane@example.com")

	rec := env.do(t, http.MethodPost, "/api/register", "", registerBody("jane@example.com"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["code"] != "EMAIL_EXISTS" {
		t.Errorf("code = %q, want EMAIL_EXISTS", body["code"])
	}
	if body["message"] != "User already exists" {
		t.Errorf("message = %q, want %q", body["message"], "User already exists")
	}
	if len(env.userRepo.users) != 1 {
		t.Errorf("store has %d users for the e-mail, want 1", len(env.userRepo.users))
	}
}

// decodeErrorBody parses a failure response and requires the short message
// field every error body carries.
func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["message"] == "" {
		t.Fatalf("error body %s has no message field", rec.Body.String())
	}
	return body
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv()
	_, userID := env.register(t, "jane@example.com")

	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email":    "jane@example.com",
		"password": "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp domain.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	claims, err := auth.Parse(resp.Token, env.cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Sub != userID {
		t.Errorf("token Sub = %q, want %q", claims.Sub, userID)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv()
	env.register(t, "jane@example.com")

	wrongPassword := env.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email":    "jane@example.com",
		"password": "not-the-password",
	})
	unknownEmail := env.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "hunter2hunter2",
	})

	if wrongPassword.Code != http.StatusBadRequest {
		t.Errorf("wrong password status = %d, want 400", wrongPassword.Code)
	}
	if unknownEmail.Code != wrongPassword.Code {
		t.Errorf("status differs: unknown e-mail %d vs wrong password %d", unknownEmail.Code, wrongPassword.Code)
	}
	if unknownEmail.Body.String() != wrongPassword.Body.String() {
		t.Errorf("bodies differ, allowing account enumeration:\n%s\n%s",
			unknownEmail.Body.String(), wrongPassword.Body.String())
	}
	if body := decodeErrorBody(t, wrongPassword); body["message"] != "Invalid credentials" {
		t.Errorf("message = %q, want %q", body["message"], "Invalid credentials")
	}
}

func TestProtectedEndpointsRejectBadTokens(t *testing.T) {
	env := newTestEnv()

	// Missing Authorization header
	rec := env.do(t, http.MethodGet, "/api/bookings", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rec.Code)
	}

	// Bearer scheme with an empty token is treated as absent, not invalid
	for _, header := range []string{"Bearer ", "Bearer    "} {
		req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
		req.Header.Set("Authorization", header)
		empty := httptest.NewRecorder()
		env.router.ServeHTTP(empty, req)
		if empty.Code != http.StatusUnauthorized {
			t.Errorf("empty token %q: status = %d, want 401", header, empty.Code)
		}
	}

	// Garbage token
	rec = env.do(t, http.MethodGet, "/api/bookings", "garbage", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("garbage token: status = %d, want 403", rec.Code)
	}

	// Expired token
	expired, err := auth.NewAccessToken(primitive.NewObjectID().Hex(), "jane@example.com", "customer",
		env.cfg.Auth.JWTSecret, -time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/api/bookings", expired, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expired token: status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EXPIRED_TOKEN") {
		t.Errorf("expired token body = %s, want EXPIRED_TOKEN code", rec.Body.String())
	}
}

func TestCreateBookingOwnerComesFromToken(t *testing.T) {
	env := newTestEnv()
	token, userID := env.register(t, "jane@example.com")

	body := bookingBody()
	body["userId"] = primitive.NewObjectID().Hex() // spoofed owner, must be ignored

	rec := env.do(t, http.MethodPost, "/api/bookings", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(env.bookings.bookings) != 1 {
		t.Fatalf("persisted %d bookings, want 1", len(env.bookings.bookings))
	}
	if got := env.bookings.bookings[0].UserID.Hex(); got != userID {
		t.Errorf("booking owner = %s, want authenticated user %s", got, userID)
	}

	if len(env.bus.subjects) == 0 || env.bus.subjects[len(env.bus.subjects)-1] != "booking.created" {
		t.Errorf("published subjects = %v, want booking.created last", env.bus.subjects)
	}
	if len(env.mailer.sends) != 1 || env.mailer.sends[0] != "jane@example.com" {
		t.Errorf("confirmation mails = %v", env.mailer.sends)
	}
}

func TestCreateBookingRejectsMismatchedTotals(t *testing.T) {
	env := newTestEnv()
	token, _ := env.register(t, "jane@example.com")

	body := bookingBody()
	body["totalAmount"] = 1.00 // does not match the service prices

	rec := env.do(t, http.MethodPost, "/api/bookings", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if len(env.bookings.bookings) != 0 {
		t.Error("mismatched booking was persisted")
	}
}

func TestListBookingsScopedToOwnerNewestFirst(t *testing.T) {
	env := newTestEnv()
	tokenA, _ := env.register(t, "a@example.com")
	tokenB, _ := env.register(t, "b@example.com")

	// Two bookings for A with distinguishable cars, one for B.
	first := bookingBody()
	first["carId"] = "car-first"
	if rec := env.do(t, http.MethodPost, "/api/bookings", tokenA, first); rec.Code != http.StatusCreated {
		t.Fatalf("create first: %d %s", rec.Code, rec.Body.String())
	}
	second := bookingBody()
	second["carId"] = "car-second"
	if rec := env.do(t, http.MethodPost, "/api/bookings", tokenA, second); rec.Code != http.StatusCreated {
		t.Fatalf("create second: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/api/bookings", tokenB, bookingBody()); rec.Code != http.StatusCreated {
		t.Fatalf("create for B: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/bookings", tokenA, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var listed []domain.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d bookings for A, want 2", len(listed))
	}
	if listed[0].CarID != "car-second" || listed[1].CarID != "car-first" {
		t.Errorf("order = [%s, %s], want newest first", listed[0].CarID, listed[1].CarID)
	}
}

func TestAdminBookingsRequiresAdminRole(t *testing.T) {
	env := newTestEnv()
	customerToken, _ := env.register(t, "jane@example.com")

	rec := env.do(t, http.MethodGet, "/api/admin/bookings", customerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer token: status = %d, want 403", rec.Code)
	}

	// Promote the user out of band and log in again for an admin token.
	env.userRepo.users["jane@example.com"].Role = domain.RoleAdmin
	login := env.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email":    "jane@example.com",
		"password": "hunter2hunter2",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login: %d %s", login.Code, login.Body.String())
	}
	var resp domain.AuthResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	if rec := env.do(t, http.MethodPost, "/api/bookings", resp.Token, bookingBody()); rec.Code != http.StatusCreated {
		t.Fatalf("create booking: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/admin/bookings", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin token: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var listed []domain.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("admin listing has %d bookings, want 1", len(listed))
	}
}

func TestAuthEndpointsRateLimited(t *testing.T) {
	env := newTestEnv()
	env.rateLimit.allowed = false

	rec := env.do(t, http.MethodPost, "/api/register", "", registerBody("jane@example.com"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RATE_LIMIT_EXCEEDED") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv()

	token, userID := env.register(t, "jane@example.com")

	if rec := env.do(t, http.MethodPost, "/api/bookings", token, bookingBody()); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/bookings", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	var listed []domain.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d bookings, want exactly the one created", len(listed))
	}
	if got := listed[0].UserID.Hex(); got != userID {
		t.Errorf("owner = %s, want %s", got, userID)
	}
	if listed[0].FinalAmount != 58.99 {
		t.Errorf("finalAmount = %v", listed[0].FinalAmount)
	}
}
