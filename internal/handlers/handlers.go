package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carserv/carserv-api/internal/domain"
	"github.com/carserv/carserv-api/internal/repository"
	"github.com/carserv/carserv-api/internal/service"
	"github.com/carserv/carserv-api/pkg/auth"
	"github.com/carserv/carserv-api/pkg/config"
	"github.com/carserv/carserv-api/pkg/logger"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

// Error codes surfaced in JSON error bodies.
const (
	codeInvalidInput       = "INVALID_INPUT"
	codeEmailExists        = "EMAIL_EXISTS"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeUnauthorized       = "UNAUTHORIZED"
	codeForbidden          = "FORBIDDEN"
	codeInvalidToken       = "INVALID_TOKEN"
	codeExpiredToken       = "EXPIRED_TOKEN"
	codeRateLimit          = "RATE_LIMIT_EXCEEDED"
	codeInternalError      = "INTERNAL_ERROR"
)

type Handlers struct {
	authService    service.AuthService
	bookingService service.BookingService
	rateLimitRepo  repository.RateLimitRepository
	config         *config.Config
}

func New(
	authService service.AuthService,
	bookingService service.BookingService,
	rateLimitRepo repository.RateLimitRepository,
	config *config.Config,
) *Handlers {
	return &Handlers{
		authService:    authService,
		bookingService: bookingService,
		rateLimitRepo:  rateLimitRepo,
		config:         config,
	}
}

// RequireJWT gates protected routes. A missing, empty, or non-Bearer token
// is 401 and never reaches the body; a presented token that fails
// verification, expiry included, is 403.
func (h *Handlers) RequireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", codeUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", codeUnauthorized)
			return
		}
		claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusForbidden, "Token expired", codeExpiredToken)
				return
			}
			writeError(w, http.StatusForbidden, "Invalid token", codeInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
		ctx = context.WithValue(ctx, ctxClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole restricts a route to callers whose token carries the role.
func (h *Handlers) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := getClaims(r)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "Authentication required", codeUnauthorized)
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, "Insufficient permissions", codeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthRateLimit throttles the unauthenticated auth endpoints by client IP.
func (h *Handlers) AuthRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "auth:" + getClientIP(r)

			allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key, requests, window)
			if err != nil {
				logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
				// Allow request on error (fail open)
			} else if !allowed {
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", codeRateLimit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Helper functions
func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(ctxClaims).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, map[string]string{
		"message": message,
		"code":    code,
	})
}

// writeServiceError maps service failures onto the response taxonomy. Store
// and other unexpected failures stay generic; detail goes to the log only.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUserExists):
		writeError(w, http.StatusBadRequest, "User already exists", codeEmailExists)
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Invalid credentials", codeInvalidCredentials)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), codeInvalidInput)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Server error", codeInternalError)
	}
}
