package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/carserv/carserv-api/internal/domain"
)

// CreateBooking persists a booking for the authenticated user.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", codeUnauthorized)
		return
	}

	var req domain.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", codeInvalidInput)
		return
	}

	booking, err := h.bookingService.CreateBooking(r.Context(), claims.Sub, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Booking saved successfully",
		"booking": booking,
	})
}

// ListBookings returns the caller's bookings, newest first.
func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", codeUnauthorized)
		return
	}

	bookings, err := h.bookingService.ListBookings(r.Context(), claims.Sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookings)
}

// ListAllBookings returns every booking in the store. Admin only; the role
// gate sits in the router.
func (h *Handlers) ListAllBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookingService.ListAllBookings(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookings)
}
