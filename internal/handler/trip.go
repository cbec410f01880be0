package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"humgo/internal/domain"
	"humgo/internal/middleware"
	"humgo/internal/service"
)

// TripHandler handles HTTP requests for trips and their matches.
type TripHandler struct {
	tripService     *service.TripService
	matchingService *service.MatchingService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService, matchingService *service.MatchingService) *TripHandler {
	return &TripHandler{
		tripService:     tripService,
		matchingService: matchingService,
	}
}

// LocationRequest is a trip endpoint in a request body.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
	Address   string   `json:"address"`
}

// CreateTripRequest is the HTTP request body for creating a trip.
type CreateTripRequest struct {
	TripID         string           `json:"trip_id" binding:"omitempty,tripid"`
	Pickup         *LocationRequest `json:"pickup" binding:"required"`
	Dropoff        *LocationRequest `json:"dropoff" binding:"required"`
	VehicleType    string           `json:"vehicle_type" binding:"required,vehicle"`
	EstimatedPrice float64          `json:"estimated_price" binding:"required"`
}

// UpdateStatusRequest is the HTTP request body for a status change.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// MatchQuery holds the query parameters of a match scan.
type MatchQuery struct {
	RadiusKm float64 `form:"radius_km"`
}

// LocationResponse is a trip endpoint in a response.
type LocationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Pickup         LocationResponse `json:"pickup"`
	Dropoff        LocationResponse `json:"dropoff"`
	VehicleType    string           `json:"vehicle_type"`
	EstimatedPrice float64          `json:"estimated_price"`
	Status         string           `json:"status"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

// CreateTripResponse is the HTTP response for creating a trip.
type CreateTripResponse struct {
	Trip             *TripResponse `json:"trip"`
	Duplicate        bool          `json:"duplicate"`
	CancelledTripIDs []string      `json:"cancelled_trip_ids,omitempty"`
}

// MatchResponse is one ranked or stored match.
type MatchResponse struct {
	ID             string  `json:"id"`
	TripA          string  `json:"trip_a"`
	TripB          string  `json:"trip_b"`
	Riders         int     `json:"riders"`
	DistanceKm     float64 `json:"distance_km"`
	EtaMinutes     int     `json:"eta_minutes"`
	PickupAddress  string  `json:"pickup_address,omitempty"`
	DropoffAddress string  `json:"dropoff_address,omitempty"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.tripService.CreateTrip(c.Request.Context(), service.CreateTripRequest{
		TripID:         req.TripID,
		UserID:         identity.ID,
		Pickup:         toLocation(req.Pickup),
		Dropoff:        toLocation(req.Dropoff),
		VehicleType:    domain.VehicleType(req.VehicleType),
		EstimatedPrice: req.EstimatedPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := CreateTripResponse{
		Duplicate:        result.Duplicate,
		CancelledTripIDs: result.CancelledTripIDs,
	}
	if result.Trip != nil {
		tr := toTripResponse(result.Trip)
		response.Trip = &tr
	}

	code := http.StatusCreated
	if result.Duplicate {
		code = http.StatusOK
	}
	respondJSON(c, code, response)
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.tripService.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetActiveTrip handles GET /v1/me/trip
func (h *TripHandler) GetActiveTrip(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	trip, err := h.tripService.ActiveTripForUser(c.Request.Context(), identity.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if trip == nil {
		respondJSON(c, http.StatusNotFound, ErrorResponse{Error: "no active trip"})
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// UpdateStatus handles POST /v1/trips/:id/status
func (h *TripHandler) UpdateStatus(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	trip, err := h.tripService.UpdateTripStatus(c.Request.Context(), service.UpdateTripStatusRequest{
		TripID: c.Param("id"),
		Status: domain.TripStatus(req.Status),
		UserID: identity.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *TripHandler) CancelTrip(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	trip, err := h.tripService.CancelTrip(c.Request.Context(), c.Param("id"), identity.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// FindMatches handles GET /v1/trips/:id/matches
func (h *TripHandler) FindMatches(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)

	var query MatchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	trip, err := h.tripService.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if trip.UserID != identity.ID {
		respondError(c, service.ErrNotTripOwner)
		return
	}

	matches, err := h.matchingService.FindMatches(c.Request.Context(), trip.ID, query.RadiusKm)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]MatchResponse, 0, len(matches))
	for i := range matches {
		response = append(response, toMatchResponse(&matches[i]))
	}
	respondJSON(c, http.StatusOK, response)
}

// ListMatches handles GET /v1/trips/:id/matches/persisted
func (h *TripHandler) ListMatches(c *gin.Context) {
	matches, err := h.matchingService.ListMatchesForTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]MatchResponse, 0, len(matches))
	for _, m := range matches {
		response = append(response, toMatchResponse(m))
	}
	respondJSON(c, http.StatusOK, response)
}

func toLocation(l *LocationRequest) domain.Location {
	return domain.Location{
		Latitude:  *l.Latitude,
		Longitude: *l.Longitude,
		Address:   l.Address,
	}
}

func toTripResponse(t *domain.Trip) TripResponse {
	return TripResponse{
		ID:     t.ID,
		UserID: t.UserID,
		Pickup: LocationResponse{
			Latitude:  t.Pickup.Latitude,
			Longitude: t.Pickup.Longitude,
			Address:   t.Pickup.Address,
		},
		Dropoff: LocationResponse{
			Latitude:  t.Dropoff.Latitude,
			Longitude: t.Dropoff.Longitude,
			Address:   t.Dropoff.Address,
		},
		VehicleType:    string(t.VehicleType),
		EstimatedPrice: t.EstimatedPrice,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt.Format(timeLayout),
		UpdatedAt:      t.UpdatedAt.Format(timeLayout),
	}
}

func toMatchResponse(m *domain.Match) MatchResponse {
	return MatchResponse{
		ID:             m.ID,
		TripA:          m.TripA,
		TripB:          m.TripB,
		Riders:         m.Riders,
		DistanceKm:     m.DistanceKm,
		EtaMinutes:     m.EtaMinutes,
		PickupAddress:  m.PickupAddress,
		DropoffAddress: m.DropoffAddress,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt.Format(timeLayout),
	}
}
