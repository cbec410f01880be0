package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"humgo/internal/domain"
	"humgo/internal/events"
	"humgo/internal/live"
	"humgo/internal/observability"
	"humgo/internal/redis"
	"humgo/internal/repository"
	"humgo/internal/validation"
)

// TripCreateCooldown is the minimum interval between trip creations by one user.
const TripCreateCooldown = 5 * time.Second

// TripService handles trip operations.
type TripService struct {
	deps   Deps
	logger *zap.Logger
}

// NewTripService creates a new TripService.
func NewTripService(deps Deps) *TripService {
	deps = deps.withDefaults()
	return &TripService{
		deps:   deps,
		logger: deps.Logger.Named("trip_service"),
	}
}

// CreateTripRequest contains the parameters for creating a trip. TripID is
// optional; a uuid is generated when it is empty.
type CreateTripRequest struct {
	TripID         string
	UserID         string
	Pickup         domain.Location
	Dropoff        domain.Location
	VehicleType    domain.VehicleType
	EstimatedPrice float64
}

// CreateTripResult contains the outcome of CreateTrip.
type CreateTripResult struct {
	Trip *domain.Trip

	// Duplicate is set when the request repeated one already processed in
	// the current idempotency window. Trip is the stored trip when it exists.
	Duplicate bool

	// CancelledTripIDs lists the user's previously open trips.
	CancelledTripIDs []string
}

// CreateTrip validates and stores a new pending trip, cancelling every other
// open trip of the user in the same transaction.
func (s *TripService) CreateTrip(ctx context.Context, req CreateTripRequest) (*CreateTripResult, error) {
	trip, err := s.buildTrip(req)
	if err != nil {
		return nil, err
	}

	limited, err := s.deps.Limiter.IsRateLimited(ctx, "trip_create_"+trip.UserID, TripCreateCooldown)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if limited {
		observability.RateLimitedTotal.WithLabelValues("create_trip").Inc()
		return nil, &RateLimitError{Operation: "create_trip", RetryAfter: TripCreateCooldown}
	}

	key := validation.GenerateIdempotencyKey(s.deps.Clock.Now(), "create_trip", trip.UserID, trip.ID)
	seen, err := s.deps.Idempotency.IsOperationProcessed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency tracker: %w", err)
	}
	if seen {
		s.logger.Warn("duplicate trip creation suppressed", zap.String("trip_id", trip.ID))
		existing, err := s.deps.Store.Trips().GetByID(ctx, trip.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.UserID != trip.UserID {
			existing = nil
		}
		return &CreateTripResult{Trip: existing, Duplicate: true}, nil
	}

	result, err := s.persistNewTrip(ctx, trip)
	if err != nil {
		if relErr := s.deps.Idempotency.Release(context.Background(), key); relErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.Error(relErr))
		}
		s.logger.Error("failed to create trip", zap.String("trip_id", trip.ID), zap.Error(err))
		return nil, err
	}

	observability.TripsCreatedTotal.Inc()
	s.afterCreate(ctx, result)
	return result, nil
}

func (s *TripService) buildTrip(req CreateTripRequest) (*domain.Trip, error) {
	userID := validation.SanitizeUserID(req.UserID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	tripID := req.TripID
	if tripID == "" {
		tripID = uuid.New().String()
	} else if !validation.IsValidID(tripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}

	if !validation.IsValidCoordinate(req.Pickup.Latitude, req.Pickup.Longitude) {
		return nil, ErrInvalidPickupLocation
	}
	if !validation.IsValidCoordinate(req.Dropoff.Latitude, req.Dropoff.Longitude) {
		return nil, ErrInvalidDropoffLocation
	}

	check := validation.CheckRideDistance(
		req.Pickup.Latitude, req.Pickup.Longitude,
		req.Dropoff.Latitude, req.Dropoff.Longitude,
	)
	if !check.Valid {
		return nil, &RideDistanceError{Check: check}
	}

	if !req.VehicleType.Valid() {
		return nil, ErrInvalidVehicleType
	}
	if !validation.IsValidPrice(req.EstimatedPrice) {
		return nil, ErrInvalidPrice
	}

	now := s.deps.Clock.Now()
	return &domain.Trip{
		ID:     tripID,
		UserID: userID,
		Pickup: domain.Location{
			Latitude:  req.Pickup.Latitude,
			Longitude: req.Pickup.Longitude,
			Address:   validation.SanitizeText(req.Pickup.Address, validation.MaxAddressLength),
		},
		Dropoff: domain.Location{
			Latitude:  req.Dropoff.Latitude,
			Longitude: req.Dropoff.Longitude,
			Address:   validation.SanitizeText(req.Dropoff.Address, validation.MaxAddressLength),
		},
		VehicleType:    req.VehicleType,
		EstimatedPrice: req.EstimatedPrice,
		Status:         domain.TripStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *TripService) persistNewTrip(ctx context.Context, trip *domain.Trip) (*CreateTripResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer cancel()

	if s.deps.Locks != nil {
		locked, err := s.deps.Locks.AcquireTripCreateLock(ctx, trip.UserID, s.deps.WriteTimeout)
		if err != nil {
			return nil, s.timeoutOr(ctx, err)
		}
		if !locked {
			return nil, ErrTripCreateInProgress
		}
		defer func() {
			if err := s.deps.Locks.ReleaseTripCreateLock(context.Background(), trip.UserID); err != nil {
				s.logger.Warn("failed to release trip create lock", zap.Error(err))
			}
		}()
	}

	result := &CreateTripResult{Trip: trip}
	err := s.deps.Store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Trips().LockUser(ctx, trip.UserID); err != nil {
			return err
		}
		open, err := tx.Trips().ListByUser(ctx, trip.UserID, domain.OpenTripStatuses, 0)
		if err != nil {
			return err
		}

		for _, old := range open {
			if err := tx.Trips().UpdateStatus(ctx, old.ID, domain.TripStatusCancelled, trip.CreatedAt); err != nil {
				return err
			}
			if _, err := tx.Matches().DeleteByTripA(ctx, old.ID); err != nil {
				return err
			}
			result.CancelledTripIDs = append(result.CancelledTripIDs, old.ID)
		}

		return tx.Trips().Create(ctx, trip)
	})
	if errors.Is(err, repository.ErrAlreadyExists) {
		return nil, ErrTripExists
	}
	if err != nil {
		return nil, s.timeoutOr(ctx, err)
	}
	return result, nil
}

func (s *TripService) afterCreate(ctx context.Context, result *CreateTripResult) {
	trip := result.Trip

	if s.deps.TripCache != nil && len(result.CancelledTripIDs) > 0 {
		if err := s.deps.TripCache.InvalidateTrips(ctx, result.CancelledTripIDs); err != nil {
			s.logger.Warn("failed to invalidate cancelled trips", zap.Error(err))
		}
	}

	s.deps.Hub.Publish(live.TopicTrips)
	if len(result.CancelledTripIDs) > 0 {
		s.deps.Hub.Publish(live.TopicMatches)
	}

	evts := []events.Event{{
		Type:       events.TripCreated,
		Key:        trip.ID,
		TripID:     trip.ID,
		UserID:     trip.UserID,
		Status:     string(trip.Status),
		OccurredAt: trip.CreatedAt,
	}}
	for _, id := range result.CancelledTripIDs {
		evts = append(evts, events.Event{
			Type:       events.TripCancelled,
			Key:        id,
			TripID:     id,
			UserID:     trip.UserID,
			Status:     string(domain.TripStatusCancelled),
			OccurredAt: trip.CreatedAt,
		})
	}
	publishEvents(s.deps.Publisher, s.logger, evts...)

	s.logger.Info("trip created",
		zap.String("trip_id", trip.ID),
		zap.String("user_id", trip.UserID),
		zap.Int("cancelled", len(result.CancelledTripIDs)),
	)
}

// UpdateTripStatusRequest contains the parameters for a status change.
// UserID is optional; when set, the trip must belong to that user.
type UpdateTripStatusRequest struct {
	TripID string
	Status domain.TripStatus
	UserID string
}

// UpdateTripStatus moves a trip to a new status. Writing the current status
// again is a no-op. Entering completed or cancelled removes the matches the
// trip initiated.
func (s *TripService) UpdateTripStatus(ctx context.Context, req UpdateTripStatusRequest) (*domain.Trip, error) {
	if !validation.IsValidID(req.TripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}
	if !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	var owner string
	if req.UserID != "" {
		owner = validation.SanitizeUserID(req.UserID)
		if owner == "" {
			return nil, ErrInvalidUserID
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer cancel()

	var (
		updated *domain.Trip
		changed bool
	)
	err := s.deps.Store.WithinTx(ctx, func(tx repository.Store) error {
		trip, err := tx.Trips().GetForUpdate(ctx, req.TripID)
		if err != nil {
			return err
		}
		if owner != "" && trip.UserID != owner {
			return ErrNotTripOwner
		}

		updated = trip
		if trip.Status == req.Status {
			return nil
		}
		if !domain.CanTransition(trip.Status, req.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, trip.Status, req.Status)
		}

		now := s.deps.Clock.Now()
		if err := tx.Trips().UpdateStatus(ctx, trip.ID, req.Status, now); err != nil {
			return err
		}
		trip.Status = req.Status
		trip.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.timeoutOr(ctx, err)
	}
	if !changed {
		return updated, nil
	}

	observability.TripStatusChangesTotal.WithLabelValues(string(updated.Status)).Inc()
	s.invalidate(ctx, updated.ID)

	if updated.Status.Terminal() {
		s.cleanupMatches(ctx, updated.ID)
	}
	s.deps.Hub.Publish(live.TopicTrips)

	eventType := events.TripStatusChanged
	if updated.Status == domain.TripStatusCancelled {
		eventType = events.TripCancelled
	}
	publishEvents(s.deps.Publisher, s.logger, events.Event{
		Type:       eventType,
		Key:        updated.ID,
		TripID:     updated.ID,
		UserID:     updated.UserID,
		Status:     string(updated.Status),
		OccurredAt: updated.UpdatedAt,
	})

	return updated, nil
}

// CancelTrip cancels a trip on behalf of userID.
func (s *TripService) CancelTrip(ctx context.Context, tripID, userID string) (*domain.Trip, error) {
	return s.UpdateTripStatus(ctx, UpdateTripStatusRequest{
		TripID: tripID,
		Status: domain.TripStatusCancelled,
		UserID: userID,
	})
}

// cleanupMatches deletes matches initiated by a finished trip. Failures are
// logged only; the status change has already been committed.
func (s *TripService) cleanupMatches(ctx context.Context, tripID string) {
	n, err := s.deps.Store.Matches().DeleteByTripA(ctx, tripID)
	if err != nil {
		s.logger.Warn("failed to clean up matches", zap.String("trip_id", tripID), zap.Error(err))
		return
	}
	if n > 0 {
		s.deps.Hub.Publish(live.TopicMatches)
	}
}

// GetTrip retrieves a trip, reading through the trip cache when configured.
func (s *TripService) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	if !validation.IsValidID(tripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}

	if s.deps.TripCache != nil {
		cached, err := s.deps.TripCache.GetTrip(ctx, tripID)
		if err != nil {
			s.logger.Warn("trip cache read failed", zap.String("trip_id", tripID), zap.Error(err))
		} else if cached != nil {
			return fromCachedTrip(cached), nil
		}
	}

	trip, err := s.deps.Store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if s.deps.TripCache != nil {
		if err := s.deps.TripCache.SetTrip(ctx, toCachedTrip(trip)); err != nil {
			s.logger.Warn("trip cache write failed", zap.String("trip_id", tripID), zap.Error(err))
		}
	}
	return trip, nil
}

// ActiveTripForUser returns the user's most recent pending, active or matched
// trip, or nil when there is none.
func (s *TripService) ActiveTripForUser(ctx context.Context, userID string) (*domain.Trip, error) {
	trips, err := s.deps.Store.Trips().ListByUser(ctx, userID, domain.CurrentTripStatuses, 1)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return trips[0], nil
}

// WatchUserActiveTrip delivers the user's current trip now and after every
// trip change. An invalid user id yields a single nil delivery.
func (s *TripService) WatchUserActiveTrip(userID string, fn func(*domain.Trip, error)) *live.Subscription {
	sanitized := validation.SanitizeUserID(userID)
	if sanitized == "" {
		s.logger.Warn("invalid user id for trip listener")
		return live.Empty(fn)
	}

	return live.Watch(s.deps.Hub, live.TopicTrips, func(ctx context.Context) (*domain.Trip, error) {
		return s.ActiveTripForUser(ctx, sanitized)
	}, func(trip *domain.Trip, err error) {
		if err != nil {
			s.logger.Warn("active trip listener failed", zap.String("user_id", sanitized), zap.Error(err))
		}
		fn(trip, err)
	})
}

func (s *TripService) invalidate(ctx context.Context, tripID string) {
	if s.deps.TripCache == nil {
		return
	}
	if err := s.deps.TripCache.InvalidateTrip(ctx, tripID); err != nil {
		s.logger.Warn("failed to invalidate trip cache", zap.String("trip_id", tripID), zap.Error(err))
	}
}

// timeoutOr maps a deadline hit on ctx to ErrTimeout.
func (s *TripService) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func toCachedTrip(t *domain.Trip) *redis.CachedTrip {
	return &redis.CachedTrip{
		ID:             t.ID,
		UserID:         t.UserID,
		PickupLat:      t.Pickup.Latitude,
		PickupLng:      t.Pickup.Longitude,
		PickupAddress:  t.Pickup.Address,
		DropoffLat:     t.Dropoff.Latitude,
		DropoffLng:     t.Dropoff.Longitude,
		DropoffAddress: t.Dropoff.Address,
		VehicleType:    string(t.VehicleType),
		EstimatedPrice: t.EstimatedPrice,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromCachedTrip(c *redis.CachedTrip) *domain.Trip {
	return &domain.Trip{
		ID:     c.ID,
		UserID: c.UserID,
		Pickup: domain.Location{
			Latitude:  c.PickupLat,
			Longitude: c.PickupLng,
			Address:   c.PickupAddress,
		},
		Dropoff: domain.Location{
			Latitude:  c.DropoffLat,
			Longitude: c.DropoffLng,
			Address:   c.DropoffAddress,
		},
		VehicleType:    domain.VehicleType(c.VehicleType),
		EstimatedPrice: c.EstimatedPrice,
		Status:         domain.TripStatus(c.Status),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
