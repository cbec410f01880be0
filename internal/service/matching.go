package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"humgo/internal/domain"
	"humgo/internal/events"
	"humgo/internal/geo"
	"humgo/internal/live"
	"humgo/internal/observability"
	"humgo/internal/repository"
	"humgo/internal/validation"
)

const (
	DefaultRadiusKm = 10.0
	MinRadiusKm     = 1.0
	MaxRadiusKm     = 50.0

	// CandidateLimit caps the trips evaluated per scan.
	CandidateLimit = 50

	// MaxMatches caps the ranked result.
	MaxMatches = 10

	MinEtaMinutes = 3

	persistTimeout = 10 * time.Second
)

// EffectiveRadius returns the search radius to use for a requested one. A
// missing radius (<= 0, NaN or infinite) means the default; anything else is
// clamped to [MinRadiusKm, MaxRadiusKm].
func EffectiveRadius(radiusKm float64) float64 {
	if radiusKm <= 0 || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return DefaultRadiusKm
	}
	return math.Min(MaxRadiusKm, math.Max(MinRadiusKm, radiusKm))
}

// Rank scores candidates against the reference trip. A candidate qualifies
// when both its pickup and its drop-off lie within the effective radius of
// the reference's. Results are ordered closest first, ties kept in candidate
// order, and capped at MaxMatches.
func Rank(ref *domain.Trip, candidates []*domain.Trip, radiusKm float64) []domain.Match {
	radius := EffectiveRadius(radiusKm)
	seen := make(map[string]struct{}, len(candidates))
	matches := make([]domain.Match, 0, MaxMatches)

	for _, c := range candidates {
		if !validation.IsValidTrip(c) {
			continue
		}
		if c.ID == ref.ID || c.UserID == ref.UserID {
			continue
		}

		id := domain.MatchID(ref.ID, c.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		pickupKm := geo.HaversineKm(ref.Pickup.Latitude, ref.Pickup.Longitude, c.Pickup.Latitude, c.Pickup.Longitude)
		dropKm := geo.HaversineKm(ref.Dropoff.Latitude, ref.Dropoff.Longitude, c.Dropoff.Latitude, c.Dropoff.Longitude)
		if pickupKm > radius || dropKm > radius {
			continue
		}

		distance := math.Round(math.Max(pickupKm, dropKm)*10) / 10
		matches = append(matches, domain.Match{
			ID:             id,
			TripA:          ref.ID,
			TripB:          c.ID,
			Riders:         1,
			DistanceKm:     distance,
			EtaMinutes:     etaMinutes(distance),
			PickupAddress:  validation.SanitizeText(c.Pickup.Address, validation.MaxAddressLength),
			DropoffAddress: validation.SanitizeText(c.Dropoff.Address, validation.MaxAddressLength),
			Status:         domain.MatchStatusPending,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches
}

func etaMinutes(distanceKm float64) int {
	eta := int(math.Round(distanceKm * 2))
	if eta < MinEtaMinutes {
		return MinEtaMinutes
	}
	return eta
}

// MatchingService runs candidate scans for reference trips and persists
// their results.
type MatchingService struct {
	deps   Deps
	logger *zap.Logger

	// scanSeq holds the latest scan number per reference trip. Persistence of
	// an older scan is dropped.
	mu      sync.Mutex
	scanSeq map[string]uint64
	nextSeq uint64

	persisting sync.WaitGroup
}

// NewMatchingService creates a new MatchingService.
func NewMatchingService(deps Deps) *MatchingService {
	deps = deps.withDefaults()
	return &MatchingService{
		deps:    deps,
		logger:  deps.Logger.Named("matching_service"),
		scanSeq: make(map[string]uint64),
	}
}

// scan fetches the candidate snapshot and ranks it.
func (s *MatchingService) scan(ctx context.Context, ref *domain.Trip, radiusKm float64) ([]domain.Match, error) {
	start := time.Now()
	defer func() {
		observability.MatchScanDuration.Observe(time.Since(start).Seconds())
	}()
	observability.MatchScansTotal.Inc()

	candidates, err := s.deps.Store.Trips().ListByStatus(ctx, domain.CandidateTripStatuses, CandidateLimit)
	if err != nil {
		return nil, err
	}

	matches := Rank(ref, candidates, radiusKm)
	now := s.deps.Clock.Now()
	for i := range matches {
		matches[i].CreatedAt = now
	}
	observability.MatchesFoundTotal.Add(float64(len(matches)))
	return matches, nil
}

// Watch attaches a live candidate scan for ref. onMatches receives every
// ranked result; onError receives fetch failures, after which the caller
// should show an empty, settled view. The scan re-runs on every trip change
// until the subscription is stopped. Once the stored reference trip is no
// longer pending or active, scans deliver an empty result and persist nothing.
func (s *MatchingService) Watch(ref *domain.Trip, radiusKm float64, onMatches func([]domain.Match), onError func(error)) (*live.Subscription, error) {
	if !validation.IsValidTrip(ref) {
		s.logger.Warn("rejected match scan for invalid trip")
		return nil, ErrInvalidTrip
	}
	refCopy := *ref

	type scanResult struct {
		matches []domain.Match
		seq     uint64
	}

	sub := live.Watch(s.deps.Hub, live.TopicTrips, func(ctx context.Context) (scanResult, error) {
		seq := s.beginScan(refCopy.ID)

		open, err := s.referenceOpen(ctx, refCopy.ID)
		if err != nil {
			s.finishScan(refCopy.ID, seq)
			return scanResult{}, err
		}
		if !open {
			s.finishScan(refCopy.ID, seq)
			return scanResult{seq: seq}, nil
		}

		matches, err := s.scan(ctx, &refCopy, radiusKm)
		if err != nil {
			s.finishScan(refCopy.ID, seq)
		}
		return scanResult{matches: matches, seq: seq}, err
	}, func(res scanResult, err error) {
		if err != nil {
			s.logger.Error("match scan failed", zap.String("trip_id", refCopy.ID), zap.Error(err))
			if onError != nil {
				onError(err)
			}
			return
		}
		onMatches(res.matches)
		s.persistAsync(refCopy.ID, res.seq, res.matches)
	})
	return sub, nil
}

// referenceOpen reports whether a reference trip may still gather matches.
// A trip that is not stored yet counts as open; persist skips it.
func (s *MatchingService) referenceOpen(ctx context.Context, tripID string) (bool, error) {
	stored, err := s.deps.Store.Trips().GetByID(ctx, tripID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return isCandidateStatus(stored.Status), nil
}

func isCandidateStatus(status domain.TripStatus) bool {
	for _, st := range domain.CandidateTripStatuses {
		if st == status {
			return true
		}
	}
	return false
}

// FindMatches runs one scan for a stored trip and persists the result before
// returning it. A trip that is no longer pending or active has no matches.
func (s *MatchingService) FindMatches(ctx context.Context, tripID string, radiusKm float64) ([]domain.Match, error) {
	if !validation.IsValidID(tripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}

	ref, err := s.deps.Store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !validation.IsValidTrip(ref) {
		return nil, ErrInvalidTrip
	}
	if !isCandidateStatus(ref.Status) {
		return []domain.Match{}, nil
	}

	seq := s.beginScan(ref.ID)
	matches, err := s.scan(ctx, ref, radiusKm)
	if err != nil {
		s.finishScan(ref.ID, seq)
		return nil, err
	}
	if err := s.persist(ctx, ref.ID, seq, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// ListMatchesForTrip returns the persisted matches where the trip is either
// side, closest first.
func (s *MatchingService) ListMatchesForTrip(ctx context.Context, tripID string) ([]*domain.Match, error) {
	if !validation.IsValidID(tripID, validation.MaxTripIDLength) {
		return nil, ErrInvalidTripID
	}
	return s.deps.Store.Matches().ListByTrip(ctx, tripID)
}

// Wait blocks until background persistence started so far has finished.
func (s *MatchingService) Wait() {
	s.persisting.Wait()
}

func (s *MatchingService) beginScan(tripID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.scanSeq[tripID] = s.nextSeq
	return s.nextSeq
}

func (s *MatchingService) isLatest(tripID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanSeq[tripID] == seq
}

// finishScan forgets tripID once its latest scan is done. Late results of
// older scans still compare unequal and are dropped.
func (s *MatchingService) finishScan(tripID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanSeq[tripID] == seq {
		delete(s.scanSeq, tripID)
	}
}

func (s *MatchingService) persistAsync(tripID string, seq uint64, matches []domain.Match) {
	if len(matches) == 0 {
		s.finishScan(tripID, seq)
		return
	}
	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := s.persist(ctx, tripID, seq, matches); err != nil {
			s.logger.Error("failed to persist matches", zap.String("trip_id", tripID), zap.Error(err))
		}
	}()
}

// persist upserts matches by pair id in one transaction. Nothing is written
// when a newer scan for the same reference trip has started or when the
// stored reference trip is missing or no longer pending or active.
func (s *MatchingService) persist(ctx context.Context, tripID string, seq uint64, matches []domain.Match) error {
	defer s.finishScan(tripID, seq)

	written := 0
	err := s.deps.Store.WithinTx(ctx, func(tx repository.Store) error {
		written = 0
		if !s.isLatest(tripID, seq) {
			observability.StaleScansDroppedTotal.Inc()
			s.logger.Debug("dropping superseded scan", zap.String("trip_id", tripID), zap.Uint64("seq", seq))
			return nil
		}

		// Held until commit, so a concurrent status change either waits for
		// these rows and then deletes them, or is seen here.
		ref, err := tx.Trips().GetForUpdate(ctx, tripID)
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("skipping matches of unknown trip", zap.String("trip_id", tripID))
			return nil
		}
		if err != nil {
			return err
		}
		if !isCandidateStatus(ref.Status) {
			s.logger.Debug("skipping matches of finished trip", zap.String("trip_id", tripID), zap.String("status", string(ref.Status)))
			return nil
		}

		for i := range matches {
			m := matches[i]
			if m.TripA == m.TripB {
				s.logger.Warn("skipping self match", zap.String("match_id", m.ID))
				continue
			}
			if err := tx.Matches().Upsert(ctx, &m); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if written == 0 {
		return nil
	}
	observability.MatchesPersistedTotal.Add(float64(written))
	s.deps.Hub.Publish(live.TopicMatches)
	publishEvents(s.deps.Publisher, s.logger, events.Event{
		Type:       events.MatchesPersisted,
		Key:        tripID,
		TripID:     tripID,
		Count:      written,
		OccurredAt: s.deps.Clock.Now(),
	})
	return nil
}
