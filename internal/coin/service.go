// Package coin is the coin ledger: the per-user profile holding a coin
// balance and the daily hunting allowance.
//
// Balance changes are read-modify-write against the store with no row lock
// or version check. Two concurrent updates for the same user can lose one of
// the writes (last writer wins). Per-user request volume is low enough that
// this is accepted; callers that need exact accounting must serialize.
package coin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pasarprediksi/market-core/internal/metrics"
	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/store"
)

const (
	// StartingBalance is credited to every new profile.
	StartingBalance int64 = 100
	// MaxHuntingAttempts is the number of hunting challenges per day.
	MaxHuntingAttempts = 3
	// HuntingReward is paid for each completed challenge.
	HuntingReward int64 = 10
)

var (
	ErrProfileCreation      = errors.New("profile creation rejected")
	ErrChallengeUnavailable = errors.New("hunting challenge not available")
)

// ServiceError wraps every failure surfaced by the ledger.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("coin: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func fail(op string, err error) error {
	return &ServiceError{Op: op, Err: err}
}

// Service manages user profiles.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a coin ledger over st.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		now:   time.Now,
	}
}

func (s *Service) today() string {
	return s.now().UTC().Format(model.DateLayout)
}

// GetProfile returns the user's profile, or nil if none exists. When more
// than one row is found the duplicates are repaired first.
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, model.ErrNotFound):
		return nil, nil
	case errors.Is(err, model.ErrMultipleRows):
		return s.RepairDuplicateProfiles(ctx, userID)
	default:
		return nil, fail("get profile", err)
	}
}

// RepairDuplicateProfiles keeps the oldest profile row for userID and
// deletes every other one. It returns the surviving row, or nil if the user
// has no profile at all.
func (s *Service) RepairDuplicateProfiles(ctx context.Context, userID string) (*model.Profile, error) {
	rows, err := s.store.ListProfiles(ctx, userID)
	if err != nil {
		return nil, fail("repair profiles", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	keep := rows[0]
	for _, dup := range rows[1:] {
		if err := s.store.DeleteProfile(ctx, dup.ID); err != nil {
			return nil, fail("repair profiles", err)
		}
	}
	if len(rows) > 1 {
		metrics.ProfileRepairs.Inc()
		metrics.ProfileRowsRemoved.Add(float64(len(rows) - 1))
		slog.Warn("repaired duplicate profiles",
			"user", userID,
			"kept", keep.ID,
			"removed", len(rows)-1,
		)
	}
	return &keep, nil
}

// CreateProfile inserts the default profile for userID.
func (s *Service) CreateProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{
		UserID:               userID,
		CoinBalance:          StartingBalance,
		DailyHuntingAttempts: 0,
		LastHuntingDate:      s.today(),
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return nil, fail("create profile", fmt.Errorf("%w: %w", ErrProfileCreation, err))
	}
	slog.Info("profile created", "user", userID, "balance", p.CoinBalance)
	return p, nil
}

// getOrCreate is the lazy-creation path shared by the mutators.
func (s *Service) getOrCreate(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return s.CreateProfile(ctx, userID)
}

// UpdateBalance adds delta to the user's balance and returns the updated
// profile. There is no floor: the balance may go negative.
func (s *Service) UpdateBalance(ctx context.Context, userID string, delta int64) (*model.Profile, error) {
	p, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance := p.CoinBalance + delta
	updated, err := s.store.UpdateProfile(ctx, userID, model.ProfileUpdate{CoinBalance: &balance})
	if err != nil {
		return nil, fail("update balance", err)
	}
	return updated, nil
}

// UpdateHuntingAttempts sets the attempt counter to n. It does not
// increment; the caller passes the next count.
func (s *Service) UpdateHuntingAttempts(ctx context.Context, userID string, n int) (*model.Profile, error) {
	if _, err := s.getOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateProfile(ctx, userID, model.ProfileUpdate{DailyHuntingAttempts: &n})
	if err != nil {
		return nil, fail("update hunting attempts", err)
	}
	return updated, nil
}

// ResetDailyAttempts zeroes the attempt counter and stamps today's date.
func (s *Service) ResetDailyAttempts(ctx context.Context, userID string) (*model.Profile, error) {
	zero, today := 0, s.today()
	updated, err := s.store.UpdateProfile(ctx, userID, model.ProfileUpdate{
		DailyHuntingAttempts: &zero,
		LastHuntingDate:      &today,
	})
	if err != nil {
		return nil, fail("reset daily attempts", err)
	}
	return updated, nil
}

// CheckAndResetDailyAttempts returns the user's profile, creating it if
// needed and resetting the attempt counter when the last hunting date is not
// today. Callers should go through here before reading attempt counts.
func (s *Service) CheckAndResetDailyAttempts(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.LastHuntingDate == s.today() {
		return p, nil
	}
	slog.Debug("new hunting day", "user", userID, "last", p.LastHuntingDate)
	return s.ResetDailyAttempts(ctx, userID)
}

// ClaimHuntingReward pays HuntingReward for completing challenge (1-based)
// and records it as today's latest attempt. Challenges unlock in order, so
// challenge n is claimable only when n-1 have been completed today. The
// credit and the attempt update commit together.
func (s *Service) ClaimHuntingReward(ctx context.Context, userID string, challenge int) (*model.Profile, error) {
	if challenge < 1 || challenge > MaxHuntingAttempts {
		return nil, fail("claim hunting reward",
			fmt.Errorf("%w: challenge %d out of range", ErrChallengeUnavailable, challenge))
	}

	var updated *model.Profile
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ledger := &Service{store: tx, now: s.now}

		p, err := ledger.CheckAndResetDailyAttempts(ctx, userID)
		if err != nil {
			return err
		}
		if p.DailyHuntingAttempts != challenge-1 {
			return fail("claim hunting reward",
				fmt.Errorf("%w: challenge %d with %d completed today",
					ErrChallengeUnavailable, challenge, p.DailyHuntingAttempts))
		}
		if _, err := ledger.UpdateBalance(ctx, userID, HuntingReward); err != nil {
			return err
		}
		updated, err = ledger.UpdateHuntingAttempts(ctx, userID, challenge)
		return err
	})
	if err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			err = fail("claim hunting reward", err)
		}
		return nil, err
	}

	metrics.CoinsAwarded.Add(float64(HuntingReward))
	slog.Info("hunting reward claimed",
		"user", userID,
		"challenge", challenge,
		"balance", updated.CoinBalance,
	)
	return updated, nil
}
