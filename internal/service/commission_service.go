package service

import (
	"context"

	"github.com/mint-scanner/internal/adapter"
	"github.com/mint-scanner/internal/commission"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
)

// Ranking size bounds.
const (
	DefaultRankingLimit = 20
	MaxRankingLimit     = 100
)

// CommissionService derives referrer commission snapshots from the inventory
// and the referral directory.
type CommissionService struct {
	referrals ReferralDirectory
	nfts      PerformanceReader
	schedule  *commission.Schedule
	cache     CommissionCache
	logger    *logging.Logger
}

// NewCommissionService creates a new commission service. cache may be nil.
func NewCommissionService(referrals ReferralDirectory, nfts PerformanceReader, schedule *commission.Schedule, cache CommissionCache, logger *logging.Logger) *CommissionService {
	if schedule == nil {
		schedule = commission.DefaultSchedule()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CommissionService{
		referrals: referrals,
		nfts:      nfts,
		schedule:  schedule,
		cache:     cache,
		logger:    logger.WithComponent("commission_service"),
	}
}

// GetCommissionSnapshot returns referrer's performance, commission and what
// is still available to claim. ReferrerHoldsNFT gates payout; it does not
// change the amounts.
func (s *CommissionService) GetCommissionSnapshot(ctx context.Context, address string) (*models.CommissionSnapshot, error) {
	referrer := adapter.NormalizeAddress(address)
	if !adapter.ValidateAddress(referrer) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	if s.cache != nil {
		snap, ok, err := s.cache.GetCommission(ctx, referrer)
		if err != nil {
			s.logger.WithError(err).Warn("Commission cache read failed")
		} else if ok {
			return snap, nil
		}
	}

	referrals, err := s.referrals.GetDirectReferrals(ctx, referrer)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get direct referrals", err)
	}
	wallets := make([]string, len(referrals))
	for i, r := range referrals {
		wallets[i] = r.WalletAddress
	}

	totals, err := s.nfts.TotalsByOwners(ctx, wallets)
	if err != nil {
		return nil, apperrors.NewDatabaseError("sum referral performance", err)
	}

	claimed, err := s.referrals.GetClaimedAmount(ctx, referrer)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get claimed amount", err)
	}

	holds, err := s.nfts.HasAny(ctx, referrer)
	if err != nil {
		return nil, apperrors.NewDatabaseError("check referrer holdings", err)
	}

	snap := s.schedule.Compute(totals.Value, claimed)
	snap.ReferrerAddress = referrer
	snap.ReferralCount = len(referrals)
	snap.ReferrerHoldsNFT = holds

	if s.cache != nil {
		if err := s.cache.SetCommission(ctx, &snap); err != nil {
			s.logger.WithError(err).Warn("Commission cache write failed")
		}
	}
	return &snap, nil
}

// Ranking returns the top referrers by direct-referral performance with
// their estimated commission.
func (s *CommissionService) Ranking(ctx context.Context, limit int) ([]models.ReferrerRanking, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	if limit > MaxRankingLimit {
		return nil, apperrors.NewInvalidParameterError("limit", "must be at most 100")
	}

	if s.cache != nil {
		ranking, ok, err := s.cache.GetRanking(ctx, limit)
		if err != nil {
			s.logger.WithError(err).Warn("Ranking cache read failed")
		} else if ok {
			return ranking, nil
		}
	}

	ranking, err := s.referrals.TopReferrers(ctx, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("rank referrers", err)
	}
	for i := range ranking {
		ranking[i].Rank = i + 1
		ranking[i].EstimatedCommission = s.schedule.Commission(ranking[i].TotalPerformance)
	}

	if s.cache != nil {
		if err := s.cache.SetRanking(ctx, limit, ranking); err != nil {
			s.logger.WithError(err).Warn("Ranking cache write failed")
		}
	}
	return ranking, nil
}
