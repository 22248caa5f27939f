package service

import (
	"context"

	"github.com/mint-scanner/internal/adapter"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/models"
)

// InventoryService reads a wallet's recorded NFTs.
type InventoryService struct {
	nfts  InventoryReader
	tiers TierSource
}

// NewInventoryService creates a new inventory service
func NewInventoryService(nfts InventoryReader, tiers TierSource) *InventoryService {
	return &InventoryService{nfts: nfts, tiers: tiers}
}

// GetInventory returns address's records, totals and per-tier breakdown.
func (s *InventoryService) GetInventory(ctx context.Context, address string) (*models.Inventory, error) {
	owner := adapter.NormalizeAddress(address)
	if !adapter.ValidateAddress(owner) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	records, err := s.nfts.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list nft records", err)
	}
	totals, err := s.nfts.TotalsByOwner(ctx, owner)
	if err != nil {
		return nil, apperrors.NewDatabaseError("sum nft records", err)
	}
	byTier, err := s.nfts.TierBreakdown(ctx, owner)
	if err != nil {
		return nil, apperrors.NewDatabaseError("group nft records", err)
	}

	return &models.Inventory{
		Owner:   owner,
		Records: records,
		Totals:  totals,
		ByTier:  byTier,
	}, nil
}

// ListTiers returns the active tier configuration.
func (s *InventoryService) ListTiers(ctx context.Context) ([]models.Tier, error) {
	tiers, err := s.tiers.ListActive(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list tiers", err)
	}
	return tiers, nil
}
