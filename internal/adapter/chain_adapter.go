package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mint-scanner/internal/models"
)

// MintLogSource reads ERC-721 mint logs for a single wallet from the chain.
type MintLogSource interface {
	// FetchMintLogs returns the decoded Transfer-from-zero events of contract
	// whose recipient is owner, within [fromBlock, toBlock].
	// Failures are returned as *errors.ProviderError. Logs that fail to decode
	// are skipped, never the whole range.
	FetchMintLogs(ctx context.Context, contract string, fromBlock, toBlock uint64, owner string) ([]models.MintEvent, error)

	// CurrentBlock returns the chain head.
	CurrentBlock(ctx context.Context) (uint64, error)
}

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrInvalidBlockRange indicates fromBlock is after toBlock
	ErrInvalidBlockRange = fmt.Errorf("invalid block range")

	// ErrBlockNotFound indicates the provider returned no header for a block
	ErrBlockNotFound = fmt.Errorf("block not found")

	// ErrProviderUnavailable indicates no RPC endpoint is left to fail over to
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")
)

// ValidateAddress checks for a 0x-prefixed, 20-byte hex address.
func ValidateAddress(address string) bool {
	return len(address) == 42 && strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// NormalizeAddress lower-cases a wallet address. Wallets are stored and
// compared in this form everywhere.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
