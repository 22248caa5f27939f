package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors raised by the scanner and its stores.
var (
	// ErrDuplicateRecord is returned when a token id is already recorded.
	// Callers treat it as a successful no-op.
	ErrDuplicateRecord = stderrors.New("nft record already exists")

	// ErrCheckpointRegression is returned when a checkpoint update would move
	// lastSyncedBlock backwards.
	ErrCheckpointRegression = stderrors.New("checkpoint regression rejected")

	// ErrScanInProgress is returned when another process holds the wallet's scan lock.
	ErrScanInProgress = stderrors.New("scan already in progress for wallet")
)

// ProviderError wraps an RPC failure for one block range.
type ProviderError struct {
	Op        string
	FromBlock uint64
	ToBlock   uint64
	Err       error
}

func (e *ProviderError) Error() string {
	if e.ToBlock > 0 {
		return fmt.Sprintf("provider %s [%d-%d]: %v", e.Op, e.FromBlock, e.ToBlock, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as a ProviderError for the given range.
func NewProviderError(op string, from, to uint64, err error) *ProviderError {
	return &ProviderError{Op: op, FromBlock: from, ToBlock: to, Err: err}
}

// IsProviderError reports whether err is, or wraps, a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return stderrors.As(err, &pe)
}

// DecodeError is returned when a log does not have the shape of an ERC-721 mint.
type DecodeError struct {
	TxHash   string
	LogIndex uint
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s#%d: %s", e.TxHash, e.LogIndex, e.Reason)
}

// ClassificationGap describes a minted token id outside every active tier.
// It is not returned as an error; the scanner logs and audits it.
type ClassificationGap struct {
	Owner   string
	TokenID int64
}

func (g ClassificationGap) String() string {
	return fmt.Sprintf("token %d minted by %s matches no active tier", g.TokenID, g.Owner)
}
