// Package types provides common type definitions for the mint scanner system.
package types

// SyncStatus represents the scan state of a wallet checkpoint
type SyncStatus string

const (
	// SyncStatusPending represents a wallet that has never been scanned
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusInProgress represents a scan currently running
	SyncStatusInProgress SyncStatus = "in_progress"
	// SyncStatusCompleted represents a scan where every batch succeeded
	SyncStatusCompleted SyncStatus = "completed"
	// SyncStatusFailed represents a partial scan; the next run resumes from the checkpoint
	SyncStatusFailed SyncStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusCompleted, SyncStatusFailed:
		return true
	}
	return false
}

// Retryable reports whether a wallet in this status should be scanned again
// even when its last sync is fresh.
func (s SyncStatus) Retryable() bool {
	return s != SyncStatusCompleted
}

// MintOutcome describes what the scanner did with a decoded mint event
type MintOutcome string

const (
	// MintOutcomeInserted means a new NFT record was written
	MintOutcomeInserted MintOutcome = "inserted"
	// MintOutcomeDuplicate means the token was already recorded
	MintOutcomeDuplicate MintOutcome = "duplicate"
	// MintOutcomeUnclassified means the token id fell outside every active tier
	MintOutcomeUnclassified MintOutcome = "unclassified"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
