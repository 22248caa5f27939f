package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mint-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeProviderError(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("batch failed: %w", NewProviderError("eth_getLogs", 100, 2099, cause))

	cat := Categorize(err)
	require.NotNil(t, cat)
	assert.Equal(t, CategoryProvider, cat.Category)
	assert.Equal(t, http.StatusBadGateway, cat.StatusCode)
	assert.Equal(t, uint64(100), cat.Details["fromBlock"])
	assert.True(t, IsRetryable(err))
	assert.True(t, IsProviderError(err))
	assert.ErrorIs(t, err, cause)
}

func TestCategorizeSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"scan in progress", fmt.Errorf("wallet 0xabc: %w", ErrScanInProgress), http.StatusConflict, "SCAN_IN_PROGRESS"},
		{"regression", ErrCheckpointRegression, http.StatusConflict, "CHECKPOINT_REGRESSION"},
		{"invalid address", &types.ServiceError{Code: "INVALID_ADDRESS_FORMAT", Message: "bad"}, http.StatusBadRequest, "INVALID_ADDRESS_FORMAT"},
		{"not found", &types.ServiceError{Code: "CHECKPOINT_NOT_FOUND", Message: "missing"}, http.StatusNotFound, "CHECKPOINT_NOT_FOUND"},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := Categorize(tt.err)
			require.NotNil(t, cat)
			assert.Equal(t, tt.status, cat.StatusCode)
			assert.Equal(t, tt.code, cat.Code)
			assert.Equal(t, tt.status, GetHTTPStatusCode(tt.err))
		})
	}
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidAddressError("0x1")))
	assert.False(t, IsUserError(NewDatabaseError("insert", stderrors.New("down"))))
	assert.True(t, IsRetryable(NewDatabaseError("insert", stderrors.New("down"))))
	assert.False(t, IsRetryable(NewInvalidParameterError("limit", "must be positive")))
	assert.Nil(t, Categorize(nil))
}

func TestDecodeErrorMessage(t *testing.T) {
	err := &DecodeError{TxHash: "0xdead", LogIndex: 3, Reason: "expected 4 topics, got 3"}
	assert.Equal(t, "decode log 0xdead#3: expected 4 topics, got 3", err.Error())

	gap := ClassificationGap{Owner: "0xabc", TokenID: 20000}
	assert.Contains(t, gap.String(), "20000")
}
