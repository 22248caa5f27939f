package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/models"
)

// TransferEventSignature is topic0 of the ERC-721 (and ERC-20) Transfer event.
var TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// zeroTopic is the zero address left-padded to 32 bytes.
var zeroTopic = common.Hash{}

// AddressTopic left-pads an address into a log topic.
func AddressTopic(address string) common.Hash {
	return common.BytesToHash(common.HexToAddress(address).Bytes())
}

// DecodeMintLog turns a raw log into a MintEvent. The log must be an indexed
// ERC-721 Transfer (four topics) whose sender is the zero address and whose
// recipient topic is a zero-padded address. The token id must fit in an int64.
// BlockTimestamp is left for the caller.
func DecodeMintLog(lg ethtypes.Log) (models.MintEvent, error) {
	fail := func(format string, args ...interface{}) (models.MintEvent, error) {
		return models.MintEvent{}, &apperrors.DecodeError{
			TxHash:   lg.TxHash.Hex(),
			LogIndex: lg.Index,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	if len(lg.Topics) != 4 {
		return fail("expected 4 topics, got %d", len(lg.Topics))
	}
	if lg.Topics[0] != TransferEventSignature {
		return fail("topic0 %s is not Transfer", lg.Topics[0].Hex())
	}
	if lg.Topics[1] != zeroTopic {
		return fail("sender %s is not the zero address", lg.Topics[1].Hex())
	}

	// An address topic is 12 zero bytes then the 20-byte address.
	if to := lg.Topics[2]; to != common.BytesToHash(to[common.HashLength-common.AddressLength:]) {
		return fail("recipient topic %s is not a padded address", to.Hex())
	}

	tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())
	if !tokenID.IsInt64() {
		return fail("token id %s overflows int64", tokenID.String())
	}

	minter := common.BytesToAddress(lg.Topics[2].Bytes())
	return models.MintEvent{
		TokenID:     tokenID.Int64(),
		Minter:      NormalizeAddress(minter.Hex()),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}, nil
}
