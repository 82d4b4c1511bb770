package approval

import (
	"fmt"

	"github.com/batua/wallet/src/domain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// personalMessageHash is the EIP-191 hash personal_sign commits to.
func personalMessageHash(message []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(message))
}

func typedDataHash(typedData apitypes.TypedData) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid typed data: %w", err))
	}
	return common.BytesToHash(digest), nil
}
