package vault

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CollateralLedger moves collateral assets between users and the vault. Each
// call must be atomic-or-fail.
type CollateralLedger interface {
	TransferIn(ctx context.Context, asset, from common.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
}

// SyntheticLedger issues and retires the synthetic token. The engine is a
// trusted minter and may burn without an allowance.
type SyntheticLedger interface {
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
	BurnFrom(ctx context.Context, from common.Address, amount *uint256.Int) error
}
