package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrOverflow            = errors.New("bank: balance overflow")
)

// Ledger is an in-memory fungible ledger holding any number of assets. It
// serves as the collateral ledger (assets move between holders and the vault
// custody account) and as the synthetic ledger (the synthetic asset is minted
// and burned).
type Ledger struct {
	mu        sync.Mutex
	custody   common.Address
	synthetic common.Address
	balances  map[common.Address]map[common.Address]*uint256.Int
	supply    map[common.Address]*uint256.Int
}

// NewLedger returns an empty ledger. custody receives deposited collateral and
// synthetic identifies the synthetic token.
func NewLedger(custody, synthetic common.Address) *Ledger {
	return &Ledger{
		custody:   custody,
		synthetic: synthetic,
		balances:  make(map[common.Address]map[common.Address]*uint256.Int),
		supply:    make(map[common.Address]*uint256.Int),
	}
}

// Custody returns the account holding deposited collateral.
func (l *Ledger) Custody() common.Address { return l.custody }

// Synthetic returns the synthetic token identifier.
func (l *Ledger) Synthetic() common.Address { return l.synthetic }

func (l *Ledger) balance(asset, holder common.Address) *uint256.Int {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		l.balances[asset] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(uint256.Int)
		holders[holder] = bal
	}
	return bal
}

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// move shifts amount between two holders. Must be called with mu held.
func (l *Ledger) move(asset, from, to common.Address, amount *uint256.Int) error {
	src := l.balance(asset, from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	dst := l.balance(asset, to)
	if _, overflow := new(uint256.Int).AddOverflow(dst, amount); overflow {
		return ErrOverflow
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

// Credit mints amount of asset to holder outside the vault flow, e.g. to fund
// a wallet in development.
func (l *Ledger) Credit(asset, holder common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(asset, holder, amount)
}

func (l *Ledger) credit(asset, holder common.Address, amount *uint256.Int) error {
	supply, ok := l.supply[asset]
	if !ok {
		supply = new(uint256.Int)
		l.supply[asset] = supply
	}
	if _, overflow := new(uint256.Int).AddOverflow(supply, amount); overflow {
		return ErrOverflow
	}
	bal := l.balance(asset, holder)
	bal.Add(bal, amount)
	supply.Add(supply, amount)
	return nil
}

// Balance returns the holder's balance of asset.
func (l *Ledger) Balance(asset, holder common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.balance(asset, holder))
}

// TotalSupply returns the amount of asset in existence.
func (l *Ledger) TotalSupply(asset common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if supply, ok := l.supply[asset]; ok {
		return new(uint256.Int).Set(supply)
	}
	return new(uint256.Int)
}

// TransferIn pulls collateral from a holder into custody.
func (l *Ledger) TransferIn(_ context.Context, asset, from common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(asset, from, l.custody, amount)
}

// TransferOut pays collateral from custody to a holder.
func (l *Ledger) TransferOut(_ context.Context, asset, to common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(asset, l.custody, to, amount)
}

// Mint issues synthetic tokens to a holder.
func (l *Ledger) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(l.synthetic, to, amount)
}

// BurnFrom destroys synthetic tokens held by from.
func (l *Ledger) BurnFrom(_ context.Context, from common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(l.synthetic, from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	supply := l.supply[l.synthetic]
	supply.Sub(supply, amount)
	return nil
}
