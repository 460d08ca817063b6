package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
	errNilStore              = errors.New("token: store not configured")
	errEmptySymbol           = errors.New("token: symbol required")
)

// Unlimited is the allowance sentinel that transfers never decrement.
var Unlimited = new(uint256.Int).SetAllOne()

// Store is the persistence surface a ledger needs. core/state.Manager
// satisfies it.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is a fungible balance sheet persisted under token/<symbol>/ keys.
// The same type backs the pool asset, tranche shares and debt shares.
type Ledger struct {
	symbol string
	store  Store
}

// NewLedger binds a ledger for symbol to the supplied store.
func NewLedger(symbol string, store Store) (*Ledger, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errEmptySymbol
	}
	if store == nil {
		return nil, errNilStore
	}
	return &Ledger{symbol: symbol, store: store}, nil
}

// Symbol returns the normalised ticker.
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) balanceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/balance/%x", l.symbol, addr.Bytes()))
}

func (l *Ledger) supplyKey() []byte {
	return []byte(fmt.Sprintf("token/%s/supply", l.symbol))
}

func (l *Ledger) allowanceKey(owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/allowance/%x/%x", l.symbol, owner.Bytes(), spender.Bytes()))
}

func (l *Ledger) read(key []byte) (*uint256.Int, error) {
	var stored big.Int
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	value, overflow := uint256.FromBig(&stored)
	if overflow {
		return nil, fmt.Errorf("token: stored value under %s exceeds 256 bits", key)
	}
	return value, nil
}

func (l *Ledger) write(key []byte, value *uint256.Int) error {
	return l.store.KVPut(key, value.ToBig())
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr common.Address) (*uint256.Int, error) {
	return l.read(l.balanceKey(addr))
}

// TotalSupply returns the amount in circulation.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	return l.read(l.supplyKey())
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	return l.read(l.allowanceKey(owner, spender))
}

// Mint credits amount to to and grows the supply.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.write(l.supplyKey(), next); err != nil {
		return err
	}
	// Balances never exceed supply, so this cannot overflow.
	return l.write(l.balanceKey(to), new(uint256.Int).Add(balance, amount))
}

// Burn debits amount from from and shrinks the supply.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from.Hex(), balance.Dec(), amount.Dec())
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.write(l.balanceKey(from), new(uint256.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return l.write(l.supplyKey(), new(uint256.Int).Sub(supply, amount))
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	toBal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.write(l.balanceKey(from), new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.write(l.balanceKey(to), new(uint256.Int).Add(toBal, amount))
}

// Approve sets the amount spender may move on behalf of owner.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.write(l.allowanceKey(owner, spender), amount)
}

// TransferFrom moves amount from from to to using spender's allowance. A
// spender moving its own funds needs no allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if spender != from {
		allowance, err := l.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: %s may spend %s of %s, requested %s", ErrInsufficientAllowance, spender.Hex(), allowance.Dec(), from.Hex(), amount.Dec())
		}
		if !allowance.Eq(Unlimited) {
			if err := l.write(l.allowanceKey(from, spender), new(uint256.Int).Sub(allowance, amount)); err != nil {
				return err
			}
		}
	}
	return l.Transfer(from, to, amount)
}
