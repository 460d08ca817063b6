package vault

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNoAuction = errors.New("vault: no open auction")

// Auction is an open liquidation started by a pool.
type Auction struct {
	Vault     common.Address
	OpenDebt  *uint256.Int
	StartedAt uint64
}

// AuctionHouse records auctions started by the pool. Bidding is handled
// elsewhere; the house only tracks which vaults are being sold and for how
// much debt.
type AuctionHouse struct {
	mu       sync.Mutex
	address  common.Address
	clock    func() uint64
	auctions map[common.Address]Auction
	started  uint64
}

// NewAuctionHouse creates a liquidator identified by addr. clock supplies the
// start timestamp recorded on each auction and may be nil.
func NewAuctionHouse(addr common.Address, clock func() uint64) *AuctionHouse {
	if clock == nil {
		clock = func() uint64 { return 0 }
	}
	return &AuctionHouse{address: addr, clock: clock, auctions: make(map[common.Address]Auction)}
}

// Address is the identity the pool expects settlements from.
func (h *AuctionHouse) Address() common.Address { return h.address }

// StartAuction opens an auction for vault.
func (h *AuctionHouse) StartAuction(vault common.Address, openDebt *uint256.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	debt := new(uint256.Int)
	if openDebt != nil {
		debt.Set(openDebt)
	}
	h.auctions[vault] = Auction{Vault: vault, OpenDebt: debt, StartedAt: h.clock()}
	h.started++
	return nil
}

// Open returns the auction for vault, if any.
func (h *AuctionHouse) Open(vault common.Address) (Auction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.auctions[vault]
	return a, ok
}

// Close removes the auction once the pool has been settled.
func (h *AuctionHouse) Close(vault common.Address) (Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.auctions[vault]
	if !ok {
		return Auction{}, ErrNoAuction
	}
	delete(h.auctions, vault)
	return a, nil
}

// Started counts auctions opened over the lifetime of the house.
func (h *AuctionHouse) Started() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}
