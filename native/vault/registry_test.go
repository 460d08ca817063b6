package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = b
	return addr
}

func TestRegistryTracksVaultsAndOwners(t *testing.T) {
	reg := NewRegistry()
	vaultAddr, owner := makeAddress(10), makeAddress(1)
	if _, err := reg.Create(vaultAddr, owner, uint256.NewInt(500)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Create(vaultAddr, owner, nil); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if !reg.IsVault(vaultAddr) || reg.IsVault(makeAddress(11)) {
		t.Fatalf("unexpected IsVault result")
	}

	got, err := reg.OwnerOf(vaultAddr)
	if err != nil || got != owner {
		t.Fatalf("unexpected owner %s (%v)", got.Hex(), err)
	}
	if _, err := reg.OwnerOf(makeAddress(11)); !errors.Is(err, ErrUnknownVault) {
		t.Fatalf("expected unknown vault, got %v", err)
	}

	view, err := reg.LookupVault(vaultAddr)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	value, err := view.CollateralValue()
	if err != nil || value.Uint64() != 500 {
		t.Fatalf("unexpected collateral %v (%v)", value, err)
	}
}

func TestRegistryOwnershipTransfer(t *testing.T) {
	reg := NewRegistry()
	vaultAddr, owner, next := makeAddress(10), makeAddress(1), makeAddress(2)
	if _, err := reg.Create(vaultAddr, owner, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.TransferOwnership(next, vaultAddr, next); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := reg.TransferOwnership(owner, vaultAddr, next); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got, _ := reg.OwnerOf(vaultAddr); got != next {
		t.Fatalf("owner not updated")
	}
}

func TestCollateralRemark(t *testing.T) {
	reg := NewRegistry()
	v, err := reg.Create(makeAddress(10), makeAddress(1), uint256.NewInt(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v.SetCollateralValue(uint256.NewInt(40))
	value, _ := v.CollateralValue()
	if value.Uint64() != 40 {
		t.Fatalf("expected remark to 40, got %s", value.Dec())
	}
	v.SetCollateralValue(nil)
	value, _ = v.CollateralValue()
	if !value.IsZero() {
		t.Fatalf("expected nil remark to clear collateral")
	}
}

func TestAuctionHouseLifecycle(t *testing.T) {
	house := NewAuctionHouse(makeAddress(99), func() uint64 { return 42 })
	vaultAddr := makeAddress(10)
	if err := house.StartAuction(vaultAddr, uint256.NewInt(70)); err != nil {
		t.Fatalf("start: %v", err)
	}
	a, ok := house.Open(vaultAddr)
	if !ok || a.OpenDebt.Uint64() != 70 || a.StartedAt != 42 {
		t.Fatalf("unexpected auction %+v", a)
	}
	if _, err := house.Close(vaultAddr); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := house.Close(vaultAddr); !errors.Is(err, ErrNoAuction) {
		t.Fatalf("expected no auction, got %v", err)
	}
	if house.Started() != 1 {
		t.Fatalf("expected one auction started")
	}
}
