package vault

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tranchelend/native/lending"
)

var (
	ErrUnknownVault = errors.New("vault: unknown vault")
	ErrVaultExists  = errors.New("vault: already registered")
	ErrNotOwner     = errors.New("vault: caller is not the owner")
)

// Vault is a collateral holder whose value is marked externally (by an oracle
// feed in production, by the scenario driver in simulations).
type Vault struct {
	mu         sync.RWMutex
	address    common.Address
	collateral *uint256.Int
}

// Address returns the vault identity.
func (v *Vault) Address() common.Address { return v.address }

// CollateralValue returns the current mark of the locked collateral.
func (v *Vault) CollateralValue() (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.collateral.Clone(), nil
}

// SetCollateralValue re-marks the vault.
func (v *Vault) SetCollateralValue(value *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if value == nil {
		value = new(uint256.Int)
	}
	v.collateral = value.Clone()
}

// Registry is the vault factory: it knows every vault and its owner.
type Registry struct {
	mu     sync.RWMutex
	vaults map[common.Address]*Vault
	owners map[common.Address]common.Address
}

func NewRegistry() *Registry {
	return &Registry{
		vaults: make(map[common.Address]*Vault),
		owners: make(map[common.Address]common.Address),
	}
}

// Create registers a vault at addr owned by owner.
func (r *Registry) Create(addr, owner common.Address, collateral *uint256.Int) (*Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vaults[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, addr.Hex())
	}
	v := &Vault{address: addr, collateral: new(uint256.Int)}
	if collateral != nil {
		v.collateral = collateral.Clone()
	}
	r.vaults[addr] = v
	r.owners[addr] = owner
	return v, nil
}

// IsVault reports whether addr was created by this registry.
func (r *Registry) IsVault(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vaults[addr]
	return ok
}

// OwnerOf returns the current owner of vault.
func (r *Registry) OwnerOf(vault common.Address) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[vault]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownVault, vault.Hex())
	}
	return owner, nil
}

// LookupVault resolves the collateral view for vault.
func (r *Registry) LookupVault(vault common.Address) (lending.Vault, error) {
	v, err := r.Get(vault)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the concrete vault.
func (r *Registry) Get(vault common.Address) (*Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[vault]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, vault.Hex())
	}
	return v, nil
}

// TransferOwnership hands vault to newOwner. Credit allowances granted by the
// previous owner stop applying once the owner changes.
func (r *Registry) TransferOwnership(caller, vault, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVault, vault.Hex())
	}
	if owner != caller {
		return ErrNotOwner
	}
	r.owners[vault] = newOwner
	return nil
}

// Vaults lists the registered vault addresses in ascending byte order.
func (r *Registry) Vaults() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.vaults))
	for addr := range r.vaults {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}
