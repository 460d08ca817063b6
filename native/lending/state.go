package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tranchelend/core/state"
)

type engineState interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(poolID string, pool *Pool) error
	GetCreditAllowance(poolID string, vault, owner, beneficiary common.Address) (*uint256.Int, error)
	PutCreditAllowance(poolID string, vault, owner, beneficiary common.Address, amount *uint256.Int) error
	IsLiquidating(poolID string, vault common.Address) (bool, error)
	SetLiquidating(poolID string, vault common.Address, active bool) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// StateStore persists pool records in a state manager. Token ledgers should
// share the same manager so a reverted call also reverts token movements.
type StateStore struct {
	manager *state.Manager
}

// NewStateStore binds the lending records to manager.
func NewStateStore(manager *state.Manager) *StateStore {
	return &StateStore{manager: manager}
}

func poolKey(poolID string) []byte {
	return []byte(fmt.Sprintf("lending/%s/pool", poolID))
}

func allowanceKey(poolID string, vault, owner, beneficiary common.Address) []byte {
	return []byte(fmt.Sprintf("lending/%s/allowance/%x/%x/%x", poolID, vault.Bytes(), owner.Bytes(), beneficiary.Bytes()))
}

func liquidationKey(poolID string, vault common.Address) []byte {
	return []byte(fmt.Sprintf("lending/%s/liquidation/%x", poolID, vault.Bytes()))
}

// GetPool returns nil when the pool has not been initialised.
func (s *StateStore) GetPool(poolID string) (*Pool, error) {
	var stored storedPool
	ok, err := s.manager.KVGet(poolKey(poolID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return stored.toPool()
}

func (s *StateStore) PutPool(poolID string, pool *Pool) error {
	if pool == nil {
		return fmt.Errorf("lending engine: nil pool")
	}
	return s.manager.KVPut(poolKey(poolID), newStoredPool(pool))
}

func (s *StateStore) GetCreditAllowance(poolID string, vault, owner, beneficiary common.Address) (*uint256.Int, error) {
	var stored big.Int
	ok, err := s.manager.KVGet(allowanceKey(poolID, vault, owner, beneficiary), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return fromBig(&stored)
}

func (s *StateStore) PutCreditAllowance(poolID string, vault, owner, beneficiary common.Address, amount *uint256.Int) error {
	return s.manager.KVPut(allowanceKey(poolID, vault, owner, beneficiary), toBig(amount))
}

func (s *StateStore) IsLiquidating(poolID string, vault common.Address) (bool, error) {
	var active bool
	ok, err := s.manager.KVGet(liquidationKey(poolID, vault), &active)
	if err != nil {
		return false, err
	}
	return ok && active, nil
}

func (s *StateStore) SetLiquidating(poolID string, vault common.Address, active bool) error {
	if !active {
		return s.manager.KVDelete(liquidationKey(poolID, vault))
	}
	return s.manager.KVPut(liquidationKey(poolID, vault), true)
}

func (s *StateStore) Snapshot() int { return s.manager.Snapshot() }

func (s *StateStore) RevertToSnapshot(id int) { s.manager.RevertToSnapshot(id) }
