package poolsim

import (
	"errors"
	"fmt"
	"log/slog"

	"tranchelend/config"
	"tranchelend/core/state"
	nativecommon "tranchelend/native/common"
	"tranchelend/native/lending"
	"tranchelend/native/token"
	"tranchelend/native/vault"
	"tranchelend/observability/metrics"
	"tranchelend/storage"
)

// Options carries the ambient dependencies of a node.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.LendingMetrics
	// Start is the unix time the engine clock begins at.
	Start uint64
}

// Node is a single pool deployment: the state store, the three token ledgers,
// the vault factory, the auction house and the engine tying them together.
type Node struct {
	Pool     *config.ResolvedPool
	State    *state.Manager
	Asset    *token.Ledger
	Shares   *token.Ledger
	Debt     *token.Ledger
	Vaults   *vault.Registry
	Auctions *vault.AuctionHouse
	Engine   *lending.Engine
	Pauses   *nativecommon.Pauses

	db     storage.Database
	logger *slog.Logger
}

// NewNode opens storage and wires a pool from cfg. A pool already present in
// persistent storage is reused; otherwise it is initialised with the
// configured tranches and the result committed.
func NewNode(cfg *config.Config, opts Options) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("poolsim: config required")
	}
	pool, err := cfg.Pool.Resolve()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Pool:   pool,
		State:  state.NewManager(db),
		Vaults: vault.NewRegistry(),
		Pauses: nativecommon.NewPauses(pool.Pauses...),
		db:     db,
		logger: logger.With(slog.String("pool", pool.ID)),
	}
	if err := n.wire(opts); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) wire(opts Options) error {
	var err error
	if n.Asset, err = token.NewLedger(n.Pool.AssetSymbol, n.State); err != nil {
		return err
	}
	if n.Shares, err = token.NewLedger(n.Pool.ShareSymbol, n.State); err != nil {
		return err
	}
	if n.Debt, err = token.NewLedger(n.Pool.DebtSymbol, n.State); err != nil {
		return err
	}

	n.Engine = lending.NewEngine(n.Pool.ID, n.Pool.Address, lending.Collaborators{
		Asset:   n.Asset,
		Shares:  n.Shares,
		Factory: n.Vaults,
		Vaults:  n.Vaults,
	})
	n.Auctions = vault.NewAuctionHouse(n.Pool.Liquidator, n.Engine.BlockTime)
	n.Engine.SetState(lending.NewStateStore(n.State))
	n.Engine.SetLogger(n.logger)
	n.Engine.SetMetrics(opts.Metrics)
	n.Engine.SetPauses(n.Pauses)
	n.Engine.SetBlockTime(opts.Start)

	return n.bootstrap()
}

func (n *Node) bootstrap() error {
	record, err := n.Engine.PoolRecord()
	switch {
	case errors.Is(err, lending.ErrPoolNotInitialised):
		if err := n.Engine.Initialize(n.Pool.Params); err != nil {
			return fmt.Errorf("poolsim: initialise pool: %w", err)
		}
		for _, tr := range n.Pool.Tranches {
			if err := n.Engine.AddTranche(n.Pool.Params.Owner, tr.Address, tr.Weight); err != nil {
				return fmt.Errorf("poolsim: register tranche %s: %w", tr.Address.Hex(), err)
			}
		}
		if record, err = n.Engine.PoolRecord(); err != nil {
			return err
		}
		n.logger.Info("pool created", slog.Int("tranches", len(record.Tranches)))
	case err != nil:
		return err
	default:
		n.logger.Info("pool loaded from storage",
			slog.Int("tranches", len(record.Tranches)),
			slog.Uint64("lastSyncedAt", record.LastSyncedAt))
		if record.LastSyncedAt > n.Engine.BlockTime() {
			n.Engine.SetBlockTime(record.LastSyncedAt)
		}
	}

	if err := n.Engine.SetDebtToken(record.Owner, n.Debt); err != nil {
		return fmt.Errorf("poolsim: install debt token: %w", err)
	}
	if err := n.Engine.SetLiquidator(record.Owner, n.Auctions.Address(), n.Auctions); err != nil {
		return fmt.Errorf("poolsim: install liquidator: %w", err)
	}
	return n.State.Commit()
}

// Commit flushes pending writes to storage.
func (n *Node) Commit() error {
	return n.State.Commit()
}

// Close releases the database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}
