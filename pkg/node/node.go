// Package node wires a journal node together.
//
// The Node ties together all components:
// - AccountsDB (BadgerDB) holding account state
// - Ledger (BoltDB) recording every receipt
// - Runtime executing transactions with the journal program registered
//
// It also offers the client-side helpers the CLI needs: building and
// signing journal transactions, funding wallets, reading entries and
// moving state in and out through snapshots.
package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortiblox/x1-journal/internal/config"
	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/accounts"
	"github.com/fortiblox/x1-journal/pkg/ledger"
	"github.com/fortiblox/x1-journal/pkg/runtime"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/journal"
)

// Node errors.
var (
	ErrClosed        = errors.New("node is closed")
	ErrConfigInvalid = errors.New("invalid node configuration")
	ErrInitFailed    = errors.New("node initialization failed")
	ErrEntryNotFound = errors.New("journal entry not found")
)

// Options configures Open.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Registerer receives the runtime metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// InMemoryAccounts keeps account state in memory, for tests.
	InMemoryAccounts bool
}

// Node is an open journal node.
type Node struct {
	cfg     *config.Config
	log     *slog.Logger
	program types.Pubkey

	accounts *accounts.BadgerDB
	ledger   *ledger.Store
	runtime  *runtime.Runtime

	mu     sync.RWMutex
	closed bool
}

// Open validates the configuration and opens every store under its data
// directory.
func Open(opts Options) (*Node, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	n := &Node{
		cfg:     opts.Config,
		log:     opts.Logger,
		program: opts.Config.Program(),
	}
	if err := n.initialize(opts); err != nil {
		n.closeStorage()
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	return n, nil
}

func (n *Node) initialize(opts Options) error {
	if err := os.MkdirAll(n.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	accountsConfig := accounts.DefaultBadgerDBConfig(n.cfg.AccountsDir())
	accountsConfig.SyncWrites = n.cfg.SyncWrites
	accountsConfig.InMemory = opts.InMemoryAccounts
	accountsConfig.Logger = n.log
	accts, err := accounts.NewBadgerDB(accountsConfig)
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	n.accounts = accts

	store, err := ledger.Open(ledger.Config{
		Path:   n.cfg.LedgerPath(),
		NoSync: !n.cfg.SyncWrites,
		Logger: n.log,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	n.ledger = store

	rt, err := runtime.New(runtime.Config{
		Logger:           n.log,
		Accounts:         accts,
		Registerer:       opts.Registerer,
		Recorder:         store,
		Rent:             n.cfg.RentParams(),
		ComputeUnitLimit: n.cfg.ComputeUnitLimit,
	})
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	processor := journal.NewProcessor(journal.WithAddressCacheTTL(n.cfg.AddressCacheTTL))
	if err := rt.RegisterProgram(n.program, "journal", processor); err != nil {
		return err
	}
	n.runtime = rt

	n.log.Debug("node: opened", "dataDir", n.cfg.DataDir, "program", n.program)
	return nil
}

func (n *Node) closeStorage() {
	if n.ledger != nil {
		n.ledger.Close()
		n.ledger = nil
	}
	if n.accounts != nil {
		n.accounts.Close()
		n.accounts = nil
	}
}

// Close flushes and closes every store.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.closed = true

	var errs []error
	if n.accounts != nil {
		if n.cfg.SyncWrites {
			errs = append(errs, n.accounts.Sync())
		}
		errs = append(errs, n.accounts.Close())
		n.accounts = nil
	}
	if n.ledger != nil {
		errs = append(errs, n.ledger.Close())
		n.ledger = nil
	}
	return errors.Join(errs...)
}

func (n *Node) checkOpen() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	return nil
}

// ProgramID returns the journal program address.
func (n *Node) ProgramID() types.Pubkey {
	return n.program
}

// Runtime returns the node's runtime.
func (n *Node) Runtime() *runtime.Runtime {
	return n.runtime
}

// Ledger returns the receipt ledger.
func (n *Node) Ledger() *ledger.Store {
	return n.ledger
}

// Airdrop funds a wallet.
func (n *Node) Airdrop(ctx context.Context, to types.Pubkey, lamports uint64) (*runtime.Receipt, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	return n.runtime.Airdrop(ctx, to, lamports)
}

// CreateEntry creates the entry (title, owner) signed by key.
func (n *Node) CreateEntry(ctx context.Context, key ed25519.PrivateKey, title, message string) (*runtime.Receipt, error) {
	ix, err := journal.NewCreateInstruction(n.program, types.PubkeyFromPrivateKey(key), title, message)
	if err != nil {
		return nil, err
	}
	return n.Submit(ctx, key, ix)
}

// UpdateEntry replaces the message of an entry.
func (n *Node) UpdateEntry(ctx context.Context, key ed25519.PrivateKey, title, message string) (*runtime.Receipt, error) {
	ix, err := journal.NewUpdateInstruction(n.program, types.PubkeyFromPrivateKey(key), title, message)
	if err != nil {
		return nil, err
	}
	return n.Submit(ctx, key, ix)
}

// DeleteEntry closes an entry and refunds its balance to the owner.
func (n *Node) DeleteEntry(ctx context.Context, key ed25519.PrivateKey, title string) (*runtime.Receipt, error) {
	ix, err := journal.NewDeleteInstruction(n.program, types.PubkeyFromPrivateKey(key), title)
	if err != nil {
		return nil, err
	}
	return n.Submit(ctx, key, ix)
}

// Submit signs a transaction made of ixs with key and executes it.
func (n *Node) Submit(ctx context.Context, key ed25519.PrivateKey, ixs ...svm.Instruction) (*runtime.Receipt, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	tx := runtime.NewTransaction(ixs...)
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return n.runtime.Execute(ctx, tx)
}

// EntryView is an entry together with its account.
type EntryView struct {
	Address  types.Pubkey
	Bump     uint8
	Lamports uint64
	Data     []byte
	Entry    *journal.Entry
}

// Entry reads the entry (title, owner).
func (n *Node) Entry(owner types.Pubkey, title string) (*EntryView, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	addr, bump, err := journal.DeriveEntryAddress(n.program, title, owner)
	if err != nil {
		return nil, err
	}
	acc, err := n.accounts.GetAccount(addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %q of %s", ErrEntryNotFound, title, owner)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != n.program {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrEntryNotFound, addr, acc.Owner)
	}
	entry, err := journal.DecodeEntry(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", addr, err)
	}
	return &EntryView{
		Address:  addr,
		Bump:     bump,
		Lamports: acc.Lamports,
		Data:     acc.Data,
		Entry:    entry,
	}, nil
}

// GetAccount returns the committed state of an account.
func (n *Node) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	return n.accounts.GetAccount(pubkey)
}

// History returns up to limit receipts referencing addr, newest first.
func (n *Node) History(addr types.Pubkey, limit int) ([]*runtime.Receipt, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	return n.ledger.History(addr, limit)
}

// StateHash returns the Merkle root over every account.
func (n *Node) StateHash() (types.Hash, error) {
	if err := n.checkOpen(); err != nil {
		return types.Hash{}, err
	}
	return accounts.StateHash(n.accounts)
}

// ExportSnapshot writes all account state to path. The caller must not
// submit transactions while the export runs.
func (n *Node) ExportSnapshot(path string) (*accounts.SnapshotHeader, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	header, err := accounts.CreateSnapshotFile(path, n.accounts)
	if err != nil {
		return nil, err
	}
	n.log.Info("node: exported snapshot", "path", path, "accounts", header.AccountsCount, "stateHash", header.StateHash)
	return header, nil
}

// ImportSnapshot restores the snapshot at path. The node must hold no
// accounts yet.
func (n *Node) ImportSnapshot(path string) (*accounts.SnapshotHeader, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	header, err := accounts.LoadSnapshotFile(path, n.accounts)
	if err != nil {
		return nil, err
	}
	n.log.Info("node: imported snapshot", "path", path, "accounts", header.AccountsCount, "stateHash", header.StateHash)
	return header, nil
}

// Status describes the node's state.
type Status struct {
	// ProgramID is the journal program address.
	ProgramID types.Pubkey

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// LatestSeq is the sequence of the newest receipt.
	LatestSeq uint64

	// StateHash is the Merkle root over every account.
	StateHash types.Hash
}

// Status returns the node's current state.
func (n *Node) Status() (*Status, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return nil, err
	}
	seq, err := n.ledger.Latest()
	if err != nil {
		return nil, err
	}
	hash, err := accounts.StateHash(n.accounts)
	if err != nil {
		return nil, err
	}
	return &Status{
		ProgramID:     n.program,
		AccountsCount: count,
		LatestSeq:     seq,
		StateHash:     hash,
	}, nil
}
