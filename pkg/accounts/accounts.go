// Package accounts stores the account state the runtime executes against.
//
// Every address maps to an Account holding a lamport balance, opaque data
// and the program that owns it. Accounts with no lamports and no data do
// not exist: writing one deletes it. Two implementations share the DB
// interface:
// - MemoryDB keeps everything in a map and is used by tests and dry runs
// - BadgerDB persists accounts in an embedded BadgerDB instance
//
// The runtime commits every account a transaction touched through a single
// SetAccounts call, which both implementations apply atomically.
package accounts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/x1-journal/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxDataSize is the largest data payload an account may hold.
const MaxDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data, interpreted by the owning program.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	// RentEpoch is carried for compatibility; rent-exempt accounts never
	// collect rent.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// IsZero returns true if the account has no lamports and no data.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Equal reports whether both accounts hold the same state.
func (a *Account) Equal(b *Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}

// Size returns the serialized size of the account.
func (a *Account) Size() int {
	// lamports (8) + data_len (4) + data + owner (32) + executable (1) + rent_epoch (8)
	return 8 + 4 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account in Borsh layout:
// lamports u64, data Vec<u8>, owner [u8; 32], executable bool, rent_epoch u64.
func (a *Account) Serialize() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, a.Size()))
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint64(a.Lamports, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(a.Data)), binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Data, false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Owner[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(a.Executable); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(a.RentEpoch, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeAccount decodes an account produced by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	dec := bin.NewBorshDecoder(data)

	lamports, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: lamports: %v", ErrInvalidData, err)
	}
	dataLen, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrInvalidData, err)
	}
	if dataLen > MaxDataSize || int(dataLen) > dec.Remaining() {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidData, dataLen)
	}
	payload, err := dec.ReadNBytes(int(dataLen))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrInvalidData, err)
	}
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidData, err)
	}
	executable, err := dec.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: executable: %v", ErrInvalidData, err)
	}
	rentEpoch, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: rent epoch: %v", ErrInvalidData, err)
	}

	acc := &Account{
		Lamports:   lamports,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}
	if dataLen > 0 {
		acc.Data = append([]byte(nil), payload...)
	}
	copy(acc.Owner[:], owner)
	return acc, nil
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// SetAccounts stores every account in updates atomically: either all
	// of them are written or none is. Zero accounts are deleted.
	SetAccounts(updates map[types.Pubkey]*Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// IterateAccounts calls fn for every account in ascending pubkey
	// order. An error returned by fn stops the iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.SetAccounts(map[types.Pubkey]*Account{pubkey: account})
}

// SetAccounts stores all updates under one lock.
func (m *MemoryDB) SetAccounts(updates map[types.Pubkey]*Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for pubkey, account := range updates {
		if account == nil || account.IsZero() {
			delete(m.accounts, pubkey)
			continue
		}
		m.accounts[pubkey] = account.Clone()
	}
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// IterateAccounts visits a consistent copy of the accounts in pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]AccountEntry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Pubkey.Compare(entries[j].Pubkey) < 0
	})
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

// AccountEntry pairs a pubkey with its account.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// Verify that MemoryDB implements DB interface.
var _ DB = (*MemoryDB)(nil)
