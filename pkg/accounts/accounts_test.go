package accounts

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fortiblox/x1-journal/internal/types"
)

func testAccount(lamports uint64, data string) *Account {
	return &Account{
		Lamports: lamports,
		Data:     []byte(data),
		Owner:    types.SystemProgramAddr,
	}
}

// openDBs returns one instance of every DB implementation.
func openDBs(t *testing.T) map[string]DB {
	t.Helper()

	bdb, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerDB failed: %v", err)
	}
	dbs := map[string]DB{
		"memory": NewMemoryDB(),
		"badger": bdb,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestAccountSerialization(t *testing.T) {
	owner := types.MustPubkeyFromBase58("4yt2ZeKvCQYGKCnG8WoibHSebf5d5pGZWCeALTHMZZ71")
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("test data"),
		Owner:      owner,
		Executable: true,
		RentEpoch:  100,
	}

	data, err := account.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if len(data) != account.Size() {
		t.Errorf("serialized size: got %d, want %d", len(data), account.Size())
	}

	restored, err := DeserializeAccount(data)
	if err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if !restored.Equal(account) {
		t.Errorf("round trip mismatch: got %+v, want %+v", restored, account)
	}

	empty := &Account{Lamports: 5, Owner: owner}
	data, err = empty.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	restored, err = DeserializeAccount(data)
	if err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if restored.Data != nil || !restored.Equal(empty) {
		t.Errorf("empty data round trip mismatch: %+v", restored)
	}
}

func TestDeserializeAccountInvalid(t *testing.T) {
	data, err := testAccount(7, "abc").Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	for _, n := range []int{0, 7, 11, 14, len(data) - 1} {
		if _, err := DeserializeAccount(data[:n]); !errors.Is(err, ErrInvalidData) {
			t.Errorf("truncated to %d: got %v, want ErrInvalidData", n, err)
		}
	}

	huge := append([]byte(nil), data...)
	huge[8], huge[9], huge[10], huge[11] = 0xFF, 0xFF, 0xFF, 0x7F
	if _, err := DeserializeAccount(huge); !errors.Is(err, ErrInvalidData) {
		t.Errorf("oversized length: got %v, want ErrInvalidData", err)
	}
}

func TestClone(t *testing.T) {
	a := testAccount(1, "data")
	c := a.Clone()
	c.Data[0] = 'X'
	if a.Data[0] != 'd' {
		t.Error("Clone shares data with the original")
	}
	if (*Account)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestDBBasics(t *testing.T) {
	for name, db := range openDBs(t) {
		t.Run(name, func(t *testing.T) {
			pubkey := types.Pubkey{1}
			account := testAccount(500_000_000, "account data")

			if err := db.SetAccount(pubkey, account); err != nil {
				t.Fatalf("SetAccount failed: %v", err)
			}
			exists, err := db.HasAccount(pubkey)
			if err != nil {
				t.Fatalf("HasAccount failed: %v", err)
			}
			if !exists {
				t.Error("Account should exist")
			}

			retrieved, err := db.GetAccount(pubkey)
			if err != nil {
				t.Fatalf("GetAccount failed: %v", err)
			}
			if !retrieved.Equal(account) {
				t.Errorf("retrieved mismatch: %+v", retrieved)
			}

			// Mutating the returned copy must not change the store.
			retrieved.Lamports = 1
			again, _ := db.GetAccount(pubkey)
			if again.Lamports != account.Lamports {
				t.Error("GetAccount returned shared state")
			}

			count, err := db.AccountsCount()
			if err != nil {
				t.Fatalf("AccountsCount failed: %v", err)
			}
			if count != 1 {
				t.Errorf("AccountsCount: got %d, want 1", count)
			}

			if err := db.DeleteAccount(pubkey); err != nil {
				t.Fatalf("DeleteAccount failed: %v", err)
			}
			if _, err := db.GetAccount(pubkey); !errors.Is(err, ErrAccountNotFound) {
				t.Errorf("GetAccount after delete: got %v, want ErrAccountNotFound", err)
			}
			if err := db.DeleteAccount(pubkey); err != nil {
				t.Errorf("deleting a missing account: %v", err)
			}
			if count, _ := db.AccountsCount(); count != 0 {
				t.Errorf("AccountsCount after delete: got %d, want 0", count)
			}
		})
	}
}

func TestDBZeroAccountIsDeleted(t *testing.T) {
	for name, db := range openDBs(t) {
		t.Run(name, func(t *testing.T) {
			pubkey := types.Pubkey{2}
			if err := db.SetAccount(pubkey, testAccount(10, "x")); err != nil {
				t.Fatalf("SetAccount failed: %v", err)
			}
			if err := db.SetAccount(pubkey, &Account{Owner: types.Pubkey{9}}); err != nil {
				t.Fatalf("SetAccount zero failed: %v", err)
			}
			exists, _ := db.HasAccount(pubkey)
			if exists {
				t.Error("zero account should be deleted")
			}
			if count, _ := db.AccountsCount(); count != 0 {
				t.Errorf("AccountsCount: got %d, want 0", count)
			}
		})
	}
}

func TestDBSetAccounts(t *testing.T) {
	for name, db := range openDBs(t) {
		t.Run(name, func(t *testing.T) {
			a, b, c := types.Pubkey{1}, types.Pubkey{2}, types.Pubkey{3}
			if err := db.SetAccount(c, testAccount(3, "")); err != nil {
				t.Fatalf("SetAccount failed: %v", err)
			}

			err := db.SetAccounts(map[types.Pubkey]*Account{
				a: testAccount(1, "a"),
				b: testAccount(2, "b"),
				c: nil,
			})
			if err != nil {
				t.Fatalf("SetAccounts failed: %v", err)
			}

			if count, _ := db.AccountsCount(); count != 2 {
				t.Errorf("AccountsCount: got %d, want 2", count)
			}
			var order []types.Pubkey
			err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
				order = append(order, pubkey)
				return nil
			})
			if err != nil {
				t.Fatalf("IterateAccounts failed: %v", err)
			}
			if len(order) != 2 || order[0] != a || order[1] != b {
				t.Errorf("iteration order: got %v", order)
			}
		})
	}
}

func TestDBIterateStops(t *testing.T) {
	for name, db := range openDBs(t) {
		t.Run(name, func(t *testing.T) {
			for i := byte(1); i <= 5; i++ {
				if err := db.SetAccount(types.Pubkey{i}, testAccount(uint64(i), "")); err != nil {
					t.Fatalf("SetAccount failed: %v", err)
				}
			}
			stop := errors.New("stop")
			seen := 0
			err := db.IterateAccounts(func(types.Pubkey, *Account) error {
				seen++
				if seen == 2 {
					return stop
				}
				return nil
			})
			if !errors.Is(err, stop) || seen != 2 {
				t.Errorf("got err=%v seen=%d", err, seen)
			}
		})
	}
}

func TestDBClosed(t *testing.T) {
	for name, db := range openDBs(t) {
		t.Run(name, func(t *testing.T) {
			db.Close()
			if _, err := db.GetAccount(types.Pubkey{1}); !errors.Is(err, ErrClosed) {
				t.Errorf("GetAccount: got %v, want ErrClosed", err)
			}
			if err := db.SetAccount(types.Pubkey{1}, testAccount(1, "")); !errors.Is(err, ErrClosed) {
				t.Errorf("SetAccount: got %v, want ErrClosed", err)
			}
		})
	}
}

func TestBadgerDBPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerDBConfig(dir)

	db, err := NewBadgerDB(cfg)
	if err != nil {
		t.Fatalf("NewBadgerDB failed: %v", err)
	}
	err = db.SetAccounts(map[types.Pubkey]*Account{
		{1}: testAccount(1, "one"),
		{2}: testAccount(2, "two"),
	})
	if err != nil {
		t.Fatalf("SetAccounts failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = NewBadgerDB(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	if count, _ := db.AccountsCount(); count != 2 {
		t.Errorf("AccountsCount after reopen: got %d, want 2", count)
	}
	acc, err := db.GetAccount(types.Pubkey{2})
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if string(acc.Data) != "two" {
		t.Errorf("data after reopen: got %q", acc.Data)
	}
}

func TestAccountHash(t *testing.T) {
	pubkey := types.Pubkey{1}
	account := testAccount(1_000_000_000, "test")

	h1 := ComputeAccountHash(pubkey, account)
	if h1 != ComputeAccountHash(pubkey, account.Clone()) {
		t.Error("account hash is not deterministic")
	}
	if h1.IsZero() {
		t.Error("account hash should not be zero")
	}

	changed := account.Clone()
	changed.Lamports++
	if ComputeAccountHash(pubkey, changed) == h1 {
		t.Error("lamports not covered by hash")
	}
	changed = account.Clone()
	changed.Owner = types.Pubkey{7}
	if ComputeAccountHash(pubkey, changed) == h1 {
		t.Error("owner not covered by hash")
	}
	if ComputeAccountHash(types.Pubkey{2}, account) == h1 {
		t.Error("pubkey not covered by hash")
	}
	if !ComputeAccountHash(pubkey, &Account{}).IsZero() {
		t.Error("zero account should hash to zero")
	}
}

func TestMerkleRoot(t *testing.T) {
	if !ComputeMerkleRoot(nil).IsZero() {
		t.Error("empty root should be zero")
	}

	a, b, c := types.Hash{1}, types.Hash{2}, types.Hash{3}
	if ComputeMerkleRoot([]types.Hash{a}) != computeLeafHash(a) {
		t.Error("single leaf root mismatch")
	}
	want := computeNodeHash(computeNodeHash(computeLeafHash(a), computeLeafHash(b)), computeNodeHash(computeLeafHash(c), types.Hash{}))
	if got := ComputeMerkleRoot([]types.Hash{a, b, c}); got != want {
		t.Errorf("three leaf root: got %s, want %s", got, want)
	}
	if ComputeMerkleRoot([]types.Hash{a, b}) == ComputeMerkleRoot([]types.Hash{b, a}) {
		t.Error("root should depend on order")
	}
}

func TestStateHash(t *testing.T) {
	dbs := openDBs(t)
	updates := map[types.Pubkey]*Account{
		{3}: testAccount(3, "c"),
		{1}: testAccount(1, "a"),
		{2}: testAccount(2, "b"),
	}

	var hashes []types.Hash
	for name, db := range dbs {
		if err := db.SetAccounts(updates); err != nil {
			t.Fatalf("%s: SetAccounts failed: %v", name, err)
		}
		h, err := StateHash(db)
		if err != nil {
			t.Fatalf("%s: StateHash failed: %v", name, err)
		}
		hashes = append(hashes, h)
	}
	if hashes[0] != hashes[1] {
		t.Errorf("implementations disagree: %s vs %s", hashes[0], hashes[1])
	}

	delta := DeltaHash([]AccountEntry{
		{Pubkey: types.Pubkey{2}, Account: updates[types.Pubkey{2}]},
		{Pubkey: types.Pubkey{1}, Account: updates[types.Pubkey{1}]},
		{Pubkey: types.Pubkey{3}, Account: updates[types.Pubkey{3}]},
	})
	if delta != hashes[0] {
		t.Errorf("delta over every account should equal the state hash")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	defer src.Close()
	for i := byte(1); i <= 20; i++ {
		acc := testAccount(uint64(i)*1000, string(bytes.Repeat([]byte{i}, int(i))))
		if err := src.SetAccount(types.Pubkey{i}, acc); err != nil {
			t.Fatalf("SetAccount failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "snapshots", "state.xjsnap")
	header, err := CreateSnapshotFile(path, src)
	if err != nil {
		t.Fatalf("CreateSnapshotFile failed: %v", err)
	}
	if header.AccountsCount != 20 {
		t.Errorf("AccountsCount: got %d, want 20", header.AccountsCount)
	}
	srcHash, _ := StateHash(src)
	if header.StateHash != srcHash {
		t.Error("header hash does not match source state")
	}

	dst, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerDB failed: %v", err)
	}
	defer dst.Close()

	loaded, err := LoadSnapshotFile(path, dst)
	if err != nil {
		t.Fatalf("LoadSnapshotFile failed: %v", err)
	}
	if *loaded != *header {
		t.Errorf("header mismatch: got %+v, want %+v", loaded, header)
	}
	dstHash, _ := StateHash(dst)
	if dstHash != srcHash {
		t.Error("restored state differs")
	}

	if _, err := LoadSnapshotFile(path, dst); !errors.Is(err, ErrSnapshotTargetInUse) {
		t.Errorf("restore into non-empty db: got %v, want ErrSnapshotTargetInUse", err)
	}
	if _, err := LoadSnapshotFile(filepath.Join(t.TempDir(), "missing"), NewMemoryDB()); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("missing file: got %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotTampered(t *testing.T) {
	src := NewMemoryDB()
	defer src.Close()
	if err := src.SetAccount(types.Pubkey{1}, testAccount(1, "a")); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := WriteSnapshot(&buf, src); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	raw := buf.Bytes()

	badHash := append([]byte(nil), raw...)
	badHash[20] ^= 0xFF
	if _, err := ReadSnapshot(bytes.NewReader(badHash), NewMemoryDB()); !errors.Is(err, ErrSnapshotHashMismatch) {
		t.Errorf("tampered hash: got %v, want ErrSnapshotHashMismatch", err)
	}

	badMagic := append([]byte(nil), raw...)
	badMagic[0] = 'Z'
	if _, err := ReadSnapshot(bytes.NewReader(badMagic), NewMemoryDB()); !errors.Is(err, ErrSnapshotInvalid) {
		t.Errorf("bad magic: got %v, want ErrSnapshotInvalid", err)
	}

	if _, err := ReadSnapshot(bytes.NewReader(raw[:10]), NewMemoryDB()); !errors.Is(err, ErrSnapshotInvalid) {
		t.Errorf("short header: got %v, want ErrSnapshotInvalid", err)
	}
}
