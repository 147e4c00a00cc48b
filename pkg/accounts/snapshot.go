package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/x1-journal/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// Snapshot magic bytes for format validation.
var snapshotMagic = []byte{'X', 'J', 'S', 'N'}

// restoreBatchSize bounds how many accounts one SetAccounts call receives
// while restoring.
const restoreBatchSize = 1000

// Snapshot errors.
var (
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrSnapshotInvalid      = errors.New("invalid snapshot")
	ErrSnapshotHashMismatch = errors.New("snapshot state hash mismatch")
	ErrSnapshotTargetInUse  = errors.New("snapshot target database is not empty")
)

// SnapshotHeader describes a snapshot.
type SnapshotHeader struct {
	Version       uint32
	AccountsCount uint64
	StateHash     types.Hash
}

// Snapshot format:
//   - Magic (4 bytes): "XJSN"
//   - Version (4 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - StateHash (32 bytes)
//   - Accounts (zstd compressed), for each account in pubkey order:
//   - Pubkey (32 bytes)
//   - Size (4 bytes, little-endian)
//   - Serialized account
const snapshotHeaderSize = 4 + 4 + 8 + 32

// WriteSnapshot writes every account of db to w. db must not be written
// to while the snapshot is taken.
func WriteSnapshot(w io.Writer, db DB) (*SnapshotHeader, error) {
	header := &SnapshotHeader{Version: snapshotVersion}
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash accounts: %w", err)
	}
	header.AccountsCount = uint64(len(hashes))
	header.StateHash = ComputeMerkleRoot(hashes)

	if err := writeSnapshotHeader(w, header); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)

	var written uint64
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data, err := account.Serialize()
		if err != nil {
			return err
		}
		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data)))); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if written != header.AccountsCount {
		zw.Close()
		return nil, fmt.Errorf("accounts changed while writing snapshot: hashed %d, wrote %d", header.AccountsCount, written)
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return header, nil
}

func writeSnapshotHeader(w io.Writer, h *SnapshotHeader) error {
	buf := make([]byte, 0, snapshotHeaderSize)
	buf = append(buf, snapshotMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.AccountsCount)
	buf = append(buf, h.StateHash[:]...)
	_, err := w.Write(buf)
	return err
}

func readSnapshotHeader(r io.Reader) (*SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrSnapshotInvalid, err)
	}
	if string(buf[:4]) != string(snapshotMagic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrSnapshotInvalid, buf[:4])
	}

	h := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:8]),
		AccountsCount: binary.LittleEndian.Uint64(buf[8:16]),
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotInvalid, h.Version)
	}
	copy(h.StateHash[:], buf[16:48])
	return h, nil
}

// ReadSnapshot restores a snapshot into db, which must be empty. The
// restored state is checked against the header's state hash.
func ReadSnapshot(r io.Reader, db DB) (*SnapshotHeader, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	if count != 0 {
		return nil, fmt.Errorf("%w: holds %d accounts", ErrSnapshotTargetInUse, count)
	}

	header, err := readSnapshotHeader(r)
	if err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	batch := make(map[types.Pubkey]*Account, restoreBatchSize)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readSnapshotAccount(br)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		batch[pubkey] = account
		if len(batch) >= restoreBatchSize {
			if err := db.SetAccounts(batch); err != nil {
				return nil, err
			}
			batch = make(map[types.Pubkey]*Account, restoreBatchSize)
		}
	}
	if len(batch) > 0 {
		if err := db.SetAccounts(batch); err != nil {
			return nil, err
		}
	}

	computed, err := StateHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute state hash: %w", err)
	}
	if computed != header.StateHash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrSnapshotHashMismatch, header.StateHash, computed)
	}
	return header, nil
}

func readSnapshotAccount(r io.Reader) (types.Pubkey, *Account, error) {
	var pubkey types.Pubkey
	if _, err := io.ReadFull(r, pubkey[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: read pubkey: %v", ErrSnapshotInvalid, err)
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: read size: %v", ErrSnapshotInvalid, err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	// Bound the allocation before trusting the size.
	const maxSerializedSize = MaxDataSize + 64
	if size > maxSerializedSize {
		return types.Pubkey{}, nil, fmt.Errorf("%w: account size %d exceeds maximum %d", ErrSnapshotInvalid, size, maxSerializedSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("%w: read account: %v", ErrSnapshotInvalid, err)
	}
	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, err
	}
	return pubkey, account, nil
}

// CreateSnapshotFile writes a snapshot of db to path.
func CreateSnapshotFile(path string, db DB) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	header, err := WriteSnapshot(file, db)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return header, nil
}

// LoadSnapshotFile restores the snapshot at path into db.
func LoadSnapshotFile(path string, db DB) (*SnapshotHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()
	return ReadSnapshot(file, db)
}
