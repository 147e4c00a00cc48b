// Package ledger persists runtime receipts in a BoltDB file.
//
// Receipts are stored gob-encoded under their sequence number. Two indexes
// are maintained in the same write transaction: signature to sequence, and
// address+sequence for every account a receipt references, which backs
// per-address history queries.
package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/runtime"
)

var (
	// ErrReceiptNotFound is returned when no receipt matches a query.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// Bucket names.
var (
	// bucketReceipts stores receipts keyed by sequence.
	bucketReceipts = []byte("receipts")

	// bucketBySignature maps signatures to sequences.
	bucketBySignature = []byte("by_sig")

	// bucketByAddress indexes sequences by address+sequence.
	bucketByAddress = []byte("by_addr")
)

// DefaultHistoryLimit caps history queries that do not set a limit.
const DefaultHistoryLimit = 100

// Config holds ledger options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	Logger *slog.Logger
}

// Store is a BoltDB-backed receipt ledger. It implements runtime.Recorder
// and runtime.SignatureIndex.
type Store struct {
	db  *bolt.DB
	log *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the ledger at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, log: log}

	if !cfg.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketBySignature, bucketByAddress} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Record appends r to the ledger and sets r.Seq.
func (s *Store) Record(ctx context.Context, r *runtime.Receipt) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		seq, err := receipts.NextSequence()
		if err != nil {
			return err
		}
		r.Seq = seq

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(r); err != nil {
			return fmt.Errorf("encode receipt: %w", err)
		}
		seqKey := encodeSeqKey(seq)
		if err := receipts.Put(seqKey, buf.Bytes()); err != nil {
			return err
		}

		if !r.Signature.IsZero() {
			if err := tx.Bucket(bucketBySignature).Put(r.Signature[:], seqKey); err != nil {
				return err
			}
		}

		byAddr := tx.Bucket(bucketByAddress)
		for _, addr := range r.Accounts {
			if err := byAddr.Put(encodeAddressSeqKey(addr, seq), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.Seq = 0
		return err
	}

	s.log.Debug("ledger: recorded receipt", "seq", r.Seq, "kind", r.Kind, "success", r.Success)
	return nil
}

// Get returns the receipt with sequence seq.
func (s *Store) Get(seq uint64) (*runtime.Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var r *runtime.Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = getReceipt(tx, seq)
		return err
	})
	return r, err
}

// BySignature returns the receipt of the transaction identified by sig.
func (s *Store) BySignature(sig types.Signature) (*runtime.Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var r *runtime.Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		seqKey := tx.Bucket(bucketBySignature).Get(sig[:])
		if seqKey == nil {
			return ErrReceiptNotFound
		}
		var err error
		r, err = getReceipt(tx, decodeSeqKey(seqKey))
		return err
	})
	return r, err
}

// HasSignature reports whether a receipt for sig was recorded.
func (s *Store) HasSignature(sig types.Signature) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBySignature).Get(sig[:]) != nil
		return nil
	})
	return found, err
}

// History returns up to limit receipts referencing addr, newest first.
// A non-positive limit means DefaultHistoryLimit.
func (s *Store) History(addr types.Pubkey, limit int) ([]*runtime.Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var results []*runtime.Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByAddress).Cursor()
		prefix := addr[:]

		// Seek past the newest possible key of addr, then walk backwards.
		k, _ := c.Seek(encodeAddressSeqKey(addr, ^uint64(0)))
		if k == nil || !bytes.Equal(k, encodeAddressSeqKey(addr, ^uint64(0))) {
			k, _ = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
			_, seq := decodeAddressSeqKey(k)
			r, err := getReceipt(tx, seq)
			if err != nil {
				return fmt.Errorf("receipt %d: %w", seq, err)
			}
			results = append(results, r)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	return results, err
}

// Latest returns the highest recorded sequence, or zero for an empty
// ledger.
func (s *Store) Latest() (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var seq uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketReceipts).Cursor().Last()
		if k != nil {
			seq = decodeSeqKey(k)
		}
		return nil
	})
	return seq, err
}

// Close closes the ledger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

func getReceipt(tx *bolt.Tx, seq uint64) (*runtime.Receipt, error) {
	data := tx.Bucket(bucketReceipts).Get(encodeSeqKey(seq))
	if data == nil {
		return nil, ErrReceiptNotFound
	}
	var r runtime.Receipt
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// encodeSeqKey encodes a sequence as a big-endian key so keys sort in
// sequence order.
func encodeSeqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeqKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// encodeAddressSeqKey encodes [32-byte address][8-byte sequence big-endian].
func encodeAddressSeqKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, 0, 40)
	key = append(key, addr[:]...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func decodeAddressSeqKey(key []byte) (types.Pubkey, uint64) {
	var addr types.Pubkey
	if len(key) < 40 {
		return addr, 0
	}
	copy(addr[:], key[:32])
	return addr, binary.BigEndian.Uint64(key[32:])
}

var (
	_ runtime.Recorder       = (*Store)(nil)
	_ runtime.SignatureIndex = (*Store)(nil)
)
