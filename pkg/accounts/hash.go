package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/x1-journal/internal/types"
)

// Hash layout
//
// Account hash: blake3(lamports || rent_epoch || data || executable || owner || pubkey)
// with integers little-endian. Deleted accounts hash to the zero hash.
//
// State and delta hashes are binary Merkle roots over account hashes
// sorted by pubkey:
// - Leaf: blake3(0x00 || account_hash)
// - Node: blake3(0x01 || left || right)
// - An unpaired node is combined with the zero hash

// ComputeAccountHash computes the hash of a single account.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	h := blake3.New()
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], account.Lamports)
	h.Write(num[:])
	binary.LittleEndian.PutUint64(num[:], account.RentEpoch)
	h.Write(num[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// StateHash computes the Merkle root over every account in db.
func StateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// DeltaHash computes the Merkle root over a set of modified accounts.
// A nil or zero account stands for a deletion. The input is not modified.
func DeltaHash(entries []AccountEntry) types.Hash {
	sorted := append([]AccountEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Pubkey.Compare(sorted[j].Pubkey) < 0
	})

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeMerkleRoot computes the Merkle root of a list of hashes.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	var buf [1 + 32]byte
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return blake3.Sum256(buf[:])
}

func computeNodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 32 + 32]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return blake3.Sum256(buf[:])
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Compare(pubkeys[j]) < 0
	})
}
