package runtime

import (
	"math/big"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/accounts"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

// workingSet holds one mutable AccountInfo per address a transaction
// references, next to the committed state it was loaded from. An address
// referenced several times resolves to the same AccountInfo.
type workingSet struct {
	keys     []types.Pubkey
	infos    map[types.Pubkey]*svm.AccountInfo
	original map[types.Pubkey]*accounts.Account
}

func (rt *Runtime) loadAccounts(tx *Transaction) (*workingSet, error) {
	ws := &workingSet{
		infos:    make(map[types.Pubkey]*svm.AccountInfo),
		original: make(map[types.Pubkey]*accounts.Account),
	}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := ws.infos[meta.Pubkey]; ok {
				continue
			}
			acc, err := rt.loadAccount(meta.Pubkey)
			if err != nil {
				return nil, err
			}
			ws.keys = append(ws.keys, meta.Pubkey)
			ws.original[meta.Pubkey] = acc
			ws.infos[meta.Pubkey] = &svm.AccountInfo{
				Key:        meta.Pubkey,
				Owner:      acc.Owner,
				Lamports:   acc.Lamports,
				Data:       append([]byte(nil), acc.Data...),
				Executable: acc.Executable,
				RentEpoch:  acc.RentEpoch,
			}
		}
	}
	return ws, nil
}

// bind returns the accounts of ix in order, with the signer and writable
// flags ix grants. Signatures were verified before execution, so a meta
// flagged as signer is signed.
func (ws *workingSet) bind(ix svm.Instruction) []*svm.AccountInfo {
	signer := make(map[types.Pubkey]bool)
	writable := make(map[types.Pubkey]bool)
	for _, meta := range ix.Accounts {
		signer[meta.Pubkey] = signer[meta.Pubkey] || meta.IsSigner
		writable[meta.Pubkey] = writable[meta.Pubkey] || meta.IsWritable
	}

	infos := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		info := ws.infos[meta.Pubkey]
		info.IsSigner = signer[meta.Pubkey]
		info.IsWritable = writable[meta.Pubkey]
		infos[i] = info
	}
	return infos
}

// snapshotReadonly copies the accounts ix references only as read-only.
func (ws *workingSet) snapshotReadonly(ix svm.Instruction) map[types.Pubkey]*accounts.Account {
	writable := make(map[types.Pubkey]bool)
	for _, meta := range ix.Accounts {
		writable[meta.Pubkey] = writable[meta.Pubkey] || meta.IsWritable
	}
	snap := make(map[types.Pubkey]*accounts.Account)
	for _, meta := range ix.Accounts {
		if !writable[meta.Pubkey] {
			snap[meta.Pubkey] = toAccount(ws.infos[meta.Pubkey])
		}
	}
	return snap
}

// readonlyUnchanged compares every field, so reassigning or flagging an
// empty account counts as a modification.
func (ws *workingSet) readonlyUnchanged(snap map[types.Pubkey]*accounts.Account) bool {
	for key, before := range snap {
		if !before.Equal(toAccount(ws.infos[key])) {
			return false
		}
	}
	return true
}

// totalLamports sums every balance in the set without overflowing.
func (ws *workingSet) totalLamports() *big.Int {
	total := new(big.Int)
	for _, info := range ws.infos {
		total.Add(total, new(big.Int).SetUint64(info.Lamports))
	}
	return total
}

// changed returns the accounts whose state differs from what was loaded.
func (ws *workingSet) changed() map[types.Pubkey]*accounts.Account {
	updates := make(map[types.Pubkey]*accounts.Account)
	for _, key := range ws.keys {
		acc := toAccount(ws.infos[key])
		if !sameState(ws.original[key], acc) {
			updates[key] = acc
		}
	}
	return updates
}

func toAccount(info *svm.AccountInfo) *accounts.Account {
	acc := &accounts.Account{
		Lamports:   info.Lamports,
		Owner:      info.Owner,
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
	}
	if len(info.Data) > 0 {
		acc.Data = append([]byte(nil), info.Data...)
	}
	return acc
}

// sameState reports whether committing b over a is a no-op. All
// non-existent accounts are equal since the store drops them.
func sameState(a, b *accounts.Account) bool {
	if a.IsZero() && b.IsZero() {
		return true
	}
	return a.Equal(b)
}
