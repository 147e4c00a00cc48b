package runtime

import (
	"time"

	"github.com/fortiblox/x1-journal/internal/types"
)

// Receipt kinds.
const (
	KindTransaction = "transaction"
	KindAirdrop     = "airdrop"
)

// Receipt describes the outcome of one executed transaction or airdrop.
type Receipt struct {
	// Seq is assigned by the Recorder; it is zero without one.
	Seq uint64

	Kind      string
	Signature types.Signature
	Programs  []types.Pubkey

	// Accounts lists every address referenced, in ascending order.
	Accounts []types.Pubkey

	Success bool
	// Error is the failure text, empty on success.
	Error string
	// Code is the failing program's numeric error, when it reports one.
	Code uint32

	Logs         []string
	ComputeUnits uint64

	// Modified lists the committed accounts in ascending order and
	// DeltaHash is the Merkle root over their new state.
	Modified  []types.Pubkey
	DeltaHash types.Hash

	ProcessedAt time.Time

	err error
}

// Err returns the failure as an error suitable for errors.Is. It is nil on
// success and for receipts read back from a ledger.
func (r *Receipt) Err() error {
	return r.err
}

func (r *Receipt) fail(err error, code uint32) {
	r.Success = false
	r.err = err
	r.Error = err.Error()
	r.Code = code
}

// Touches reports whether the receipt modified addr.
func (r *Receipt) Touches(addr types.Pubkey) bool {
	for _, key := range r.Modified {
		if key == addr {
			return true
		}
	}
	return false
}
