package system

import (
	"math"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

// Rent parameters. These match the Solana defaults.
const (
	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = 2.0

	// AccountStorageOverhead is charged on top of the data length, covering
	// the account metadata the store keeps for every account.
	AccountStorageOverhead = uint64(128)
)

// Rent computes rent-exempt minimum balances.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
}

// DefaultRent returns the Solana default rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
	}
}

// MinimumBalance returns the balance an account holding dataLen bytes needs
// to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	perYear := (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear
	return uint64(math.Floor(float64(perYear) * r.ExemptionThreshold))
}

var _ svm.Rent = Rent{}

// Reserve gives account a fresh zero-filled allocation of size bytes owned
// by owner, funding it up to the rent-exempt minimum from payer. Lamports
// already held by the account count towards the minimum. Returns the
// amount debited from payer. Nothing is modified on error.
func Reserve(rent svm.Rent, payer, account *svm.AccountInfo, size uint64, owner types.Pubkey) (uint64, error) {
	if size > MaxAccountDataSize {
		return 0, ErrAccountDataTooLarge
	}
	if !account.IsWritable {
		return 0, ErrAccountNotWritable
	}

	var cost uint64
	if required := rent.MinimumBalance(size); required > account.Lamports {
		cost = required - account.Lamports
	}
	if cost > 0 {
		if err := Transfer(payer, account, cost); err != nil {
			return 0, err
		}
	}

	account.Data = make([]byte, size)
	account.Owner = owner
	return cost, nil
}

// Resize reallocates account to exactly size bytes. Bytes beyond the old
// length are zero-filled. Growth is funded by payer; on shrink the balance
// above the new rent-exempt minimum is returned to payer. Nothing is
// modified on error.
func Resize(rent svm.Rent, payer, account *svm.AccountInfo, size uint64) (cost, refund uint64, err error) {
	if size > MaxAccountDataSize {
		return 0, 0, ErrAccountDataTooLarge
	}
	if !account.IsWritable || !payer.IsWritable {
		return 0, 0, ErrAccountNotWritable
	}

	required := rent.MinimumBalance(size)
	switch {
	case required > account.Lamports:
		cost = required - account.Lamports
		if err := Transfer(payer, account, cost); err != nil {
			return 0, 0, err
		}
	case required < account.Lamports:
		refund = account.Lamports - required
		if payer.Lamports > math.MaxUint64-refund {
			return 0, 0, ErrLamportOverflow
		}
		account.Lamports -= refund
		payer.Lamports += refund
	}

	resized := make([]byte, size)
	copy(resized, account.Data)
	account.Data = resized
	return cost, refund, nil
}

// Release closes account: its data is zeroed and freed, its whole balance
// is credited to recipient and ownership returns to the System Program.
// Returns the refunded amount. Nothing is modified on error.
func Release(account, recipient *svm.AccountInfo) (uint64, error) {
	if !account.IsWritable || !recipient.IsWritable {
		return 0, ErrAccountNotWritable
	}

	refund := account.Lamports
	if recipient.Lamports > math.MaxUint64-refund {
		return 0, ErrLamportOverflow
	}

	recipient.Lamports += refund
	account.Lamports = 0
	clear(account.Data)
	account.Data = nil
	account.Owner = ProgramID
	return refund, nil
}
