// Package svm defines the execution context shared by native programs.
//
// Programs never touch the accounts store directly. The runtime loads
// working copies of every account an instruction references into
// AccountInfo values, hands them to the program through an InvokeContext,
// and persists them only if the whole transaction succeeds.
package svm

import (
	"errors"

	"github.com/fortiblox/x1-journal/internal/types"
)

var (
	// ErrAccountIndexOutOfBounds is returned when a program asks for an
	// account the instruction did not reference.
	ErrAccountIndexOutOfBounds = errors.New("account index out of bounds")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo holds account state during execution.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// Exists reports whether the account holds any lamports or data.
func (a *AccountInfo) Exists() bool {
	return a.Lamports > 0 || len(a.Data) > 0
}

// Rent computes rent-exempt minimum balances.
type Rent interface {
	MinimumBalance(dataLen uint64) uint64
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the id of the program being invoked.
	ProgramID() types.Pubkey

	// GetAccount returns the account at the given index.
	GetAccount(index int) (*AccountInfo, error)

	// NumAccounts returns how many accounts the instruction references.
	NumAccounts() int

	// Rent returns the rent parameters in effect.
	Rent() Rent

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(units uint64) error

	// Log records a program log message.
	Log(msg string)
}
