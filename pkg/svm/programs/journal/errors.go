package journal

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-journal/pkg/pda"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

// Dispatch errors.
var (
	ErrUnknownInstruction = errors.New("unknown instruction discriminator")
	ErrArgumentDecode     = errors.New("instruction arguments did not deserialize")
)

// Account validation errors.
var (
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")
	ErrIncorrectProgramID   = errors.New("incorrect program id for account")
	ErrAccountNotWritable   = errors.New("account not writable")
	ErrAddressMismatch      = errors.New("entry address does not match derived address")
	ErrIllegalOwner         = errors.New("account owned by a different program")
	ErrAlreadyInitialized   = errors.New("journal entry already initialized")
	ErrNotFound             = errors.New("journal entry not found")
	ErrUnauthorized         = errors.New("signer is not the entry owner")
	ErrMissingSignature     = errors.New("owner did not sign")
	ErrFieldTooLarge        = errors.New("field exceeds maximum length")
)

// Record decode errors. Both wrap ErrDecode.
var (
	ErrDecode                = errors.New("journal entry did not deserialize")
	ErrDiscriminatorMismatch = fmt.Errorf("%w: discriminator mismatch", ErrDecode)
	ErrTruncated             = fmt.Errorf("%w: truncated buffer", ErrDecode)
)

// Errors shared with the address deriver and rent accounting.
var (
	ErrAddressDerivationExhausted = pda.ErrAddressDerivationExhausted
	ErrInsufficientFunds          = system.ErrInsufficientFunds
)

// Error codes reported to callers. Framework-level failures reuse the
// Anchor numbering so existing clients decode them unchanged; program
// specific failures start at 6000.
const (
	CodeUnknownInstruction       uint32 = 101
	CodeArgumentDecode           uint32 = 102
	CodeAccountNotWritable       uint32 = 2000
	CodeMissingSignature         uint32 = 2002
	CodeAddressMismatch          uint32 = 2006
	CodeAlreadyInitialized       uint32 = 3000
	CodeDiscriminatorMismatch    uint32 = 3002
	CodeDecode                   uint32 = 3003
	CodeNotEnoughAccountKeys     uint32 = 3005
	CodeIllegalOwner             uint32 = 3007
	CodeIncorrectProgramID       uint32 = 3008
	CodeNotFound                 uint32 = 3012
	CodeFieldTooLarge            uint32 = 6000
	CodeUnauthorized             uint32 = 6001
	CodeAddressDerivationExhaust uint32 = 6002
	CodeInsufficientFunds        uint32 = 1
	CodeComputeExceeded          uint32 = 0xFFFF_FFFE
	CodeUnknown                  uint32 = 0xFFFF_FFFF
)

var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrUnknownInstruction, CodeUnknownInstruction},
	{ErrArgumentDecode, CodeArgumentDecode},
	{ErrAccountNotWritable, CodeAccountNotWritable},
	{system.ErrAccountNotWritable, CodeAccountNotWritable},
	{ErrMissingSignature, CodeMissingSignature},
	{system.ErrMissingRequiredSignature, CodeMissingSignature},
	{ErrAddressMismatch, CodeAddressMismatch},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrDiscriminatorMismatch, CodeDiscriminatorMismatch},
	{ErrDecode, CodeDecode},
	{ErrNotEnoughAccountKeys, CodeNotEnoughAccountKeys},
	{ErrIllegalOwner, CodeIllegalOwner},
	{ErrIncorrectProgramID, CodeIncorrectProgramID},
	{ErrNotFound, CodeNotFound},
	{ErrFieldTooLarge, CodeFieldTooLarge},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrAddressDerivationExhausted, CodeAddressDerivationExhaust},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{svm.ErrComputeExceeded, CodeComputeExceeded},
}

// ErrorCode maps a journal program error to its numeric code.
// Returns 0 for nil and CodeUnknown for errors outside the taxonomy.
func ErrorCode(err error) uint32 {
	if err == nil {
		return 0
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}
