// Package journal implements the journal program: a record store where an
// owner creates, updates and deletes entries addressed by (title, owner).
//
// An entry lives in a program derived account seeded with the title and
// the owner key. Instructions are tagged with Anchor-compatible 8-byte
// discriminators and carry Borsh encoded arguments. Every instruction
// expects the accounts [entry, owner, system program].
package journal

import (
	"fmt"
	"time"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/pda"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

// DefaultProgramID is the address the journal program is deployed at.
var DefaultProgramID = types.MustPubkeyFromBase58("4yt2ZeKvCQYGKCnG8WoibHSebf5d5pGZWCeALTHMZZ71")

// Processor executes journal instructions. It is safe for concurrent use.
type Processor struct {
	addresses *addressCache
}

// Option configures a Processor.
type Option func(*Processor)

// WithAddressCacheTTL sets how long derived entry addresses are cached.
// A non-positive ttl disables the cache.
func WithAddressCacheTTL(ttl time.Duration) Option {
	return func(p *Processor) {
		if ttl <= 0 {
			p.addresses = nil
			return
		}
		p.addresses = newAddressCache(ttl)
	}
}

// NewProcessor creates a journal processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{addresses: newAddressCache(DefaultAddressCacheTTL)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process decodes and executes a journal instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	op, args, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	if err := ctx.ConsumeCU(svm.CUJournalInstruction); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Instruction: %s", op))

	switch op {
	case OpcodeCreate:
		return p.create(ctx, args)
	case OpcodeUpdate:
		return p.update(ctx, args)
	case OpcodeDelete:
		return p.delete(ctx, args)
	default:
		return ErrUnknownInstruction
	}
}

// deriveEntry resolves the entry address and charges for the bump search.
// Cached lookups are charged the same as fresh ones.
func (p *Processor) deriveEntry(ctx svm.InvokeContext, title string, owner types.Pubkey) (types.Pubkey, error) {
	var (
		addr types.Pubkey
		bump uint8
		err  error
	)
	if p.addresses != nil {
		addr, bump, err = p.addresses.derive(ctx.ProgramID(), title, owner)
	} else {
		addr, bump, err = DeriveEntryAddress(ctx.ProgramID(), title, owner)
	}
	if err != nil {
		return types.Pubkey{}, err
	}
	if err := ctx.ConsumeCU(pda.Iterations(bump) * svm.CUFindProgramAddress); err != nil {
		return types.Pubkey{}, err
	}
	return addr, nil
}

// ErrorCode maps an error returned by Process to its numeric program error.
func (p *Processor) ErrorCode(err error) uint32 {
	return ErrorCode(err)
}
