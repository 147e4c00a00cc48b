package journal

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/near/borsh-go"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

// Opcode identifies a journal instruction.
type Opcode uint8

const (
	OpcodeCreate Opcode = iota + 1
	OpcodeUpdate
	OpcodeDelete
)

// Instruction discriminators: sha256("global:<name>")[:8].
var (
	CreateDiscriminator = [DiscriminatorSize]byte{48, 65, 201, 186, 25, 41, 127, 0}
	UpdateDiscriminator = [DiscriminatorSize]byte{113, 164, 49, 62, 43, 83, 194, 172}
	DeleteDiscriminator = [DiscriminatorSize]byte{156, 50, 93, 5, 157, 97, 188, 114}
)

var opcodes = map[[DiscriminatorSize]byte]Opcode{
	CreateDiscriminator: OpcodeCreate,
	UpdateDiscriminator: OpcodeUpdate,
	DeleteDiscriminator: OpcodeDelete,
}

func (o Opcode) String() string {
	switch o {
	case OpcodeCreate:
		return "createJournalEntry"
	case OpcodeUpdate:
		return "updateJournalEntry"
	case OpcodeDelete:
		return "deleteJournalEntry"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// Discriminator returns the wire tag for o.
func (o Opcode) Discriminator() [DiscriminatorSize]byte {
	switch o {
	case OpcodeCreate:
		return CreateDiscriminator
	case OpcodeUpdate:
		return UpdateDiscriminator
	case OpcodeDelete:
		return DeleteDiscriminator
	}
	return [DiscriminatorSize]byte{}
}

// Args are the decoded instruction arguments. Message is empty for delete.
type Args struct {
	Title   string
	Message string
}

// DecodeInstruction splits instruction data into its opcode and arguments.
func DecodeInstruction(data []byte) (Opcode, Args, error) {
	if len(data) < DiscriminatorSize {
		return 0, Args{}, fmt.Errorf("%w: %d bytes of instruction data", ErrUnknownInstruction, len(data))
	}

	var tag [DiscriminatorSize]byte
	copy(tag[:], data)
	op, ok := opcodes[tag]
	if !ok {
		return 0, Args{}, fmt.Errorf("%w: %v", ErrUnknownInstruction, tag)
	}

	dec := bin.NewBorshDecoder(data[DiscriminatorSize:])
	var args Args
	var err error
	if args.Title, err = readString(dec); err != nil {
		return 0, Args{}, fmt.Errorf("%w: title: %v", ErrArgumentDecode, err)
	}
	if op != OpcodeDelete {
		if args.Message, err = readString(dec); err != nil {
			return 0, Args{}, fmt.Errorf("%w: message: %v", ErrArgumentDecode, err)
		}
	}
	return op, args, nil
}

type entryArgs struct {
	Discriminator [DiscriminatorSize]byte
	Title         string
	Message       string
}

type titleArgs struct {
	Discriminator [DiscriminatorSize]byte
	Title         string
}

// NewCreateInstruction builds a createJournalEntry instruction for the
// entry (title, owner) under programID.
func NewCreateInstruction(programID, owner types.Pubkey, title, message string) (svm.Instruction, error) {
	return newEntryInstruction(programID, owner, OpcodeCreate, title, message)
}

// NewUpdateInstruction builds an updateJournalEntry instruction.
func NewUpdateInstruction(programID, owner types.Pubkey, title, message string) (svm.Instruction, error) {
	return newEntryInstruction(programID, owner, OpcodeUpdate, title, message)
}

// NewDeleteInstruction builds a deleteJournalEntry instruction.
func NewDeleteInstruction(programID, owner types.Pubkey, title string) (svm.Instruction, error) {
	if len(title) > MaxTitleLen {
		return svm.Instruction{}, fmt.Errorf("%w: title is %d bytes, limit %d", ErrFieldTooLarge, len(title), MaxTitleLen)
	}
	data, err := borsh.Serialize(titleArgs{
		Discriminator: DeleteDiscriminator,
		Title:         title,
	})
	if err != nil {
		return svm.Instruction{}, fmt.Errorf("failed to serialize args: %w", err)
	}
	return buildInstruction(programID, owner, title, data)
}

func newEntryInstruction(programID, owner types.Pubkey, op Opcode, title, message string) (svm.Instruction, error) {
	if err := checkFields(title, message); err != nil {
		return svm.Instruction{}, err
	}
	data, err := borsh.Serialize(entryArgs{
		Discriminator: op.Discriminator(),
		Title:         title,
		Message:       message,
	})
	if err != nil {
		return svm.Instruction{}, fmt.Errorf("failed to serialize args: %w", err)
	}
	return buildInstruction(programID, owner, title, data)
}

func buildInstruction(programID, owner types.Pubkey, title string, data []byte) (svm.Instruction, error) {
	entry, _, err := DeriveEntryAddress(programID, title, owner)
	if err != nil {
		return svm.Instruction{}, fmt.Errorf("failed to derive entry address: %w", err)
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			{Pubkey: entry, IsSigner: false, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: true},
			{Pubkey: system.ProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}, nil
}
