package runtime

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

// Account meta flag bits in the signed message.
const (
	metaSigner   byte = 1 << 0
	metaWritable byte = 1 << 1
)

// Transaction is an ordered list of instructions executed atomically,
// together with the signatures of every account flagged as a signer.
//
// Nonce is signed with the instructions. The runtime executes each
// signature once, so two transactions with the same instructions need
// different nonces.
type Transaction struct {
	Nonce        uint64
	Instructions []svm.Instruction
	Signatures   map[types.Pubkey]types.Signature
}

// NewTransaction creates an unsigned transaction with a random nonce.
func NewTransaction(instructions ...svm.Instruction) *Transaction {
	return &Transaction{
		Nonce:        rand.Uint64(),
		Instructions: instructions,
		Signatures:   make(map[types.Pubkey]types.Signature),
	}
}

// Message returns the bytes signers sign. The layout is Borsh: u64 nonce,
// u32 instruction count, then per instruction the program id, a u32 meta
// count, per meta the pubkey and one flag byte, and the data as Vec<u8>.
func (tx *Transaction) Message() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteUint64(tx.Nonce, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(tx.Instructions)), binary.LittleEndian); err != nil {
		return nil, err
	}
	for _, ix := range tx.Instructions {
		if err := enc.WriteBytes(ix.ProgramID[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint32(uint32(len(ix.Accounts)), binary.LittleEndian); err != nil {
			return nil, err
		}
		for _, meta := range ix.Accounts {
			if err := enc.WriteBytes(meta.Pubkey[:], false); err != nil {
				return nil, err
			}
			var flags byte
			if meta.IsSigner {
				flags |= metaSigner
			}
			if meta.IsWritable {
				flags |= metaWritable
			}
			if err := enc.WriteUint8(flags); err != nil {
				return nil, err
			}
		}
		if err := enc.WriteUint32(uint32(len(ix.Data)), binary.LittleEndian); err != nil {
			return nil, err
		}
		if err := enc.WriteBytes(ix.Data, false); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Signers returns every key flagged as a signer, in order of first
// appearance.
func (tx *Transaction) Signers() []types.Pubkey {
	seen := make(map[types.Pubkey]bool)
	var signers []types.Pubkey
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Pubkey] {
				seen[meta.Pubkey] = true
				signers = append(signers, meta.Pubkey)
			}
		}
	}
	return signers
}

// Sign signs the message with every key. Each key must belong to a signer
// of the transaction.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	signers := make(map[types.Pubkey]bool)
	for _, s := range tx.Signers() {
		signers[s] = true
	}
	if tx.Signatures == nil {
		tx.Signatures = make(map[types.Pubkey]types.Signature)
	}
	for _, key := range keys {
		pub := types.PubkeyFromPrivateKey(key)
		if !signers[pub] {
			return fmt.Errorf("%w: %s is not a signer", ErrSignatureVerification, pub)
		}
		tx.Signatures[pub] = types.Sign(key, msg)
	}
	return nil
}

// ID returns the signature of the first signer, which identifies the
// transaction. It is zero for unsigned transactions.
func (tx *Transaction) ID() types.Signature {
	signers := tx.Signers()
	if len(signers) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[signers[0]]
}

// Verify checks that every signer attached a valid signature and that no
// signature comes from a key that is not a signer.
func (tx *Transaction) Verify() error {
	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	signers := tx.Signers()
	required := make(map[types.Pubkey]bool, len(signers))
	for _, signer := range signers {
		required[signer] = true
		sig, ok := tx.Signatures[signer]
		if !ok {
			return fmt.Errorf("%w: missing signature for %s", ErrSignatureVerification, signer)
		}
		if !sig.Verify(signer, msg) {
			return fmt.Errorf("%w: invalid signature for %s", ErrSignatureVerification, signer)
		}
	}
	for key := range tx.Signatures {
		if !required[key] {
			return fmt.Errorf("%w: unexpected signature from %s", ErrSignatureVerification, key)
		}
	}
	return nil
}
