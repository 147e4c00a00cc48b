// Package pda implements Program Derived Address derivation.
//
// A PDA is sha256(seeds... || program_id || "ProgramDerivedAddress") where
// the digest must not decode to a point on the ed25519 curve, so no private
// key can exist for it. FindProgramAddress appends a single bump byte to the
// seeds and walks it from 255 down to 0 until a valid address is found.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/fortiblox/x1-journal/internal/types"
)

// PDA constants.
const (
	MaxSeeds     = 16
	MaxSeedLen   = 32
	PDAMarkerLen = 21 // "ProgramDerivedAddress" length
	MaxBump      = 255
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded      = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded           = errors.New("max seeds exceeded")
	ErrInvalidSeeds               = errors.New("invalid seeds: derived address is on curve or reserved")
	ErrAddressDerivationExhausted = errors.New("unable to find a viable program address bump seed")
)

// Deriver derives program addresses under a per-seed length limit.
// The zero value is not usable; use Default or set MaxSeedLen.
type Deriver struct {
	// MaxSeedLen is the longest accepted seed in bytes.
	MaxSeedLen int
}

// Default follows the Solana runtime limits.
var Default = Deriver{MaxSeedLen: MaxSeedLen}

// CreateProgramAddress derives a program address using Default.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	return Default.CreateProgramAddress(seeds, programID)
}

// FindProgramAddress finds a valid PDA and its bump using Default.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return Default.FindProgramAddress(seeds, programID)
}

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrInvalidSeeds if the derived address is on the ed25519 curve or
// collides with a reserved address.
func (d Deriver) CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if err := d.checkSeeds(seeds, MaxSeeds); err != nil {
		return types.Pubkey{}, err
	}
	return createProgramAddress(seeds, programID)
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 to 0.
func (d Deriver) FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	// One slot is reserved for the bump seed.
	if err := d.checkSeeds(seeds, MaxSeeds-1); err != nil {
		return types.Pubkey{}, 0, err
	}

	seedsWithBump := make([][]byte, len(seeds)+1)
	copy(seedsWithBump, seeds)
	bumpSeed := []byte{0}
	seedsWithBump[len(seeds)] = bumpSeed

	for bump := MaxBump; bump >= 0; bump-- {
		bumpSeed[0] = uint8(bump)
		addr, err := createProgramAddress(seedsWithBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}

	return types.Pubkey{}, 0, ErrAddressDerivationExhausted
}

func (d Deriver) checkSeeds(seeds [][]byte, maxSeeds int) error {
	if len(seeds) > maxSeeds {
		return ErrMaxSeedsExceeded
	}
	for i, seed := range seeds {
		if len(seed) > d.MaxSeedLen {
			return fmt.Errorf("%w: seed %d is %d bytes, limit %d", ErrMaxSeedLengthExceeded, i, len(seed), d.MaxSeedLen)
		}
	}
	return nil
}

func createProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	// Build hash input: seeds + programID + marker
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr[:]) || types.IsReserved(addr) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// IsOnCurve reports whether b is the compressed encoding of a point on the
// ed25519 curve. Non-canonical encodings of valid points count as on curve,
// matching curve25519-dalek's decompression.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Iterations returns how many candidates FindProgramAddress tried before
// settling on bump.
func Iterations(bump uint8) uint64 {
	return uint64(MaxBump-int(bump)) + 1
}
