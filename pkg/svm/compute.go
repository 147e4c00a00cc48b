package svm

import (
	"errors"
	"sync/atomic"
)

// Compute unit cost constants.
const (
	CUDefault = uint64(200_000)   // Default CU limit per transaction
	CUMax     = uint64(1_400_000) // Max CU limit per transaction

	// Address derivation
	CUCreateProgramAddress = uint64(1_500) // create_program_address
	CUFindProgramAddress   = uint64(1_500) // find_program_address per iteration

	// Native program defaults
	CUSystemProgramDefault = uint64(150)   // System program base
	CUJournalInstruction   = uint64(2_000) // Journal program base per instruction
	CUJournalPerByte       = uint64(1)     // Per byte of record written
)

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = errors.New("compute budget exceeded")

	// ErrComputeInvalidLimit is returned for invalid compute limit.
	ErrComputeInvalidLimit = errors.New("invalid compute unit limit")
)

// ComputeMeter tracks compute unit consumption.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) (*ComputeMeter, error) {
	if limit == 0 || limit > CUMax {
		return nil, ErrComputeInvalidLimit
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}, nil
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
