// Package runtime executes signed transactions against an accounts store.
//
// The Runtime is the sequencer of the journal network. For each
// transaction it verifies signatures, locks the addresses the transaction
// references, runs every instruction on working copies of the accounts,
// checks that lamports are conserved and that every account holding data
// stays rent exempt, and commits all modified accounts in one atomic
// write. A failing transaction leaves no trace in the store. Every outcome
// is described by a Receipt and handed to the configured Recorder.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/accounts"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

var (
	// ErrSignatureVerification is reported when a signer's signature is
	// missing or invalid.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrUnsupportedProgram is reported for instructions addressed to an
	// unregistered program.
	ErrUnsupportedProgram = errors.New("unsupported program id")

	// ErrEmptyTransaction is reported for transactions without instructions.
	ErrEmptyTransaction = errors.New("transaction has no instructions")

	// ErrUnbalanced is reported when the instructions created or destroyed
	// lamports.
	ErrUnbalanced = errors.New("sum of account balances changed")

	// ErrAccountNotRentExempt is reported when an account holding data is
	// left below its rent-exempt minimum.
	ErrAccountNotRentExempt = errors.New("account not rent exempt")

	// ErrReadonlyModified is reported when an instruction changed an
	// account it did not reference as writable.
	ErrReadonlyModified = errors.New("instruction modified a read-only account")

	// ErrDuplicateProgram is returned when a program id is registered twice.
	ErrDuplicateProgram = errors.New("program already registered")

	// ErrAlreadyProcessed is reported for a transaction whose signature
	// was already processed.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrNotRecorded is returned when a committed outcome could not be
	// recorded.
	ErrNotRecorded = errors.New("receipt not recorded")
)

// Program is a native program the runtime can dispatch to.
type Program interface {
	Process(ctx svm.InvokeContext, data []byte) error
}

// ErrorCoder is implemented by programs that map their errors to numeric
// codes reported on receipts.
type ErrorCoder interface {
	ErrorCode(err error) uint32
}

// Recorder persists receipts. Record assigns the receipt's Seq. A Recorder
// that also implements SignatureIndex keeps replay protection across
// restarts.
type Recorder interface {
	Record(ctx context.Context, r *Receipt) error
}

// Config configures a Runtime.
type Config struct {
	Logger   *slog.Logger
	Accounts accounts.DB

	// Optional with defaults.
	Clock            clockwork.Clock
	Registerer       prometheus.Registerer
	Recorder         Recorder
	Rent             svm.Rent
	ComputeUnitLimit uint64
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Accounts == nil {
		return errors.New("accounts db is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Rent == nil {
		c.Rent = system.DefaultRent()
	}
	if c.ComputeUnitLimit == 0 {
		c.ComputeUnitLimit = svm.CUDefault
	}
	if c.ComputeUnitLimit > svm.CUMax {
		return fmt.Errorf("compute unit limit must be <= %d", svm.CUMax)
	}
	return nil
}

type registeredProgram struct {
	name    string
	program Program
}

// Runtime executes transactions. It is safe for concurrent use;
// transactions touching disjoint writable addresses run in parallel.
type Runtime struct {
	log      *slog.Logger
	cfg      Config
	db       accounts.DB
	locks    *lockTable
	metrics  *Metrics
	programs map[types.Pubkey]registeredProgram
	mu       sync.RWMutex

	signatures *signatureRegistry
}

// New creates a runtime with the System Program registered.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{
		log:      cfg.Logger,
		cfg:      cfg,
		db:       cfg.Accounts,
		locks:    newLockTable(),
		metrics:  NewMetrics(cfg.Registerer),
		programs: make(map[types.Pubkey]registeredProgram),
	}
	index, _ := cfg.Recorder.(SignatureIndex)
	rt.signatures = newSignatureRegistry(index)
	if err := rt.RegisterProgram(system.ProgramID, "system", system.NewProcessor()); err != nil {
		return nil, err
	}
	return rt, nil
}

// RegisterProgram makes program callable at id. name labels its metrics.
func (rt *Runtime) RegisterProgram(id types.Pubkey, name string, program Program) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, id)
	}
	rt.programs[id] = registeredProgram{name: name, program: program}
	return nil
}

func (rt *Runtime) program(id types.Pubkey) (registeredProgram, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	p, ok := rt.programs[id]
	return p, ok
}

// Rent returns the rent parameters the runtime enforces.
func (rt *Runtime) Rent() svm.Rent {
	return rt.cfg.Rent
}

// GetAccount returns the committed state of an account.
func (rt *Runtime) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return rt.db.GetAccount(pubkey)
}

// Execute runs tx. Program and validation failures are reported on the
// returned receipt; the error is non-nil only when the runtime itself
// could not do its work, such as a store failure.
//
// A signature is processed at most once: resubmitting a transaction that
// already executed, successfully or not, yields a failed receipt wrapping
// ErrAlreadyProcessed that is not recorded.
//
// Accounts are committed before the receipt is recorded. If recording
// fails, Execute returns the receipt of the committed transaction together
// with an error wrapping ErrNotRecorded.
func (rt *Runtime) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := rt.cfg.Clock.Now()
	receipt := &Receipt{Kind: KindTransaction}
	for _, ix := range tx.Instructions {
		receipt.Programs = append(receipt.Programs, ix.ProgramID)
	}

	set := lockSet(tx)
	for key := range set {
		receipt.Accounts = append(receipt.Accounts, key)
	}
	accounts.SortPubkeys(receipt.Accounts)

	release := rt.locks.acquire(set)
	defer release()

	if err := checkTransaction(tx); err != nil {
		receipt.fail(err, 0)
		return rt.record(ctx, receipt, start)
	}

	sig := tx.ID()
	receipt.Signature = sig
	if sig.IsZero() {
		if err := rt.execute(tx, receipt); err != nil {
			return nil, err
		}
		return rt.record(ctx, receipt, start)
	}

	fresh, err := rt.signatures.claim(sig)
	if err != nil {
		return nil, fmt.Errorf("check signature: %w", err)
	}
	if !fresh {
		receipt.fail(fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig), 0)
		rt.observe(receipt, start)
		return receipt, nil
	}
	if err := rt.execute(tx, receipt); err != nil {
		rt.signatures.finish(sig, false, false)
		return nil, err
	}
	r, err := rt.record(ctx, receipt, start)
	rt.signatures.finish(sig, true, err == nil)
	return r, err
}

// record timestamps receipt and hands it to the Recorder. The caller holds
// the address locks, so per-address history follows commit order.
func (rt *Runtime) record(ctx context.Context, receipt *Receipt, start time.Time) (*Receipt, error) {
	receipt.ProcessedAt = rt.cfg.Clock.Now()
	rt.observe(receipt, start)
	if rt.cfg.Recorder != nil {
		if err := rt.cfg.Recorder.Record(ctx, receipt); err != nil {
			rt.log.Error("runtime: receipt not recorded",
				"kind", receipt.Kind,
				"signature", receipt.Signature,
				"success", receipt.Success,
				"error", err)
			return receipt, fmt.Errorf("%w: %w", ErrNotRecorded, err)
		}
	}
	return receipt, nil
}

func (rt *Runtime) observe(receipt *Receipt, start time.Time) {
	if receipt.Kind != KindTransaction {
		return
	}
	duration := rt.cfg.Clock.Since(start)
	rt.metrics.TransactionDuration.Observe(duration.Seconds())
	if receipt.Success {
		rt.metrics.TransactionsTotal.WithLabelValues(statusSuccess).Inc()
		rt.log.Debug("runtime: transaction committed",
			"signature", receipt.Signature,
			"computeUnits", receipt.ComputeUnits,
			"modified", len(receipt.Modified),
			"duration", duration)
	} else {
		rt.metrics.TransactionsTotal.WithLabelValues(statusFailed).Inc()
		rt.log.Info("runtime: transaction failed",
			"signature", receipt.Signature,
			"error", receipt.Error,
			"code", receipt.Code,
			"computeUnits", receipt.ComputeUnits)
	}
}

// checkTransaction rejects transactions that cannot be executed at all.
func checkTransaction(tx *Transaction) error {
	if len(tx.Instructions) == 0 {
		return ErrEmptyTransaction
	}
	return tx.Verify()
}

// execute fills receipt with the outcome of a verified tx. The caller holds
// the address locks.
func (rt *Runtime) execute(tx *Transaction, receipt *Receipt) error {
	for _, ix := range tx.Instructions {
		if _, ok := rt.program(ix.ProgramID); !ok {
			receipt.fail(fmt.Errorf("%w: %s", ErrUnsupportedProgram, ix.ProgramID), 0)
			return nil
		}
	}

	meter, err := svm.NewComputeMeter(rt.cfg.ComputeUnitLimit)
	if err != nil {
		return err
	}

	working, err := rt.loadAccounts(tx)
	if err != nil {
		return err
	}
	before := working.totalLamports()

	for i, ix := range tx.Instructions {
		prog, _ := rt.program(ix.ProgramID)
		rt.metrics.InstructionsTotal.WithLabelValues(prog.name).Inc()

		ictx := &instructionContext{
			programID: ix.ProgramID,
			accounts:  working.bind(ix),
			meter:     meter,
			rent:      rt.cfg.Rent,
			logs:      &receipt.Logs,
		}
		readonly := working.snapshotReadonly(ix)

		receipt.Logs = append(receipt.Logs, fmt.Sprintf("Program %s invoke [1]", ix.ProgramID))
		err := prog.program.Process(ictx, ix.Data)
		if err == nil && !working.readonlyUnchanged(readonly) {
			err = ErrReadonlyModified
		}
		if err != nil {
			receipt.Logs = append(receipt.Logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
			var code uint32
			if coder, ok := prog.program.(ErrorCoder); ok {
				code = coder.ErrorCode(err)
			}
			receipt.ComputeUnits = meter.Consumed()
			receipt.fail(fmt.Errorf("instruction %d: %w", i, err), code)
			return nil
		}
		receipt.Logs = append(receipt.Logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	}
	receipt.ComputeUnits = meter.Consumed()

	if after := working.totalLamports(); after.Cmp(before) != 0 {
		receipt.fail(fmt.Errorf("%w: %d before, %d after", ErrUnbalanced, before, after), 0)
		return nil
	}

	updates := working.changed()
	for key, acc := range updates {
		if len(acc.Data) == 0 {
			continue
		}
		if required := rt.cfg.Rent.MinimumBalance(uint64(len(acc.Data))); acc.Lamports < required {
			receipt.fail(fmt.Errorf("%w: %s holds %d, needs %d", ErrAccountNotRentExempt, key, acc.Lamports, required), 0)
			return nil
		}
	}

	if err := rt.db.SetAccounts(updates); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}

	entries := make([]accounts.AccountEntry, 0, len(updates))
	for key, acc := range updates {
		receipt.Modified = append(receipt.Modified, key)
		entries = append(entries, accounts.AccountEntry{Pubkey: key, Account: acc})
	}
	accounts.SortPubkeys(receipt.Modified)
	receipt.DeltaHash = accounts.DeltaHash(entries)
	receipt.Success = true
	return nil
}

// Airdrop credits lamports to an address out of thin air. It is the faucet
// of a local network and bypasses signature checks. Like Execute, it
// returns the receipt with an error wrapping ErrNotRecorded when the
// credit was committed but could not be recorded.
func (rt *Runtime) Airdrop(ctx context.Context, to types.Pubkey, lamports uint64) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release := rt.locks.acquire(map[types.Pubkey]bool{to: true})
	defer release()

	acc, err := rt.loadAccount(to)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{Kind: KindAirdrop, Accounts: []types.Pubkey{to}}
	if acc.Lamports > math.MaxUint64-lamports {
		receipt.fail(system.ErrLamportOverflow, 0)
	} else {
		acc.Lamports += lamports
		if err := rt.db.SetAccount(to, acc); err != nil {
			return nil, fmt.Errorf("commit airdrop: %w", err)
		}
		receipt.Success = true
		receipt.Modified = []types.Pubkey{to}
		receipt.DeltaHash = accounts.DeltaHash([]accounts.AccountEntry{{Pubkey: to, Account: acc}})
		receipt.Logs = []string{fmt.Sprintf("Airdrop: %d lamports to %s", lamports, to)}
	}
	rt.log.Debug("runtime: airdrop", "to", to, "lamports", lamports, "success", receipt.Success)
	return rt.record(ctx, receipt, rt.cfg.Clock.Now())
}

// loadAccount returns the committed account at key, or an empty system
// owned account if none exists.
func (rt *Runtime) loadAccount(key types.Pubkey) (*accounts.Account, error) {
	acc, err := rt.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return &accounts.Account{Owner: system.ProgramID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}
	return acc, nil
}

// lockSet returns every address tx references, mapped to whether any
// instruction references it as writable.
func lockSet(tx *Transaction) map[types.Pubkey]bool {
	set := make(map[types.Pubkey]bool)
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			set[meta.Pubkey] = set[meta.Pubkey] || meta.IsWritable
		}
	}
	return set
}
