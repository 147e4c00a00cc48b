package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/accounts"
	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/journal"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

const oneSOL = uint64(1_000_000_000)

type memoryRecorder struct {
	mu       sync.Mutex
	receipts []*Receipt
}

func (m *memoryRecorder) Record(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Seq = uint64(len(m.receipts) + 1)
	m.receipts = append(m.receipts, r)
	return nil
}

type harness struct {
	rt       *Runtime
	db       *accounts.MemoryDB
	clock    *clockwork.FakeClock
	recorder *memoryRecorder
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		db:       accounts.NewMemoryDB(),
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &memoryRecorder{},
	}
	cfg := Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Accounts:   h.db,
		Clock:      h.clock,
		Registerer: prometheus.NewRegistry(),
		Recorder:   h.recorder,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	rt, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, rt.RegisterProgram(journal.DefaultProgramID, "journal", journal.NewProcessor()))
	h.rt = rt
	return h
}

func testKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

func (h *harness) fund(t *testing.T, to types.Pubkey, lamports uint64) {
	t.Helper()
	r, err := h.rt.Airdrop(context.Background(), to, lamports)
	require.NoError(t, err)
	require.True(t, r.Success)
}

func (h *harness) submit(t *testing.T, key ed25519.PrivateKey, ixs ...svm.Instruction) *Receipt {
	t.Helper()
	tx := NewTransaction(ixs...)
	require.NoError(t, tx.Sign(key))
	r, err := h.rt.Execute(context.Background(), tx)
	require.NoError(t, err)
	return r
}

func (h *harness) balance(t *testing.T, key types.Pubkey) uint64 {
	t.Helper()
	acc, err := h.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acc.Lamports
}

func createIx(t *testing.T, owner types.Pubkey, title, message string) svm.Instruction {
	t.Helper()
	ix, err := journal.NewCreateInstruction(journal.DefaultProgramID, owner, title, message)
	require.NoError(t, err)
	return ix
}

func TestRuntime_JournalLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(1)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	entry, _, err := journal.DeriveEntryAddress(journal.DefaultProgramID, "Day1", owner)
	require.NoError(t, err)
	rent := system.DefaultRent()

	r := h.submit(t, key, createIx(t, owner, "Day1", "hello"))
	require.True(t, r.Success, r.Error)
	require.Contains(t, r.Logs, "Program log: Journal Entry Created")
	require.ElementsMatch(t, []types.Pubkey{entry, owner}, r.Modified)
	require.False(t, r.DeltaHash.IsZero())
	require.Equal(t, h.clock.Now(), r.ProcessedAt)

	acc, err := h.db.GetAccount(entry)
	require.NoError(t, err)
	require.Len(t, acc.Data, 57)
	require.Equal(t, rent.MinimumBalance(57), acc.Lamports)
	require.Equal(t, journal.DefaultProgramID, acc.Owner)
	require.Equal(t, oneSOL-rent.MinimumBalance(57), h.balance(t, owner))

	stored, err := journal.DecodeEntry(acc.Data)
	require.NoError(t, err)
	require.Equal(t, &journal.Entry{Owner: owner, Title: "Day1", Message: "hello"}, stored)

	update, err := journal.NewUpdateInstruction(journal.DefaultProgramID, owner, "Day1", "hello world")
	require.NoError(t, err)
	r = h.submit(t, key, update)
	require.True(t, r.Success, r.Error)

	acc, err = h.db.GetAccount(entry)
	require.NoError(t, err)
	require.Len(t, acc.Data, 63)
	require.Equal(t, rent.MinimumBalance(63), acc.Lamports)
	require.Equal(t, oneSOL-rent.MinimumBalance(63), h.balance(t, owner))

	del, err := journal.NewDeleteInstruction(journal.DefaultProgramID, owner, "Day1")
	require.NoError(t, err)
	r = h.submit(t, key, del)
	require.True(t, r.Success, r.Error)
	require.Contains(t, r.Logs, "Program log: Journal entry titled Day1 deleted")

	_, err = h.db.GetAccount(entry)
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
	require.Equal(t, oneSOL, h.balance(t, owner))

	// airdrop + create + update + delete
	require.Len(t, h.recorder.receipts, 4)
	for i, rec := range h.recorder.receipts {
		require.Equal(t, uint64(i+1), rec.Seq)
	}
}

func TestRuntime_FailedTransactionIsAtomic(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(2)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	r := h.submit(t, key,
		createIx(t, owner, "Day1", "first"),
		createIx(t, owner, "Day1", "second"),
	)
	require.False(t, r.Success)
	require.ErrorIs(t, r.Err(), journal.ErrAlreadyInitialized)
	require.Equal(t, journal.ErrorCode(journal.ErrAlreadyInitialized), r.Code)
	require.Empty(t, r.Modified)
	require.True(t, r.DeltaHash.IsZero())

	entry, _, err := journal.DeriveEntryAddress(journal.DefaultProgramID, "Day1", owner)
	require.NoError(t, err)
	_, err = h.db.GetAccount(entry)
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
	require.Equal(t, oneSOL, h.balance(t, owner))

	count, err := h.db.AccountsCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestRuntime_SignatureVerification(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(3)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	t.Run("unsigned", func(t *testing.T) {
		r, err := h.rt.Execute(context.Background(), NewTransaction(createIx(t, owner, "a", "b")))
		require.NoError(t, err)
		require.False(t, r.Success)
		require.ErrorIs(t, r.Err(), ErrSignatureVerification)
	})

	t.Run("tampered", func(t *testing.T) {
		tx := NewTransaction(createIx(t, owner, "a", "b"))
		require.NoError(t, tx.Sign(key))
		tx.Instructions[0] = createIx(t, owner, "a", "c")
		r, err := h.rt.Execute(context.Background(), tx)
		require.NoError(t, err)
		require.False(t, r.Success)
		require.ErrorIs(t, r.Err(), ErrSignatureVerification)
	})

	t.Run("foreign signer", func(t *testing.T) {
		tx := NewTransaction(createIx(t, owner, "a", "b"))
		require.ErrorIs(t, tx.Sign(testKey(4)), ErrSignatureVerification)
	})

	t.Run("extra signature", func(t *testing.T) {
		tx := NewTransaction(createIx(t, owner, "a", "b"))
		require.NoError(t, tx.Sign(key))
		other := testKey(4)
		msg, err := tx.Message()
		require.NoError(t, err)
		tx.Signatures[types.PubkeyFromPrivateKey(other)] = types.Sign(other, msg)
		require.ErrorIs(t, tx.Verify(), ErrSignatureVerification)
	})

	require.Equal(t, oneSOL, h.balance(t, owner))
}

func TestRuntime_RejectsInvalidTransactions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	r, err := h.rt.Execute(context.Background(), NewTransaction())
	require.NoError(t, err)
	require.ErrorIs(t, r.Err(), ErrEmptyTransaction)

	key := testKey(5)
	unknown := svm.Instruction{
		ProgramID: types.Pubkey{9},
		Accounts:  []svm.AccountMeta{{Pubkey: types.PubkeyFromPrivateKey(key), IsSigner: true}},
	}
	r = h.submit(t, key, unknown)
	require.ErrorIs(t, r.Err(), ErrUnsupportedProgram)
}

func TestRuntime_ContextCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.rt.Execute(ctx, NewTransaction())
	require.ErrorIs(t, err, context.Canceled)
	_, err = h.rt.Airdrop(ctx, types.Pubkey{1}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRuntime_ComputeBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.ComputeUnitLimit = 1_000 })
	key := testKey(6)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	r := h.submit(t, key, createIx(t, owner, "Day1", "hello"))
	require.False(t, r.Success)
	require.ErrorIs(t, r.Err(), svm.ErrComputeExceeded)
	require.Equal(t, journal.CodeComputeExceeded, r.Code)
	require.Equal(t, uint64(1_000), r.ComputeUnits)
}

// stubProgram runs fn against the instruction's accounts.
type stubProgram func(ctx svm.InvokeContext) error

func (s stubProgram) Process(ctx svm.InvokeContext, _ []byte) error {
	return s(ctx)
}

func TestRuntime_PostExecutionChecks(t *testing.T) {
	t.Parallel()

	stubID := types.Pubkey{0xAA}
	key := testKey(7)
	payer := types.PubkeyFromPrivateKey(key)
	target := types.Pubkey{0xBB}

	tests := []struct {
		name     string
		writable bool
		fn       func(ctx svm.InvokeContext) error
		want     error
	}{
		{
			name:     "minted lamports",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(1)
				acc.Lamports += 10
				return nil
			},
			want: ErrUnbalanced,
		},
		{
			name:     "data without rent",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				from, _ := ctx.GetAccount(0)
				to, _ := ctx.GetAccount(1)
				from.Lamports -= 10
				to.Lamports += 10
				to.Data = make([]byte, 100)
				return nil
			},
			want: ErrAccountNotRentExempt,
		},
		{
			name:     "read-only modified",
			writable: false,
			fn: func(ctx svm.InvokeContext) error {
				to, _ := ctx.GetAccount(1)
				to.Owner = types.Pubkey{0xCC}
				return nil
			},
			want: ErrReadonlyModified,
		},
		{
			name:     "read-only flagged executable",
			writable: false,
			fn: func(ctx svm.InvokeContext) error {
				to, _ := ctx.GetAccount(1)
				to.Executable = true
				return nil
			},
			want: ErrReadonlyModified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			require.NoError(t, h.rt.RegisterProgram(stubID, "stub", stubProgram(tt.fn)))
			h.fund(t, payer, oneSOL)

			r := h.submit(t, key, svm.Instruction{
				ProgramID: stubID,
				Accounts: []svm.AccountMeta{
					{Pubkey: payer, IsSigner: true, IsWritable: true},
					{Pubkey: target, IsWritable: tt.writable},
				},
			})
			require.False(t, r.Success)
			require.ErrorIs(t, r.Err(), tt.want)
			require.Equal(t, oneSOL, h.balance(t, payer))
			require.Zero(t, h.balance(t, target))
		})
	}
}

func updateIx(t *testing.T, owner types.Pubkey, title, message string) svm.Instruction {
	t.Helper()
	ix, err := journal.NewUpdateInstruction(journal.DefaultProgramID, owner, title, message)
	require.NoError(t, err)
	return ix
}

func (h *harness) message(t *testing.T, owner types.Pubkey, title string) string {
	t.Helper()
	addr, _, err := journal.DeriveEntryAddress(journal.DefaultProgramID, title, owner)
	require.NoError(t, err)
	acc, err := h.db.GetAccount(addr)
	require.NoError(t, err)
	entry, err := journal.DecodeEntry(acc.Data)
	require.NoError(t, err)
	return entry.Message
}

func TestRuntime_RejectsReplayedTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(9)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)
	require.True(t, h.submit(t, key, createIx(t, owner, "Day1", "hello")).Success)

	captured := NewTransaction(updateIx(t, owner, "Day1", "secret A"))
	require.NoError(t, captured.Sign(key))
	r, err := h.rt.Execute(context.Background(), captured)
	require.NoError(t, err)
	require.True(t, r.Success, r.Error)

	require.True(t, h.submit(t, key, updateIx(t, owner, "Day1", "latest B")).Success)
	recorded := len(h.recorder.receipts)

	r, err = h.rt.Execute(context.Background(), captured)
	require.NoError(t, err)
	require.False(t, r.Success)
	require.ErrorIs(t, r.Err(), ErrAlreadyProcessed)
	require.Equal(t, captured.ID(), r.Signature)
	require.Equal(t, "latest B", h.message(t, owner, "Day1"))
	require.Len(t, h.recorder.receipts, recorded)

	// The same instruction under a new nonce is a new transaction.
	require.True(t, h.submit(t, key, updateIx(t, owner, "Day1", "secret A")).Success)
	require.Equal(t, "secret A", h.message(t, owner, "Day1"))
}

func TestRuntime_RejectsReplayOfFailedTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(10)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	early := NewTransaction(updateIx(t, owner, "Day1", "too early"))
	require.NoError(t, early.Sign(key))
	r, err := h.rt.Execute(context.Background(), early)
	require.NoError(t, err)
	require.ErrorIs(t, r.Err(), journal.ErrNotFound)

	require.True(t, h.submit(t, key, createIx(t, owner, "Day1", "hello")).Success)

	r, err = h.rt.Execute(context.Background(), early)
	require.NoError(t, err)
	require.ErrorIs(t, r.Err(), ErrAlreadyProcessed)
	require.Equal(t, "hello", h.message(t, owner, "Day1"))
}

// failingRecorder refuses every receipt.
type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *Receipt) error {
	return errors.New("disk full")
}

func TestRuntime_RecordFailureAfterCommit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.Recorder = failingRecorder{} })
	key := testKey(11)
	owner := types.PubkeyFromPrivateKey(key)

	r, err := h.rt.Airdrop(context.Background(), owner, oneSOL)
	require.ErrorIs(t, err, ErrNotRecorded)
	require.NotNil(t, r)
	require.True(t, r.Success)
	require.Equal(t, oneSOL, h.balance(t, owner))

	tx := NewTransaction(createIx(t, owner, "Day1", "hello"))
	require.NoError(t, tx.Sign(key))
	r, err = h.rt.Execute(context.Background(), tx)
	require.ErrorIs(t, err, ErrNotRecorded)
	require.NotNil(t, r)
	require.True(t, r.Success, r.Error)
	require.Equal(t, "hello", h.message(t, owner, "Day1"))

	// The committed transaction still cannot run twice.
	r, err = h.rt.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.ErrorIs(t, r.Err(), ErrAlreadyProcessed)
}

func TestRuntime_DuplicateProgram(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.rt.RegisterProgram(journal.DefaultProgramID, "journal", journal.NewProcessor())
	require.ErrorIs(t, err, ErrDuplicateProgram)
}

func TestRuntime_Metrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := testKey(8)
	owner := types.PubkeyFromPrivateKey(key)
	h.fund(t, owner, oneSOL)

	h.submit(t, key, createIx(t, owner, "Day1", "hello"))
	h.submit(t, key, createIx(t, owner, "Day1", "hello"))

	require.Equal(t, 1.0, testutil.ToFloat64(h.rt.metrics.TransactionsTotal.WithLabelValues(statusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(h.rt.metrics.TransactionsTotal.WithLabelValues(statusFailed)))
	require.Equal(t, 2.0, testutil.ToFloat64(h.rt.metrics.InstructionsTotal.WithLabelValues("journal")))
}

func TestRuntime_ConcurrentSameAddress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	target := types.Pubkey{0x42}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rt.Airdrop(context.Background(), target, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(n), h.balance(t, target))
	require.Zero(t, h.rt.locks.size())
}

func TestRuntime_ConcurrentDisjointEntries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	const n = 8
	keys := make([]ed25519.PrivateKey, n)
	for i := range keys {
		keys[i] = testKey(byte(100 + i))
		h.fund(t, types.PubkeyFromPrivateKey(keys[i]), oneSOL)
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key ed25519.PrivateKey) {
			defer wg.Done()
			owner := types.PubkeyFromPrivateKey(key)
			ix, err := journal.NewCreateInstruction(journal.DefaultProgramID, owner, "Day1", "hello")
			if !assert.NoError(t, err) {
				return
			}
			tx := NewTransaction(ix)
			if !assert.NoError(t, tx.Sign(key)) {
				return
			}
			r, err := h.rt.Execute(context.Background(), tx)
			if assert.NoError(t, err) {
				assert.True(t, r.Success, r.Error)
			}
		}(key)
	}
	wg.Wait()

	count, err := h.db.AccountsCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2*n), count)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := Config{Accounts: accounts.NewMemoryDB()}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: logger}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: logger, Accounts: accounts.NewMemoryDB(), ComputeUnitLimit: svm.CUMax + 1}
	require.Error(t, cfg.Validate())

	cfg = Config{Logger: logger, Accounts: accounts.NewMemoryDB()}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Clock)
	require.Equal(t, svm.CUDefault, cfg.ComputeUnitLimit)
	require.Equal(t, system.DefaultRent(), cfg.Rent)
}
