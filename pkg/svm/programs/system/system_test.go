package system

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

type testContext struct {
	accounts []*svm.AccountInfo
	logs     []string
}

func (c *testContext) ProgramID() types.Pubkey {
	return ProgramID
}

func (c *testContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index >= len(c.accounts) {
		return nil, svm.ErrAccountIndexOutOfBounds
	}
	return c.accounts[index], nil
}

func (c *testContext) NumAccounts() int {
	return len(c.accounts)
}

func (c *testContext) Rent() svm.Rent {
	return DefaultRent()
}

func (c *testContext) ConsumeCU(uint64) error {
	return nil
}

func (c *testContext) Log(msg string) {
	c.logs = append(c.logs, msg)
}

func wallet(key byte, lamports uint64) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        types.Pubkey{key},
		Owner:      ProgramID,
		Lamports:   lamports,
		IsSigner:   true,
		IsWritable: true,
	}
}

func TestRentMinimumBalance(t *testing.T) {
	rent := DefaultRent()
	if got := rent.MinimumBalance(0); got != 890_880 {
		t.Errorf("MinimumBalance(0): got %d, want 890880", got)
	}
	// 128 + 165 bytes (token account) * 3480 * 2
	if got := rent.MinimumBalance(165); got != 2_039_280 {
		t.Errorf("MinimumBalance(165): got %d, want 2039280", got)
	}
}

func TestProcessTransfer(t *testing.T) {
	from := wallet(1, 1_000)
	to := wallet(2, 10)
	to.IsSigner = false
	ctx := &testContext{accounts: []*svm.AccountInfo{from, to}}

	ix := NewTransferInstruction(from.Key, to.Key, 400)
	if err := NewProcessor().Process(ctx, ix.Data); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if from.Lamports != 600 || to.Lamports != 410 {
		t.Errorf("balances: got from=%d to=%d, want 600/410", from.Lamports, to.Lamports)
	}

	ix = NewTransferInstruction(from.Key, to.Key, 601)
	if err := NewProcessor().Process(ctx, ix.Data); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: got %v, want ErrInsufficientFunds", err)
	}
	if from.Lamports != 600 {
		t.Errorf("failed transfer must not debit: got %d", from.Lamports)
	}

	from.IsSigner = false
	ix = NewTransferInstruction(from.Key, to.Key, 1)
	if err := NewProcessor().Process(ctx, ix.Data); !errors.Is(err, ErrMissingRequiredSignature) {
		t.Fatalf("unsigned: got %v, want ErrMissingRequiredSignature", err)
	}
}

func TestProcessCreateAccount(t *testing.T) {
	funder := wallet(1, 10_000_000)
	fresh := wallet(2, 0)
	ctx := &testContext{accounts: []*svm.AccountInfo{funder, fresh}}
	owner := types.Pubkey{9}

	params := CreateAccountParams{
		Lamports: DefaultRent().MinimumBalance(64),
		Space:    64,
		Owner:    owner,
	}
	ix := NewCreateAccountInstruction(funder.Key, fresh.Key, params)
	if err := NewProcessor().Process(ctx, ix.Data); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(fresh.Data) != 64 || fresh.Owner != owner || fresh.Lamports != params.Lamports {
		t.Errorf("created account mismatch: len=%d owner=%s lamports=%d", len(fresh.Data), fresh.Owner, fresh.Lamports)
	}

	if err := NewProcessor().Process(ctx, ix.Data); !errors.Is(err, ErrAccountAlreadyInUse) {
		t.Fatalf("second create: got %v, want ErrAccountAlreadyInUse", err)
	}
}

func TestProcessCreateAccountNotRentExempt(t *testing.T) {
	funder := wallet(1, 10_000_000)
	fresh := wallet(2, 0)
	ctx := &testContext{accounts: []*svm.AccountInfo{funder, fresh}}

	ix := NewCreateAccountInstruction(funder.Key, fresh.Key, CreateAccountParams{Lamports: 1, Space: 64})
	if err := NewProcessor().Process(ctx, ix.Data); !errors.Is(err, ErrAccountNotRentExempt) {
		t.Fatalf("got %v, want ErrAccountNotRentExempt", err)
	}
	if funder.Lamports != 10_000_000 {
		t.Errorf("funder debited on failure: %d", funder.Lamports)
	}
}

func TestProcessInvalidData(t *testing.T) {
	ctx := &testContext{}
	if err := NewProcessor().Process(ctx, []byte{1, 2}); !errors.Is(err, ErrInvalidInstructionData) {
		t.Errorf("short data: got %v", err)
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 99)
	if err := NewProcessor().Process(ctx, data); !errors.Is(err, ErrInvalidInstructionData) {
		t.Errorf("unknown tag: got %v", err)
	}
}

func TestReserve(t *testing.T) {
	rent := DefaultRent()
	payer := wallet(1, 5_000_000)
	account := wallet(2, 100_000)
	account.IsSigner = false
	owner := types.Pubkey{7}

	cost, err := Reserve(rent, payer, account, 90, owner)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	want := rent.MinimumBalance(90) - 100_000
	if cost != want {
		t.Errorf("cost: got %d, want %d", cost, want)
	}
	if account.Lamports != rent.MinimumBalance(90) {
		t.Errorf("account lamports: got %d", account.Lamports)
	}
	if payer.Lamports != 5_000_000-want {
		t.Errorf("payer lamports: got %d", payer.Lamports)
	}
	if len(account.Data) != 90 || account.Owner != owner {
		t.Errorf("allocation mismatch: len=%d owner=%s", len(account.Data), account.Owner)
	}
}

func TestReserveInsufficientFunds(t *testing.T) {
	payer := wallet(1, 10)
	account := wallet(2, 0)

	if _, err := Reserve(DefaultRent(), payer, account, 90, types.Pubkey{7}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if payer.Lamports != 10 || account.Lamports != 0 || account.Data != nil || account.Owner != ProgramID {
		t.Error("failed Reserve must not modify accounts")
	}
}

func TestResizeGrowAndShrink(t *testing.T) {
	rent := DefaultRent()
	payer := wallet(1, 5_000_000)
	account := wallet(2, rent.MinimumBalance(4))
	account.Data = []byte{1, 2, 3, 4}

	cost, refund, err := Resize(rent, payer, account, 8)
	if err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if cost != rent.MinimumBalance(8)-rent.MinimumBalance(4) || refund != 0 {
		t.Errorf("grow: cost=%d refund=%d", cost, refund)
	}
	want := []byte{1, 2, 3, 4, 0, 0, 0, 0}
	if string(account.Data) != string(want) {
		t.Errorf("grown data: got %v, want %v", account.Data, want)
	}

	before := payer.Lamports
	cost, refund, err = Resize(rent, payer, account, 2)
	if err != nil {
		t.Fatalf("shrink failed: %v", err)
	}
	if cost != 0 || refund != rent.MinimumBalance(8)-rent.MinimumBalance(2) {
		t.Errorf("shrink: cost=%d refund=%d", cost, refund)
	}
	if payer.Lamports != before+refund {
		t.Errorf("payer not refunded: got %d", payer.Lamports)
	}
	if string(account.Data) != string([]byte{1, 2}) {
		t.Errorf("shrunk data: got %v", account.Data)
	}
}

func TestRelease(t *testing.T) {
	recipient := wallet(1, 50)
	account := wallet(2, 2_000_000)
	account.Owner = types.Pubkey{7}
	data := []byte{9, 9, 9}
	account.Data = data

	refund, err := Release(account, recipient)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if refund != 2_000_000 || recipient.Lamports != 2_000_050 {
		t.Errorf("refund=%d recipient=%d", refund, recipient.Lamports)
	}
	if account.Lamports != 0 || account.Data != nil || account.Owner != ProgramID {
		t.Error("released account not reset")
	}
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not zeroed: %d", i, b)
		}
	}
}
