package journal

import (
	"fmt"

	"github.com/fortiblox/x1-journal/pkg/svm"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/system"
)

// Account positions shared by every instruction.
const (
	accountEntry = iota
	accountOwner
	accountSystem
	numAccounts
)

type entryAccounts struct {
	entry *svm.AccountInfo
	owner *svm.AccountInfo
}

func loadAccounts(ctx svm.InvokeContext) (*entryAccounts, error) {
	if ctx.NumAccounts() < numAccounts {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrNotEnoughAccountKeys, ctx.NumAccounts(), numAccounts)
	}
	entry, err := ctx.GetAccount(accountEntry)
	if err != nil {
		return nil, err
	}
	owner, err := ctx.GetAccount(accountOwner)
	if err != nil {
		return nil, err
	}
	sys, err := ctx.GetAccount(accountSystem)
	if err != nil {
		return nil, err
	}
	if sys.Key != system.ProgramID {
		return nil, fmt.Errorf("%w: expected system program, got %s", ErrIncorrectProgramID, sys.Key)
	}
	return &entryAccounts{entry: entry, owner: owner}, nil
}

func (a *entryAccounts) checkWritable() error {
	if !a.entry.IsWritable {
		return fmt.Errorf("%w: entry %s", ErrAccountNotWritable, a.entry.Key)
	}
	if !a.owner.IsWritable {
		return fmt.Errorf("%w: owner %s", ErrAccountNotWritable, a.owner.Key)
	}
	return nil
}

// initialized reports whether the entry account already holds a record of
// this program. Existence and initialization are tracked separately: a
// funded or allocated system account exists without being initialized.
func initialized(ctx svm.InvokeContext, account *svm.AccountInfo) bool {
	return account.Owner == ctx.ProgramID() && HasEntryDiscriminator(account.Data)
}

func exists(account *svm.AccountInfo) bool {
	return account.Exists() || account.Owner != system.ProgramID
}

// loadEntry decodes the record held by an existing entry account.
func loadEntry(ctx svm.InvokeContext, account *svm.AccountInfo) (*Entry, error) {
	if !exists(account) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, account.Key)
	}
	if account.Owner != ctx.ProgramID() {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrIllegalOwner, account.Key, account.Owner)
	}
	return DecodeEntry(account.Data)
}

// authorize checks that the entry sits at its derived address and that the
// owner account is its stored owner and signed.
func (p *Processor) authorize(ctx svm.InvokeContext, acc *entryAccounts, title string, stored *Entry) error {
	if stored.Title != title {
		return fmt.Errorf("%w: stored title %q", ErrAddressMismatch, stored.Title)
	}
	addr, err := p.deriveEntry(ctx, title, stored.Owner)
	if err != nil {
		return err
	}
	if addr != acc.entry.Key {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, addr, acc.entry.Key)
	}
	if acc.owner.Key != stored.Owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, acc.owner.Key)
	}
	if !acc.owner.IsSigner {
		return fmt.Errorf("%w: %s", ErrMissingSignature, acc.owner.Key)
	}
	return acc.checkWritable()
}

func (p *Processor) create(ctx svm.InvokeContext, args Args) error {
	acc, err := loadAccounts(ctx)
	if err != nil {
		return err
	}

	entry := &Entry{Owner: acc.owner.Key, Title: args.Title, Message: args.Message}
	if err := entry.Validate(); err != nil {
		return err
	}
	if !acc.owner.IsSigner {
		return fmt.Errorf("%w: %s", ErrMissingSignature, acc.owner.Key)
	}

	addr, err := p.deriveEntry(ctx, entry.Title, entry.Owner)
	if err != nil {
		return err
	}
	if addr != acc.entry.Key {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, addr, acc.entry.Key)
	}
	if err := acc.checkWritable(); err != nil {
		return err
	}

	switch {
	case initialized(ctx, acc.entry):
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, acc.entry.Key)
	case exists(acc.entry) && acc.entry.Owner != system.ProgramID && acc.entry.Owner != ctx.ProgramID():
		return fmt.Errorf("%w: %s is owned by %s", ErrIllegalOwner, acc.entry.Key, acc.entry.Owner)
	}

	data, err := entry.Encode()
	if err != nil {
		return err
	}
	if err := ctx.ConsumeCU(uint64(len(data)) * svm.CUJournalPerByte); err != nil {
		return err
	}
	if _, err := system.Reserve(ctx.Rent(), acc.owner, acc.entry, uint64(len(data)), ctx.ProgramID()); err != nil {
		return err
	}
	copy(acc.entry.Data, data)

	ctx.Log("Journal Entry Created")
	ctx.Log("Title: " + entry.Title)
	ctx.Log("Message: " + entry.Message)
	return nil
}

func (p *Processor) update(ctx svm.InvokeContext, args Args) error {
	if err := checkFields(args.Title, args.Message); err != nil {
		return err
	}
	acc, err := loadAccounts(ctx)
	if err != nil {
		return err
	}
	stored, err := loadEntry(ctx, acc.entry)
	if err != nil {
		return err
	}
	if err := p.authorize(ctx, acc, args.Title, stored); err != nil {
		return err
	}

	updated := &Entry{Owner: stored.Owner, Title: stored.Title, Message: args.Message}
	data, err := updated.Encode()
	if err != nil {
		return err
	}
	if err := ctx.ConsumeCU(uint64(len(data)) * svm.CUJournalPerByte); err != nil {
		return err
	}
	if _, _, err := system.Resize(ctx.Rent(), acc.owner, acc.entry, uint64(len(data))); err != nil {
		return err
	}
	copy(acc.entry.Data, data)

	ctx.Log("Journal Entry Updated")
	ctx.Log("Title: " + updated.Title)
	ctx.Log("Message: " + updated.Message)
	return nil
}

func (p *Processor) delete(ctx svm.InvokeContext, args Args) error {
	if len(args.Title) > MaxTitleLen {
		return fmt.Errorf("%w: title is %d bytes, limit %d", ErrFieldTooLarge, len(args.Title), MaxTitleLen)
	}
	acc, err := loadAccounts(ctx)
	if err != nil {
		return err
	}
	stored, err := loadEntry(ctx, acc.entry)
	if err != nil {
		return err
	}
	if err := p.authorize(ctx, acc, args.Title, stored); err != nil {
		return err
	}

	if _, err := system.Release(acc.entry, acc.owner); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Journal entry titled %s deleted", stored.Title))
	return nil
}
