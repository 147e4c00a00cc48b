package runtime

import (
	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/svm"
)

// instructionContext implements svm.InvokeContext for one instruction.
type instructionContext struct {
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	meter     *svm.ComputeMeter
	rent      svm.Rent
	logs      *[]string
}

func (c *instructionContext) ProgramID() types.Pubkey {
	return c.programID
}

func (c *instructionContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, svm.ErrAccountIndexOutOfBounds
	}
	return c.accounts[index], nil
}

func (c *instructionContext) NumAccounts() int {
	return len(c.accounts)
}

func (c *instructionContext) Rent() svm.Rent {
	return c.rent
}

func (c *instructionContext) ConsumeCU(units uint64) error {
	return c.meter.Consume(units)
}

func (c *instructionContext) Log(msg string) {
	*c.logs = append(*c.logs, "Program log: "+msg)
}

var _ svm.InvokeContext = (*instructionContext)(nil)
