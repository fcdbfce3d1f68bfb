package withdrawal

import (
	"context"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type IWithdrawal interface {
	RecordEvent(ctx context.Context, event Event) (*model.TransactionRecord, error)
	Deliver(ctx context.Context, event Event) (*model.TransactionRecord, bool, error)
	Attest(ctx context.Context, recordID string) (*model.TransactionRecord, error)
}

// Event is a validated withdrawal request seen on the chain.
type Event struct {
	SourceEventID  string
	ChainAddress   string
	BitcoinAddress string
	AmountSats     int64
	Payload        string
}
