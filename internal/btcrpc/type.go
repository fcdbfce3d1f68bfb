package btcrpc

import (
	"errors"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAddress      = errors.New("invalid bitcoin address")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNoUTXOs             = errors.New("no spendable outputs")
)

// IsBroadcastRejected reports a broadcast the explorer definitely refused, as opposed
// to one whose outcome is unknown. A tx the node already has is not a refusal.
func IsBroadcastRejected(err error) bool {
	var bErr *blockstream.BroadcastTxError
	return errors.As(err, &bErr) && !bErr.AlreadyKnown()
}

// SignedPayout is a fully signed payout transaction ready to broadcast.
type SignedPayout struct {
	TxHash string
	TxHex  string
	Fee    int64
}

// UnspentOutput is a confirmed wallet output together with its parent transaction,
// which signing needs to look up the spent script and value.
type UnspentOutput struct {
	TxID      string
	Vout      uint32
	Value     int64
	Confirmed bool
	RawTx     []byte
}

// selection is the outcome of picking inputs for one payment.
type selection struct {
	inputs []UnspentOutput
	total  int64
	fee    int64
	change int64
}
