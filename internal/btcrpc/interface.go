package btcrpc

import (
	"context"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type IBtcRpc interface {
	// Send pays amountSats to receiverAddress from the relayer wallet and returns the
	// broadcast tx hash and the fee actually paid.
	Send(ctx context.Context, receiverAddress string, amountSats int64) (txHash string, fee int64, err error)
	// BuildPayout selects inputs and signs a payout without broadcasting it.
	BuildPayout(ctx context.Context, receiverAddress string, amountSats int64) (*SignedPayout, error)
	// BroadcastPayout sends a signed payout. Broadcasting a tx the node already has succeeds.
	BroadcastPayout(ctx context.Context, payout *SignedPayout) (string, error)
	CurrentBalance(ctx context.Context) (*model.Web3BigInt, error)
	EstimateFeeRate(ctx context.Context) float64
	ValidateAddress(address string) error
	WalletAddress() string
	InvalidateUTXOCache()
}
