package chainrpc

import "context"

type IChainRPC interface {
	QueryEvents(ctx context.Context, eventType string, cursor *EventID, limit int) (*EventPage, error)
	GetCollateralObject(ctx context.Context, owner string) (*CollateralObject, error)
	CreateCollateralProof(ctx context.Context, owner string) (*TxResult, error)
	AttestDeposit(ctx context.Context, objectID string, amountSats int64, btcTxHash string) (*TxResult, error)
	LatestCheckpoint(ctx context.Context) (int64, error)
	RelayerAddress() string
}
