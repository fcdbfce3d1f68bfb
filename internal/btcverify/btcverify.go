package btcverify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

var (
	ErrTxNotFound                = errors.New("bitcoin transaction not found")
	ErrNotConfirmed              = errors.New("bitcoin transaction is not confirmed")
	ErrInsufficientConfirmations = errors.New("bitcoin transaction has too few confirmations")
	ErrNoDepositOutput           = errors.New("bitcoin transaction pays nothing to the deposit address")
)

// Verification is a deposit the relayer accepts as final.
type Verification struct {
	TxHash        string
	Confirmations int64
	BlockHeight   int64
	// AmountSats sums the outputs paying the deposit address.
	AmountSats int64
	Senders    []string
}

type IVerifier interface {
	Verify(ctx context.Context, txHash string) (*Verification, error)
	GetTransaction(ctx context.Context, txHash string) (*blockstream.Transaction, error)
}

type Client struct {
	blockstream      blockstream.IBlockStream
	minConfirmations int64
	depositAddress   string
	logger           *logger.Logger
}

func New(bs blockstream.IBlockStream, minConfirmations int64, depositAddress string, logger *logger.Logger) *Client {
	return &Client{
		blockstream:      bs,
		minConfirmations: minConfirmations,
		depositAddress:   depositAddress,
		logger:           logger,
	}
}

func (c *Client) GetTransaction(ctx context.Context, txHash string) (*blockstream.Transaction, error) {
	tx, err := c.blockstream.GetTransaction(ctx, txHash)
	if err != nil {
		if errors.Is(err, blockstream.ErrTxNotFound) {
			return nil, pkgerrors.Wrap(ErrTxNotFound, txHash)
		}
		return nil, err
	}
	return tx, nil
}

// Verify requires at least the configured confirmations, counting the including block
// as the first.
func (c *Client) Verify(ctx context.Context, txHash string) (*Verification, error) {
	tipHeight, err := c.blockstream.GetTipHeight(ctx)
	if err != nil {
		c.logger.Error("[Verify][GetTipHeight]", map[string]string{
			"error":  err.Error(),
			"txHash": txHash,
		})
		return nil, pkgerrors.Wrap(err, "failed to fetch chain height")
	}

	tx, err := c.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if !tx.Status.Confirmed || tx.Status.BlockHeight <= 0 {
		return nil, pkgerrors.Wrap(ErrNotConfirmed, txHash)
	}

	confirmations := Confirmations(tipHeight, tx.Status.BlockHeight)
	if confirmations < c.minConfirmations {
		return nil, pkgerrors.Wrapf(ErrInsufficientConfirmations, "%s has %d, need %d", txHash, confirmations, c.minConfirmations)
	}

	var amount int64
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress == c.depositAddress {
			amount += out.Value
		}
	}
	if amount <= 0 {
		return nil, pkgerrors.Wrapf(ErrNoDepositOutput, "%s to %s", txHash, c.depositAddress)
	}

	senders := []string{}
	seen := map[string]bool{}
	for _, in := range tx.Vin {
		if in.Prevout == nil || in.Prevout.ScriptPubKeyAddress == "" || seen[in.Prevout.ScriptPubKeyAddress] {
			continue
		}
		seen[in.Prevout.ScriptPubKeyAddress] = true
		senders = append(senders, in.Prevout.ScriptPubKeyAddress)
	}

	c.logger.Info("[Verify] deposit verified", map[string]string{
		"txHash":        txHash,
		"confirmations": strconv.FormatInt(confirmations, 10),
		"amount":        strconv.FormatInt(amount, 10),
	})

	return &Verification{
		TxHash:        txHash,
		Confirmations: confirmations,
		BlockHeight:   tx.Status.BlockHeight,
		AmountSats:    amount,
		Senders:       senders,
	}, nil
}

func Confirmations(tipHeight, blockHeight int64) int64 {
	if blockHeight <= 0 || tipHeight < blockHeight {
		return 0
	}
	return tipHeight - blockHeight + 1
}

func (v *Verification) String() string {
	return fmt.Sprintf("%s (%d confirmations, %d sats)", v.TxHash, v.Confirmations, v.AmountSats)
}
