package btcrpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/oracle"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const (
	utxoCacheKey      = "wallet_utxos"
	feeEstimateTarget = "6"
	minFeeRate        = 1.0
)

type BtcRpc struct {
	cfg         config.BitcoinConfig
	logger      *logger.Logger
	blockstream blockstream.IBlockStream
	feeOracle   oracle.IFeeOracle
	params      *chaincfg.Params

	privKey *secp256k1.PrivateKey
	address *btcutil.AddressWitnessPubKeyHash

	utxoCache  *cache.Cache
	rawTxCache *cache.Cache

	// lastGood survives TTL expiry and is served when a refresh fails
	mux      sync.Mutex
	lastGood []UnspentOutput
}

// New builds the wallet engine from the configured WIF. feeOracle may be nil.
func New(appConfig *config.AppConfig, logger *logger.Logger, bs blockstream.IBlockStream, feeOracle oracle.IFeeOracle) (*BtcRpc, error) {
	params := NetworkParams(appConfig.Bitcoin.Network)
	privKey, address, err := getSelfPrivKeyAndAddress(appConfig.Bitcoin.WalletWIF, params)
	if err != nil {
		return nil, err
	}

	ttl := appConfig.Bitcoin.UTXOCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &BtcRpc{
		cfg:         appConfig.Bitcoin,
		logger:      logger,
		blockstream: bs,
		feeOracle:   feeOracle,
		params:      params,
		privKey:     privKey,
		address:     address,
		utxoCache:   cache.New(ttl, 2*ttl),
		rawTxCache:  cache.New(24*time.Hour, time.Hour),
	}, nil
}

func NetworkParams(network string) *chaincfg.Params {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

func (b *BtcRpc) WalletAddress() string {
	return b.address.EncodeAddress()
}

// ValidateAddress accepts any standard address type of the configured network.
func (b *BtcRpc) ValidateAddress(address string) error {
	return ValidateAddress(address, b.params)
}

func ValidateAddress(address string, params *chaincfg.Params) error {
	if address == "" {
		return errors.Wrap(ErrInvalidAddress, "empty address")
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return errors.Wrapf(ErrInvalidAddress, "%s: %v", address, err)
	}
	if !addr.IsForNet(params) {
		return errors.Wrapf(ErrInvalidAddress, "%s is not a %s address", address, params.Name)
	}
	return nil
}

func (b *BtcRpc) InvalidateUTXOCache() {
	b.utxoCache.Delete(utxoCacheKey)
}

// CurrentBalance is the sum of confirmed wallet outputs.
func (b *BtcRpc) CurrentBalance(ctx context.Context) (*model.Web3BigInt, error) {
	utxos, err := b.getConfirmedUTXOs(ctx)
	if err != nil {
		return nil, err
	}
	return model.SatsToWeb3BigInt(sumValues(utxos)), nil
}

// EstimateFeeRate asks the fee oracle, then the explorer's 6 block estimate, and
// settles for the configured default when both fail.
func (b *BtcRpc) EstimateFeeRate(ctx context.Context) float64 {
	if b.feeOracle != nil {
		rate, err := b.feeOracle.RecommendedFeeRate(ctx)
		if err == nil && rate > 0 {
			return clampFeeRate(rate)
		}
		if err != nil {
			b.logger.Error("[EstimateFeeRate][feeOracle.RecommendedFeeRate]", map[string]string{
				"error": err.Error(),
			})
		}
	}

	fees, err := b.blockstream.EstimateFees(ctx)
	if err == nil {
		if rate, ok := fees[feeEstimateTarget]; ok && rate > 0 {
			return clampFeeRate(rate)
		}
	} else {
		b.logger.Error("[EstimateFeeRate][blockstream.EstimateFees]", map[string]string{
			"error": err.Error(),
		})
	}

	b.logger.Info("[EstimateFeeRate] using default fee rate", map[string]string{
		"feeRate": strconv.FormatFloat(b.cfg.DefaultFeeRate, 'f', 2, 64),
	})
	return clampFeeRate(b.cfg.DefaultFeeRate)
}

func clampFeeRate(rate float64) float64 {
	if rate < minFeeRate {
		return minFeeRate
	}
	return rate
}

func (b *BtcRpc) Send(ctx context.Context, receiverAddress string, amountSats int64) (string, int64, error) {
	payout, err := b.BuildPayout(ctx, receiverAddress, amountSats)
	if err != nil {
		return "", 0, err
	}
	txHash, err := b.BroadcastPayout(ctx, payout)
	if err != nil {
		return "", 0, err
	}
	return txHash, payout.Fee, nil
}

func (b *BtcRpc) BuildPayout(ctx context.Context, receiverAddress string, amountSats int64) (*SignedPayout, error) {
	if err := b.ValidateAddress(receiverAddress); err != nil {
		return nil, err
	}
	if amountSats <= 0 {
		return nil, errors.Wrapf(ErrInvalidAmount, "%d", amountSats)
	}
	receiver, _ := btcutil.DecodeAddress(receiverAddress, b.params)

	utxos, err := b.getConfirmedUTXOs(ctx)
	if err != nil {
		return nil, err
	}

	balance := model.SatsToWeb3BigInt(sumValues(utxos))
	if !balance.CoversWithMargin(amountSats, b.cfg.BalanceSafetyMultiplier) {
		return nil, errors.Wrapf(ErrInsufficientBalance,
			"have %s satoshis, need %d x %.2f", balance.Value, amountSats, b.cfg.BalanceSafetyMultiplier)
	}

	feeRate := b.EstimateFeeRate(ctx)
	sel, err := selectUTXOs(utxos, amountSats, feeRate, b.cfg.SafetyBuffer)
	if err != nil {
		return nil, err
	}

	tx, err := b.prepareTx(sel, receiver, amountSats)
	if err != nil {
		return nil, err
	}
	if err := b.sign(tx, sel.inputs); err != nil {
		return nil, err
	}
	txHex, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}

	b.logger.Info("[BuildPayout] payout signed", map[string]string{
		"txHash":   tx.TxHash().String(),
		"receiver": receiverAddress,
		"amount":   strconv.FormatInt(amountSats, 10),
		"fee":      strconv.FormatInt(sel.fee, 10),
		"inputs":   strconv.Itoa(len(sel.inputs)),
		"change":   strconv.FormatInt(sel.change, 10),
	})
	return &SignedPayout{TxHash: tx.TxHash().String(), TxHex: txHex, Fee: sel.fee}, nil
}

func (b *BtcRpc) BroadcastPayout(ctx context.Context, payout *SignedPayout) (string, error) {
	txHash, err := b.blockstream.BroadcastTx(ctx, payout.TxHex)
	if err != nil {
		var bErr *blockstream.BroadcastTxError
		if errors.As(err, &bErr) && bErr.AlreadyKnown() {
			b.logger.Info("[BroadcastPayout] tx already known to the network", map[string]string{
				"txHash": payout.TxHash,
			})
			b.InvalidateUTXOCache()
			return payout.TxHash, nil
		}
		b.logger.Error("[BroadcastPayout][BroadcastTx]", map[string]string{
			"error":  err.Error(),
			"txHash": payout.TxHash,
		})
		return "", errors.Wrap(err, "failed to broadcast transaction")
	}
	if txHash == "" {
		txHash = payout.TxHash
	}

	b.InvalidateUTXOCache()
	b.logger.Info("[BroadcastPayout] payout broadcast", map[string]string{
		"txHash": txHash,
		"fee":    strconv.FormatInt(payout.Fee, 10),
	})
	return txHash, nil
}

func (b *BtcRpc) getConfirmedUTXOs(ctx context.Context) ([]UnspentOutput, error) {
	if cached, ok := b.utxoCache.Get(utxoCacheKey); ok {
		return cached.([]UnspentOutput), nil
	}

	utxos, err := b.fetchConfirmedUTXOs(ctx)
	if err != nil {
		b.mux.Lock()
		fallback := b.lastGood
		b.mux.Unlock()
		if fallback != nil {
			b.logger.Error("[getConfirmedUTXOs] refresh failed, serving last good set", map[string]string{
				"error": err.Error(),
				"count": strconv.Itoa(len(fallback)),
			})
			return fallback, nil
		}
		return nil, err
	}

	b.utxoCache.SetDefault(utxoCacheKey, utxos)
	b.mux.Lock()
	b.lastGood = utxos
	b.mux.Unlock()
	return utxos, nil
}

func (b *BtcRpc) fetchConfirmedUTXOs(ctx context.Context) ([]UnspentOutput, error) {
	raw, err := b.blockstream.GetUTXOs(ctx, b.WalletAddress())
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch wallet utxos")
	}

	utxos := make([]UnspentOutput, 0, len(raw))
	for _, u := range raw {
		if !u.Status.Confirmed {
			continue
		}
		rawTx, err := b.parentTx(ctx, u.TxID)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, UnspentOutput{
			TxID:      u.TxID,
			Vout:      u.Vout,
			Value:     u.Value,
			Confirmed: true,
			RawTx:     rawTx,
		})
	}
	return utxos, nil
}

func (b *BtcRpc) parentTx(ctx context.Context, txID string) ([]byte, error) {
	if cached, ok := b.rawTxCache.Get(txID); ok {
		return cached.([]byte), nil
	}
	txHex, err := b.blockstream.GetTransactionHex(ctx, txID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch parent tx %s", txID)
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("parent tx %s is not hex: %w", txID, err)
	}
	b.rawTxCache.SetDefault(txID, raw)
	return raw, nil
}

func sumValues(utxos []UnspentOutput) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}
