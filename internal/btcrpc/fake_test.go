package btcrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
	"github.com/dwarvesf/collateral-relayer/internal/oracle"
)

type fakeBlockstream struct {
	mu sync.Mutex

	utxos      []blockstream.UTXO
	txHex      map[string]string
	fees       map[string]float64
	utxoErr    error
	feeErr     error
	utxoCalls  int
	broadcasts []string
	// broadcastErr is returned after the tx is recorded as broadcast
	broadcastErr error
}

func (f *fakeBlockstream) BroadcastTx(ctx context.Context, txHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, txHex)
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	raw, _ := hex.DecodeString(txHex)
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (f *fakeBlockstream) EstimateFees(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fees, f.feeErr
}

func (f *fakeBlockstream) GetUTXOs(ctx context.Context, address string) ([]blockstream.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxoCalls++
	if f.utxoErr != nil {
		return nil, f.utxoErr
	}
	return f.utxos, nil
}

func (f *fakeBlockstream) GetTransaction(ctx context.Context, txID string) (*blockstream.Transaction, error) {
	return nil, blockstream.ErrTxNotFound
}

func (f *fakeBlockstream) GetTransactionHex(ctx context.Context, txID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.txHex[txID]
	if !ok {
		return "", blockstream.ErrTxNotFound
	}
	return h, nil
}

func (f *fakeBlockstream) GetTipHeight(ctx context.Context) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakeBlockstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.utxoCalls
}

func (f *fakeBlockstream) lastBroadcast() *wire.MsgTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return nil
	}
	raw, _ := hex.DecodeString(f.broadcasts[len(f.broadcasts)-1])
	tx := wire.NewMsgTx(2)
	_ = tx.Deserialize(bytes.NewReader(raw))
	return tx
}

// fund creates a confirmed parent tx paying value to the wallet and registers it.
func (f *fakeBlockstream) fund(walletScript []byte, values ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txHex == nil {
		f.txHex = map[string]string{}
	}
	for i, v := range values {
		parent := wire.NewMsgTx(2)
		parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(i + 1), byte(len(f.utxos))}, 0), nil, nil))
		parent.AddTxOut(wire.NewTxOut(v, walletScript))

		var buf bytes.Buffer
		_ = parent.Serialize(&buf)
		txID := parent.TxHash().String()
		f.txHex[txID] = hex.EncodeToString(buf.Bytes())

		u := blockstream.UTXO{TxID: txID, Vout: 0, Value: v}
		u.Status.Confirmed = true
		f.utxos = append(f.utxos, u)
	}
}

type fakeFeeOracle struct {
	rate float64
	err  error
}

func (o *fakeFeeOracle) RecommendedFeeRate(ctx context.Context) (float64, error) {
	return o.rate, o.err
}

func (o *fakeFeeOracle) GetCacheStatistics() *oracle.CacheStatistics {
	return &oracle.CacheStatistics{}
}

func newTestWIF(params *chaincfg.Params) (string, []byte) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	wif, err := btcutil.NewWIF(key, params, true)
	if err != nil {
		panic(err)
	}
	addr, _ := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), params)
	script, _ := txscript.PayToAddrScript(addr)
	return wif.String(), script
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
