package btcrpc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/consts"
)

const (
	p2wpkhInputSize  = 68 // SegWit P2WPKH input size
	p2wpkhOutputSize = 31 // SegWit P2WPKH output size
	txOverhead       = 10 // Transaction overhead

	// destination and change
	assumedOutputs = 2
)

// calculateTxSize calculates the total transaction size in bytes
func calculateTxSize(numInputs, numOutputs int) int {
	return txOverhead + (numInputs * p2wpkhInputSize) + (numOutputs * p2wpkhOutputSize)
}

func calculateTxFee(numInputs int, feeRate float64) int64 {
	return int64(math.Ceil(float64(calculateTxSize(numInputs, assumedOutputs)) * feeRate))
}

// selectUTXOs takes outputs smallest first and stops at the first prefix worth at least
// amount + fee + safetyBuffer. When every output together only covers amount + fee the
// whole set is used; anything less is an insufficient balance.
func selectUTXOs(utxos []UnspentOutput, amount int64, feeRate float64, safetyBuffer int64) (*selection, error) {
	if len(utxos) == 0 {
		return nil, errors.Wrap(ErrInsufficientBalance, ErrNoUTXOs.Error())
	}

	sorted := make([]UnspentOutput, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value < sorted[j].Value
	})

	sel := &selection{}
	for _, utxo := range sorted {
		sel.inputs = append(sel.inputs, utxo)
		sel.total += utxo.Value
		sel.fee = calculateTxFee(len(sel.inputs), feeRate)

		if sel.total >= amount+sel.fee+safetyBuffer {
			break
		}
	}

	if sel.total < amount+sel.fee {
		return nil, errors.Wrapf(ErrInsufficientBalance,
			"have %d satoshis, need %d satoshis", sel.total, amount+sel.fee)
	}

	remainder := sel.total - amount - sel.fee
	if remainder > consts.DustLimitSats {
		sel.change = remainder
	} else {
		// dust goes to the miner
		sel.fee += remainder
	}
	return sel, nil
}

func getSelfPrivKeyAndAddress(wifStr string, params *chaincfg.Params) (*secp256k1.PrivateKey, *btcutil.AddressWitnessPubKeyHash, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode wif: %v", err)
	}
	if !wif.IsForNet(params) {
		return nil, nil, fmt.Errorf("wif is not for %s", params.Name)
	}

	privKey := wif.PrivKey
	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())

	address, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create wallet address: %v", err)
	}

	return privKey, address, nil
}

// prepareTx builds the unsigned payment with an optional change output back to the wallet.
func (b *BtcRpc) prepareTx(sel *selection, receiver btcutil.Address, amountToSend int64) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)

	for _, utxo := range sel.inputs {
		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("failed to create hash: %v", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, utxo.Vout), nil, nil))
	}

	pkScript, err := txscript.PayToAddrScript(receiver)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipient output script: %v", err)
	}
	tx.AddTxOut(wire.NewTxOut(amountToSend, pkScript))

	if sel.change > 0 {
		changePkScript, err := txscript.PayToAddrScript(b.address)
		if err != nil {
			return nil, fmt.Errorf("failed to create change output script: %v", err)
		}
		tx.AddTxOut(wire.NewTxOut(sel.change, changePkScript))
	}

	return tx, nil
}

// prevOutputFetcher resolves every spent output from its parent transaction. An output
// whose parent bytes are missing is assumed to pay the wallet script.
func (b *BtcRpc) prevOutputFetcher(inputs []UnspentOutput) (*txscript.MultiPrevOutFetcher, error) {
	walletScript, err := txscript.PayToAddrScript(b.address)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet output script: %v", err)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, utxo := range inputs {
		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("failed to create hash: %v", err)
		}
		outPoint := wire.OutPoint{Hash: *hash, Index: utxo.Vout}

		if len(utxo.RawTx) == 0 {
			fetcher.AddPrevOut(outPoint, wire.NewTxOut(utxo.Value, walletScript))
			continue
		}

		parent := wire.NewMsgTx(wire.TxVersion)
		if err := parent.Deserialize(bytes.NewReader(utxo.RawTx)); err != nil {
			return nil, fmt.Errorf("failed to decode parent tx %s: %v", utxo.TxID, err)
		}
		if parent.TxHash() != *hash {
			return nil, fmt.Errorf("parent tx bytes do not hash to %s", utxo.TxID)
		}
		if int(utxo.Vout) >= len(parent.TxOut) {
			return nil, fmt.Errorf("parent tx %s has no output %d", utxo.TxID, utxo.Vout)
		}
		prevOut := parent.TxOut[utxo.Vout]
		if prevOut.Value != utxo.Value {
			return nil, fmt.Errorf("output %s:%d value mismatch: %d != %d", utxo.TxID, utxo.Vout, prevOut.Value, utxo.Value)
		}
		fetcher.AddPrevOut(outPoint, prevOut)
	}
	return fetcher, nil
}

// sign signs the transaction with the private key for each input
func (b *BtcRpc) sign(tx *wire.MsgTx, inputs []UnspentOutput) error {
	fetcher, err := b.prevOutputFetcher(inputs)
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		witness, err := txscript.WitnessSignature(
			tx,
			sigHashes,
			i,
			prevOut.Value,
			prevOut.PkScript,
			txscript.SigHashAll,
			b.privKey,
			true,
		)
		if err != nil {
			return fmt.Errorf("failed to sign transaction input %d: %v", i, err)
		}
		txIn.Witness = witness
		txIn.SignatureScript = nil
	}

	return nil
}

// broadcast serializes the signed transaction and broadcasts it
func serializeTx(tx *wire.MsgTx) (string, error) {
	var signedTx bytes.Buffer
	if err := tx.Serialize(&signedTx); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %v", err)
	}
	return hex.EncodeToString(signedTx.Bytes()), nil
}
