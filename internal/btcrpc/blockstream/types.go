package blockstream

import (
	"errors"
	"fmt"
	"strings"
)

var ErrTxNotFound = errors.New("transaction not found")

type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type UTXO struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status TxStatus `json:"status"`
}

type Prevout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type Vin struct {
	TxID    string   `json:"txid"`
	Vout    uint32   `json:"vout"`
	Prevout *Prevout `json:"prevout"`
}

type Vout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyType    string `json:"scriptpubkey_type"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// Transaction is the esplora /tx/:txid document.
type Transaction struct {
	TxID   string   `json:"txid"`
	Vin    []Vin    `json:"vin"`
	Vout   []Vout   `json:"vout"`
	Size   int      `json:"size"`
	Weight int      `json:"weight"`
	Fee    int64    `json:"fee"`
	Status TxStatus `json:"status"`
}

// BroadcastTxError is a broadcast the explorer answered and refused. MinFee is set when
// the refusal was for a low relay fee.
type BroadcastTxError struct {
	Message    string
	StatusCode int
	MinFee     int64
}

func (e *BroadcastTxError) Error() string {
	if e.MinFee > 0 {
		return fmt.Sprintf("broadcast rejected (status %d, min fee %d): %s", e.StatusCode, e.MinFee, e.Message)
	}
	return fmt.Sprintf("broadcast rejected (status %d): %s", e.StatusCode, e.Message)
}

var alreadyKnownMarkers = []string{
	"txn-already-known",
	"txn-already-in-mempool",
	"transaction already in block chain",
}

// AlreadyKnown reports a refusal only because the node already has this exact tx.
func (e *BroadcastTxError) AlreadyKnown() bool {
	msg := strings.ToLower(e.Message)
	for _, marker := range alreadyKnownMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
