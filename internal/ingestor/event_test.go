package ingestor

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
)

type prefixValidator struct{}

func (prefixValidator) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "tb1") {
		return errors.New("not a testnet address")
	}
	return nil
}

func withdrawalEvent(digest string, payload interface{}) chainrpc.Event {
	raw, _ := json.Marshal(payload)
	return chainrpc.Event{
		ID:         chainrpc.EventID{TxDigest: digest, EventSeq: "0"},
		Type:       "0x2::collateral::WithdrawalRequested",
		ParsedJSON: raw,
	}
}

func TestParseEvent(t *testing.T) {
	const paddedUser = "0x0000000000000000000000000000000000000000000000000000000000000abc"

	t.Run("valid event", func(t *testing.T) {
		evt := withdrawalEvent("evt-42", map[string]interface{}{
			"user":        "0xABC",
			"btc_address": " tb1qdest ",
			"amount":      "250000",
		})

		got, err := parseEvent(evt, prefixValidator{}, 0)
		require.NoError(t, err)
		assert.Equal(t, "evt-42:0", got.SourceEventID)
		assert.Equal(t, paddedUser, got.ChainAddress)
		assert.Equal(t, "tb1qdest", got.BitcoinAddress)
		assert.Equal(t, int64(250000), got.AmountSats)
		assert.JSONEq(t, string(evt.ParsedJSON), got.Payload)
	})

	t.Run("numeric amount", func(t *testing.T) {
		evt := withdrawalEvent("evt-43", map[string]interface{}{
			"user": "0xabc", "btc_address": "tb1qdest", "amount": 1000,
		})
		got, err := parseEvent(evt, prefixValidator{}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.AmountSats)
	})

	cases := []struct {
		name    string
		evt     chainrpc.Event
		maxSats int64
		errPart string
	}{
		{
			name:    "missing id",
			evt:     withdrawalEvent("", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "1"}),
			errPart: "missing event id",
		},
		{
			name:    "empty payload",
			evt:     chainrpc.Event{ID: chainrpc.EventID{TxDigest: "d", EventSeq: "0"}},
			errPart: "empty payload",
		},
		{
			name:    "malformed payload",
			evt:     chainrpc.Event{ID: chainrpc.EventID{TxDigest: "d", EventSeq: "0"}, ParsedJSON: json.RawMessage(`"nope"`)},
			errPart: "malformed payload",
		},
		{
			name:    "missing user",
			evt:     withdrawalEvent("d", map[string]interface{}{"btc_address": "tb1q", "amount": "1"}),
			errPart: "missing user",
		},
		{
			name:    "bad user",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xnothex", "btc_address": "tb1q", "amount": "1"}),
			errPart: "invalid chain address",
		},
		{
			name:    "missing bitcoin address",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "amount": "1"}),
			errPart: "missing bitcoin address",
		},
		{
			name:    "wrong network bitcoin address",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "bc1qmain", "amount": "1"}),
			errPart: "not a testnet address",
		},
		{
			name:    "missing amount",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q"}),
			errPart: "missing amount",
		},
		{
			name:    "fractional amount",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "10.5"}),
			errPart: "whole number",
		},
		{
			name:    "zero amount",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "0"}),
			errPart: "must be positive",
		},
		{
			name:    "negative amount",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "-5"}),
			errPart: "must be positive",
		},
		{
			name:    "above configured maximum",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "1001"}),
			maxSats: 1000,
			errPart: "exceeds maximum",
		},
		{
			name:    "above total supply",
			evt:     withdrawalEvent("d", map[string]interface{}{"user": "0xabc", "btc_address": "tb1q", "amount": "99999999999999999999999"}),
			errPart: "exceeds maximum",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseEvent(tc.evt, prefixValidator{}, tc.maxSats)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}

	t.Run("supply bound applies when maximum is unset", func(t *testing.T) {
		evt := withdrawalEvent("d", map[string]interface{}{
			"user": "0xabc", "btc_address": "tb1q", "amount": consts.MaxSupplySats,
		})
		got, err := parseEvent(evt, prefixValidator{}, 0)
		require.NoError(t, err)
		assert.Equal(t, consts.MaxSupplySats, got.AmountSats)
	})
}
