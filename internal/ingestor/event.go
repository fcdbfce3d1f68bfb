package ingestor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/withdrawal"
)

var ErrInvalidEvent = errors.New("invalid withdrawal event")

type AddressValidator interface {
	ValidateAddress(address string) error
}

// withdrawalPayload is the parsedJson body of a WithdrawalRequested event.
type withdrawalPayload struct {
	User       string           `json:"user"`
	BtcAddress string           `json:"btc_address"`
	Amount     *decimal.Decimal `json:"amount"`
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrap(ErrInvalidEvent, fmt.Sprintf(format, args...))
}

// parseEvent turns a raw chain event into a withdrawal request. Every error it
// returns wraps ErrInvalidEvent.
func parseEvent(evt chainrpc.Event, btcAddresses AddressValidator, maxSats int64) (withdrawal.Event, error) {
	if evt.ID.TxDigest == "" {
		return withdrawal.Event{}, invalid("missing event id")
	}
	if len(evt.ParsedJSON) == 0 {
		return withdrawal.Event{}, invalid("empty payload")
	}

	var payload withdrawalPayload
	if err := json.Unmarshal(evt.ParsedJSON, &payload); err != nil {
		return withdrawal.Event{}, invalid("malformed payload: %v", err)
	}

	if strings.TrimSpace(payload.User) == "" {
		return withdrawal.Event{}, invalid("missing user address")
	}
	chainAddress, err := chainrpc.NormalizeAddress(payload.User)
	if err != nil {
		return withdrawal.Event{}, invalid("%v", err)
	}

	btcAddress := strings.TrimSpace(payload.BtcAddress)
	if btcAddress == "" {
		return withdrawal.Event{}, invalid("missing bitcoin address")
	}
	if err := btcAddresses.ValidateAddress(btcAddress); err != nil {
		return withdrawal.Event{}, invalid("bitcoin address %q: %v", btcAddress, err)
	}

	if payload.Amount == nil {
		return withdrawal.Event{}, invalid("missing amount")
	}
	amount := *payload.Amount
	if !amount.IsInteger() {
		return withdrawal.Event{}, invalid("amount %s is not a whole number of satoshis", amount)
	}
	if !amount.IsPositive() {
		return withdrawal.Event{}, invalid("amount %s must be positive", amount)
	}
	if maxSats <= 0 || maxSats > consts.MaxSupplySats {
		maxSats = consts.MaxSupplySats
	}
	if amount.GreaterThan(decimal.NewFromInt(maxSats)) {
		return withdrawal.Event{}, invalid("amount %s exceeds maximum %d", amount, maxSats)
	}

	return withdrawal.Event{
		SourceEventID:  evt.Key(),
		ChainAddress:   chainAddress,
		BitcoinAddress: btcAddress,
		AmountSats:     amount.IntPart(),
		Payload:        string(evt.ParsedJSON),
	}, nil
}
