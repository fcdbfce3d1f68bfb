package model

import (
	"github.com/shopspring/decimal"

	"github.com/dwarvesf/collateral-relayer/internal/consts"
)

// Web3BigInt is an integer amount in the smallest unit plus its decimal exponent.
type Web3BigInt struct {
	Value   string `json:"value"`
	Decimal int    `json:"decimal"`
}

func SatsToWeb3BigInt(sats int64) *Web3BigInt {
	return &Web3BigInt{
		Value:   decimal.NewFromInt(sats).String(),
		Decimal: consts.BTCDecimals,
	}
}

func (w *Web3BigInt) raw() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(w.Value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (w *Web3BigInt) Int64() (int64, bool) {
	d, ok := w.raw()
	if !ok || !d.IsInteger() {
		return 0, false
	}
	return d.IntPart(), true
}

func (w *Web3BigInt) ToFloat() float64 {
	d, _ := w.raw()
	f, _ := d.Shift(int32(-w.Decimal)).Float64()
	return f
}

// String formats the amount in whole units, e.g. "0.01" for 1000000 sats.
func (w *Web3BigInt) String() string {
	d, _ := w.raw()
	return d.Shift(int32(-w.Decimal)).String()
}

// Add returns nil when the operands use different decimals.
func (w *Web3BigInt) Add(number *Web3BigInt) *Web3BigInt {
	if w.Decimal != number.Decimal {
		return nil
	}
	a, _ := w.raw()
	b, _ := number.raw()
	return &Web3BigInt{Value: a.Add(b).String(), Decimal: w.Decimal}
}

// Sub returns nil when the operands use different decimals.
func (w *Web3BigInt) Sub(number *Web3BigInt) *Web3BigInt {
	if w.Decimal != number.Decimal {
		return nil
	}
	a, _ := w.raw()
	b, _ := number.raw()
	return &Web3BigInt{Value: a.Sub(b).String(), Decimal: w.Decimal}
}

// CoversWithMargin reports whether w >= amount * multiplier, both in the smallest unit.
func (w *Web3BigInt) CoversWithMargin(amount int64, multiplier float64) bool {
	have, ok := w.raw()
	if !ok {
		return false
	}
	need := decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(multiplier))
	return have.GreaterThanOrEqual(need)
}
