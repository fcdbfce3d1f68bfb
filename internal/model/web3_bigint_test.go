package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeb3BigInt_ToFloat(t *testing.T) {
	tests := []struct {
		name     string
		input    Web3BigInt
		expected float64
	}{
		{name: "one btc", input: Web3BigInt{Value: "100000000", Decimal: 8}, expected: 1.0},
		{name: "zero value", input: Web3BigInt{Value: "0", Decimal: 8}, expected: 0.0},
		{name: "deposit", input: Web3BigInt{Value: "1000000", Decimal: 8}, expected: 0.01},
		{name: "small decimal", input: Web3BigInt{Value: "123456", Decimal: 3}, expected: 123.456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.input.ToFloat())
		})
	}
}

func TestWeb3BigInt_AddSub(t *testing.T) {
	a := SatsToWeb3BigInt(3000000)
	b := SatsToWeb3BigInt(1000000)

	sum := a.Add(b)
	require.NotNil(t, sum)
	assert.Equal(t, "4000000", sum.Value)
	assert.Equal(t, 8, sum.Decimal)

	diff := b.Sub(a)
	require.NotNil(t, diff)
	assert.Equal(t, "-2000000", diff.Value)

	other := &Web3BigInt{Value: "1", Decimal: 18}
	assert.Nil(t, a.Add(other))
	assert.Nil(t, a.Sub(other))

	big := &Web3BigInt{Value: "999999999999999999999999", Decimal: 18}
	assert.Equal(t, "1000000000000000000000000", big.Add(&Web3BigInt{Value: "1", Decimal: 18}).Value)
}

func TestWeb3BigInt_Int64AndString(t *testing.T) {
	v, ok := SatsToWeb3BigInt(1000000).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(1000000), v)
	assert.Equal(t, "0.01", SatsToWeb3BigInt(1000000).String())

	_, ok = (&Web3BigInt{Value: "abc", Decimal: 8}).Int64()
	assert.False(t, ok)
}

func TestWeb3BigInt_CoversWithMargin(t *testing.T) {
	balance := SatsToWeb3BigInt(600000)

	assert.True(t, balance.CoversWithMargin(500000, 1.2))
	assert.False(t, balance.CoversWithMargin(500001, 1.2))
	assert.False(t, SatsToWeb3BigInt(500000).CoversWithMargin(600000, 1.2))
}
