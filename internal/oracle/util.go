package oracle

// pickFeeRate prefers the hour target and falls back to faster tiers, never going
// below the node's minimum relay fee.
func pickFeeRate(fees recommendedFees) float64 {
	rate := fees.HourFee
	if rate <= 0 {
		rate = fees.HalfHourFee
	}
	if rate <= 0 {
		rate = fees.FastestFee
	}
	if rate < fees.MinimumFee {
		rate = fees.MinimumFee
	}
	return rate
}
