package consts

const (
	// BTCDecimals is the number of satoshi digits in one BTC.
	BTCDecimals = 8

	// DustLimitSats is the largest remainder absorbed into the fee instead of paid as change.
	DustLimitSats = 546

	// WithdrawalEventsChannel keys the cursor row of the withdrawal event feed.
	WithdrawalEventsChannel = "withdrawalEvents"

	// RecentWithdrawalsLimit bounds GET /withdrawals/:chainAddress.
	RecentWithdrawalsLimit = 10

	// MaxSupplySats is 21M BTC, the upper bound of any withdrawal amount.
	MaxSupplySats int64 = 21_000_000 * 100_000_000

	CollateralProofStruct = "CollateralProof"

	JobNamePayout        = "withdrawal_payout"
	JobNameCursorHealth  = "cursor_health"
	JobNameWalletBalance = "wallet_balance"

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)
