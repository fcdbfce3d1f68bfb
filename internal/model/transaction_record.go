package model

import (
	"strings"
	"time"
)

type RecordKind string

const (
	RecordKindDeposit    RecordKind = "deposit"
	RecordKindWithdrawal RecordKind = "withdrawal"
)

type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusFailed     RecordStatus = "failed"
)

func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusCompleted || s == RecordStatusFailed
}

// TransactionRecord is one unit of relay work, a deposit or a withdrawal.
// Rows are never deleted.
type TransactionRecord struct {
	ID             string       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Kind           RecordKind   `gorm:"column:kind;type:varchar(20);not null" json:"kind"`
	Status         RecordStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	ChainAddress   string       `gorm:"column:chain_address;type:varchar(66);not null" json:"chainAddress"`
	BitcoinAddress string       `gorm:"column:bitcoin_address;type:varchar(100)" json:"bitcoinAddress"`
	Payload        string       `gorm:"column:payload;type:jsonb;default:'{}'" json:"payload"`
	ErrorMessage   *string      `gorm:"column:error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"column:updated_at" json:"updatedAt"`
	ProcessedAt    *time.Time   `gorm:"column:processed_at" json:"processedAt,omitempty"`

	// deposit
	BitcoinTxHash     *string `gorm:"column:bitcoin_tx_hash;type:varchar(64)" json:"bitcoinTxHash,omitempty"`
	CollateralCreated bool    `gorm:"column:collateral_created" json:"collateralCreated"`
	ChainTxDigest     *string `gorm:"column:chain_tx_digest;type:varchar(100)" json:"chainTxDigest,omitempty"`
	DepositAmountSats int64   `gorm:"column:deposit_amount_sats" json:"depositAmountSats,omitempty"`

	// withdrawal
	SourceEventID       *string `gorm:"column:source_event_id;type:varchar(255)" json:"sourceEventId,omitempty"`
	WithdrawalAmount    int64   `gorm:"column:withdrawal_amount" json:"withdrawalAmount,omitempty"`
	AttestationCount    int     `gorm:"column:attestation_count;not null;default:0" json:"attestationCount"`
	Attesters           string  `gorm:"column:attesters;type:text;not null;default:''" json:"-"`
	ThresholdReached    bool    `gorm:"column:threshold_reached;not null;default:false" json:"thresholdReached"`
	BitcoinPayoutTxHash *string `gorm:"column:bitcoin_payout_tx_hash;type:varchar(64)" json:"bitcoinPayoutTxHash,omitempty"`
	PayoutFeeSats       int64   `gorm:"column:payout_fee_sats" json:"payoutFeeSats,omitempty"`
	// signed payout kept until the record completes so it can be rebroadcast verbatim
	PayoutTxHex *string `gorm:"column:payout_tx_hex;type:text" json:"-"`
}

func (TransactionRecord) TableName() string {
	return "transaction_records"
}

func (r *TransactionRecord) AttesterIDs() []string {
	if r.Attesters == "" {
		return nil
	}
	return strings.Split(r.Attesters, ",")
}

func (r *TransactionRecord) HasAttested(relayerID string) bool {
	for _, id := range r.AttesterIDs() {
		if id == relayerID {
			return true
		}
	}
	return false
}

// AddAttester records relayerID and returns false if it had already attested.
func (r *TransactionRecord) AddAttester(relayerID string) bool {
	if r.HasAttested(relayerID) {
		return false
	}
	r.Attesters = strings.Join(append(r.AttesterIDs(), relayerID), ",")
	return true
}
