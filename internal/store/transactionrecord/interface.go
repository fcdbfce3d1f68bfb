package transactionrecord

import (
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type IStore interface {
	Create(tx *gorm.DB, record *model.TransactionRecord) (*model.TransactionRecord, error)
	GetByID(tx *gorm.DB, id string) (*model.TransactionRecord, error)
	// GetByIDForUpdate locks the row until tx ends.
	GetByIDForUpdate(tx *gorm.DB, id string) (*model.TransactionRecord, error)
	GetBySourceEventID(tx *gorm.DB, sourceEventID string) (*model.TransactionRecord, error)
	// GetCompletedDeposit returns the completed deposit for a bitcoin tx, if any.
	GetCompletedDeposit(tx *gorm.DB, bitcoinTxHash string) (*model.TransactionRecord, error)
	List(tx *gorm.DB, page, limit int) ([]model.TransactionRecord, int64, error)
	ListWithdrawalsByChainAddress(tx *gorm.DB, chainAddress string, limit int) ([]model.TransactionRecord, error)
	ListReadyForPayout(tx *gorm.DB) ([]model.TransactionRecord, error)
	// ListSignedPayouts returns withdrawals with a signed payout that is not yet completed.
	ListSignedPayouts(tx *gorm.DB) ([]model.TransactionRecord, error)

	UpdateAttestation(tx *gorm.DB, record *model.TransactionRecord) error
	CompleteDeposit(tx *gorm.DB, id string, result DepositResult) error
	RecordSignedPayout(tx *gorm.DB, id, payoutTxHash, payoutTxHex string, feeSats int64) error
	CompletePayout(tx *gorm.DB, id, payoutTxHash string, feeSats int64) error
	MarkFailed(tx *gorm.DB, id, errMsg string) error
}

type DepositResult struct {
	ChainTxDigest     string
	CollateralCreated bool
	AmountSats        int64
}
