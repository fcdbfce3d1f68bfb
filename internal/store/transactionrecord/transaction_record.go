package transactionrecord

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/store/storeerr"
)

type Store struct {
}

func New() IStore {
	return &Store{}
}

func (s *Store) Create(tx *gorm.DB, record *model.TransactionRecord) (*model.TransactionRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Payload == "" {
		record.Payload = "{}"
	}
	return record, tx.Create(record).Error
}

func (s *Store) GetByID(tx *gorm.DB, id string) (*model.TransactionRecord, error) {
	var record model.TransactionRecord
	err := tx.Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetByIDForUpdate(tx *gorm.DB, id string) (*model.TransactionRecord, error) {
	var record model.TransactionRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetBySourceEventID(tx *gorm.DB, sourceEventID string) (*model.TransactionRecord, error) {
	var record model.TransactionRecord
	err := tx.Where("kind = ? AND source_event_id = ?", model.RecordKindWithdrawal, sourceEventID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetCompletedDeposit(tx *gorm.DB, bitcoinTxHash string) (*model.TransactionRecord, error) {
	var record model.TransactionRecord
	err := tx.Where("kind = ? AND status = ? AND bitcoin_tx_hash = ?",
		model.RecordKindDeposit, model.RecordStatusCompleted, bitcoinTxHash).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns one page, newest first, and the total row count.
func (s *Store) List(tx *gorm.DB, page, limit int) ([]model.TransactionRecord, int64, error) {
	var (
		records []model.TransactionRecord
		total   int64
	)

	if err := tx.Model(&model.TransactionRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := tx.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *Store) ListWithdrawalsByChainAddress(tx *gorm.DB, chainAddress string, limit int) ([]model.TransactionRecord, error) {
	var records []model.TransactionRecord
	err := tx.Where("kind = ? AND chain_address = ?", model.RecordKindWithdrawal, chainAddress).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListReadyForPayout selects withdrawals past the attestation threshold that have not paid out yet.
func (s *Store) ListReadyForPayout(tx *gorm.DB) ([]model.TransactionRecord, error) {
	var records []model.TransactionRecord
	err := tx.Where("kind = ? AND status = ? AND threshold_reached = ? AND bitcoin_payout_tx_hash IS NULL",
		model.RecordKindWithdrawal, model.RecordStatusProcessing, true).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListSignedPayouts(tx *gorm.DB) ([]model.TransactionRecord, error) {
	var records []model.TransactionRecord
	err := tx.Where("kind = ? AND status = ? AND bitcoin_payout_tx_hash IS NOT NULL",
		model.RecordKindWithdrawal, model.RecordStatusProcessing).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateAttestation writes the attestation columns. The stored count must be lower
// than the new one and the record must still be processing.
func (s *Store) UpdateAttestation(tx *gorm.DB, record *model.TransactionRecord) error {
	res := tx.Model(&model.TransactionRecord{}).
		Where("id = ? AND status = ? AND attestation_count < ?", record.ID, model.RecordStatusProcessing, record.AttestationCount).
		Updates(map[string]interface{}{
			"attestation_count": record.AttestationCount,
			"attesters":         record.Attesters,
			"threshold_reached": record.ThresholdReached,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrStaleTransition
	}
	return nil
}

func (s *Store) CompleteDeposit(tx *gorm.DB, id string, result DepositResult) error {
	now := time.Now()
	res := tx.Model(&model.TransactionRecord{}).
		Where("id = ? AND kind = ? AND status = ?", id, model.RecordKindDeposit, model.RecordStatusProcessing).
		Updates(map[string]interface{}{
			"status":              model.RecordStatusCompleted,
			"chain_tx_digest":     result.ChainTxDigest,
			"collateral_created":  result.CollateralCreated,
			"deposit_amount_sats": result.AmountSats,
			"processed_at":        now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrStaleTransition
	}
	return nil
}

// RecordSignedPayout stores a signed payout before it is broadcast. Only a ready
// record without a payout can take one.
func (s *Store) RecordSignedPayout(tx *gorm.DB, id, payoutTxHash, payoutTxHex string, feeSats int64) error {
	res := tx.Model(&model.TransactionRecord{}).
		Where("id = ? AND kind = ? AND status = ? AND threshold_reached = ? AND bitcoin_payout_tx_hash IS NULL",
			id, model.RecordKindWithdrawal, model.RecordStatusProcessing, true).
		Updates(map[string]interface{}{
			"bitcoin_payout_tx_hash": payoutTxHash,
			"payout_tx_hex":          payoutTxHex,
			"payout_fee_sats":        feeSats,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrStaleTransition
	}
	return nil
}

// CompletePayout marks a withdrawal paid. The hash must match the signed payout
// stored for it, if any.
func (s *Store) CompletePayout(tx *gorm.DB, id, payoutTxHash string, feeSats int64) error {
	now := time.Now()
	res := tx.Model(&model.TransactionRecord{}).
		Where("id = ? AND kind = ? AND status = ? AND threshold_reached = ? AND (bitcoin_payout_tx_hash IS NULL OR bitcoin_payout_tx_hash = ?)",
			id, model.RecordKindWithdrawal, model.RecordStatusProcessing, true, payoutTxHash).
		Updates(map[string]interface{}{
			"status":                 model.RecordStatusCompleted,
			"bitcoin_payout_tx_hash": payoutTxHash,
			"payout_tx_hex":          nil,
			"payout_fee_sats":        feeSats,
			"processed_at":           now,
			"updated_at":             now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrStaleTransition
	}
	return nil
}

// MarkFailed also drops any signed payout, which was refused and never paid.
func (s *Store) MarkFailed(tx *gorm.DB, id, errMsg string) error {
	now := time.Now()
	res := tx.Model(&model.TransactionRecord{}).
		Where("id = ? AND status IN ?", id, []model.RecordStatus{model.RecordStatusPending, model.RecordStatusProcessing}).
		Updates(map[string]interface{}{
			"status":                 model.RecordStatusFailed,
			"error_message":          errMsg,
			"bitcoin_payout_tx_hash": nil,
			"payout_tx_hex":          nil,
			"processed_at":           now,
			"updated_at":             now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrStaleTransition
	}
	return nil
}
