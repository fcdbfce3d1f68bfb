package withdrawal

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/store/storeerr"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

var ErrNotWithdrawal = errors.New("record is not a withdrawal")

type Withdrawal struct {
	db        *gorm.DB
	store     *store.Store
	logger    *logger.Logger
	relayerID string
	threshold int
}

func New(db *gorm.DB, store *store.Store, appConfig *config.AppConfig, logger *logger.Logger) *Withdrawal {
	return &Withdrawal{
		db:        db,
		store:     store,
		logger:    logger,
		relayerID: appConfig.Relayer.ID,
		threshold: appConfig.Relayer.AttestationThreshold,
	}
}

// RecordEvent creates the withdrawal record for a chain event and attests it once on
// behalf of this relayer. Re-delivering an event this relayer already attested returns
// the stored record untouched.
func (w *Withdrawal) RecordEvent(ctx context.Context, event Event) (*model.TransactionRecord, error) {
	record, _, err := w.Deliver(ctx, event)
	return record, err
}

// Deliver is RecordEvent that also reports whether the delivery changed state: a new
// record, or a first vote from this relayer on a record another relayer created.
func (w *Withdrawal) Deliver(ctx context.Context, event Event) (*model.TransactionRecord, bool, error) {
	db := w.db.WithContext(ctx)

	existing, err := w.store.TransactionRecord.GetBySourceEventID(db, event.SourceEventID)
	if err != nil && !storeerr.IsNotFound(err) {
		w.logger.Error("[Deliver][GetBySourceEventID]", map[string]string{
			"error":         err.Error(),
			"sourceEventId": event.SourceEventID,
		})
		return nil, false, err
	}
	if existing != nil {
		return w.attestIfNeeded(ctx, existing)
	}

	sourceEventID := event.SourceEventID
	record, err := w.store.TransactionRecord.Create(db, &model.TransactionRecord{
		Kind:             model.RecordKindWithdrawal,
		Status:           model.RecordStatusProcessing,
		ChainAddress:     event.ChainAddress,
		BitcoinAddress:   event.BitcoinAddress,
		Payload:          event.Payload,
		SourceEventID:    &sourceEventID,
		WithdrawalAmount: event.AmountSats,
	})
	if err != nil {
		if !storeerr.IsUniqueViolation(err) {
			w.logger.Error("[Deliver][Create]", map[string]string{
				"error":         err.Error(),
				"sourceEventId": event.SourceEventID,
			})
			return nil, false, err
		}
		// lost the insert race to a concurrent delivery of the same event
		existing, err = w.store.TransactionRecord.GetBySourceEventID(db, event.SourceEventID)
		if err != nil {
			return nil, false, err
		}
		return w.attestIfNeeded(ctx, existing)
	}

	w.logger.Info("[Deliver] withdrawal recorded", map[string]string{
		"id":            record.ID,
		"sourceEventId": event.SourceEventID,
		"amount":        strconv.FormatInt(event.AmountSats, 10),
	})
	attested, err := w.Attest(ctx, record.ID)
	if err != nil {
		return nil, false, err
	}
	return attested, true, nil
}

func (w *Withdrawal) attestIfNeeded(ctx context.Context, record *model.TransactionRecord) (*model.TransactionRecord, bool, error) {
	if record.Status != model.RecordStatusProcessing || record.HasAttested(w.relayerID) {
		return record, false, nil
	}
	attested, err := w.Attest(ctx, record.ID)
	if err != nil {
		return nil, false, err
	}
	return attested, attested.HasAttested(w.relayerID), nil
}

// Attest adds this relayer's vote under a row lock. Records that are no longer
// processing, or that this relayer already voted on, come back unchanged.
func (w *Withdrawal) Attest(ctx context.Context, recordID string) (*model.TransactionRecord, error) {
	var result *model.TransactionRecord
	err := store.DoInTx(w.db.WithContext(ctx), func(tx *gorm.DB) error {
		record, err := w.store.TransactionRecord.GetByIDForUpdate(tx, recordID)
		if err != nil {
			return err
		}
		if record.Kind != model.RecordKindWithdrawal {
			return ErrNotWithdrawal
		}
		result = record

		if record.Status != model.RecordStatusProcessing {
			return nil
		}
		if !record.AddAttester(w.relayerID) {
			return nil
		}

		record.AttestationCount++
		if !record.ThresholdReached && record.AttestationCount >= w.threshold {
			record.ThresholdReached = true
		}
		return w.store.TransactionRecord.UpdateAttestation(tx, record)
	})
	if err != nil {
		w.logger.Error("[Attest][DoInTx]", map[string]string{
			"error": err.Error(),
			"id":    recordID,
		})
		return nil, err
	}

	w.logger.Info("[Attest] attestation recorded", map[string]string{
		"id":               recordID,
		"attestationCount": strconv.Itoa(result.AttestationCount),
		"thresholdReached": strconv.FormatBool(result.ThresholdReached),
	})
	return result, nil
}
