package payout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/store/storeerr"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const (
	recordAttempts = 3
	recordBackoff  = 200 * time.Millisecond
)

var ErrMissingPayoutFields = errors.New("withdrawal is missing payout address or amount")

// CycleResult counts what one ProcessReadyWithdrawals run did. Resumed counts signed
// payouts from earlier cycles that were settled in this one.
type CycleResult struct {
	Ready     int
	Completed int
	Failed    int
	Skipped   int
	Resumed   int
}

type Processor struct {
	db         *gorm.DB
	store      *store.Store
	btcRPC     btcrpc.IBtcRpc
	metrics    *monitoring.RelayerMetrics
	jobMetrics *monitoring.BackgroundJobMetrics
	logger     *logger.Logger

	mu sync.Mutex
}

func New(
	db *gorm.DB,
	store *store.Store,
	btcRPC btcrpc.IBtcRpc,
	metrics *monitoring.RelayerMetrics,
	jobMetrics *monitoring.BackgroundJobMetrics,
	logger *logger.Logger,
) *Processor {
	return &Processor{
		db:         db,
		store:      store,
		btcRPC:     btcRPC,
		metrics:    metrics,
		jobMetrics: jobMetrics,
		logger:     logger,
	}
}

// ProcessReadyWithdrawals pays out every withdrawal past its attestation threshold.
// Failed payouts are final: the record moves to failed and is not picked up again.
// Every payout is stored signed before it is broadcast, so a payout interrupted by a
// crash is rebroadcast as the same tx and never paid twice.
func (p *Processor) ProcessReadyWithdrawals(ctx context.Context) error {
	_, err := p.RunCycle(ctx)
	return err
}

func (p *Processor) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !p.mu.TryLock() {
		p.logger.Info("[ProcessReadyWithdrawals] previous cycle still running, skipping")
		return &CycleResult{}, nil
	}
	defer p.mu.Unlock()

	db := p.db.WithContext(ctx)
	result := &CycleResult{}

	unsettled, err := p.resumeSignedPayouts(ctx, result)
	if err != nil {
		return nil, err
	}

	records, err := p.store.TransactionRecord.ListReadyForPayout(db)
	if err != nil {
		p.logger.Error("[ProcessReadyWithdrawals][ListReadyForPayout]", map[string]string{
			"error": err.Error(),
		})
		return nil, err
	}
	if p.jobMetrics != nil {
		p.jobMetrics.SetPendingRecords(string(model.RecordKindWithdrawal), len(records))
	}
	result.Ready = len(records)

	// new payouts could pick the inputs of a signed tx that is still unsettled
	if unsettled > 0 {
		result.Skipped = len(records)
		p.logger.Warn("[ProcessReadyWithdrawals] signed payouts still unsettled, holding new payouts", map[string]string{
			"unsettled": strconv.Itoa(unsettled),
			"ready":     strconv.Itoa(len(records)),
		})
		return result, nil
	}

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		switch p.safeProcess(ctx, &records[i]) {
		case model.RecordStatusCompleted:
			result.Completed++
		case model.RecordStatusFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	if result.Ready > 0 || result.Resumed > 0 {
		p.logger.Info("[ProcessReadyWithdrawals] cycle finished", map[string]string{
			"ready":     strconv.Itoa(result.Ready),
			"completed": strconv.Itoa(result.Completed),
			"failed":    strconv.Itoa(result.Failed),
			"skipped":   strconv.Itoa(result.Skipped),
			"resumed":   strconv.Itoa(result.Resumed),
		})
	}
	return result, nil
}

// resumeSignedPayouts rebroadcasts payouts signed in an earlier cycle and returns how
// many are still unsettled.
func (p *Processor) resumeSignedPayouts(ctx context.Context, result *CycleResult) (int, error) {
	db := p.db.WithContext(ctx)
	signed, err := p.store.TransactionRecord.ListSignedPayouts(db)
	if err != nil {
		p.logger.Error("[resumeSignedPayouts][ListSignedPayouts]", map[string]string{
			"error": err.Error(),
		})
		return 0, err
	}

	unsettled := 0
	for i := range signed {
		record := &signed[i]
		if record.PayoutTxHex == nil || record.BitcoinPayoutTxHash == nil {
			unsettled++
			p.logger.Error("[resumeSignedPayouts] signed payout without tx data", map[string]string{
				"id": record.ID,
			})
			continue
		}
		status := p.settle(ctx, record.ID, &btcrpc.SignedPayout{
			TxHash: *record.BitcoinPayoutTxHash,
			TxHex:  *record.PayoutTxHex,
			Fee:    record.PayoutFeeSats,
		})
		switch status {
		case model.RecordStatusCompleted:
			result.Resumed++
			result.Completed++
		case model.RecordStatusFailed:
			result.Resumed++
			result.Failed++
		default:
			unsettled++
		}
	}
	return unsettled, nil
}

func (p *Processor) safeProcess(ctx context.Context, record *model.TransactionRecord) (status model.RecordStatus) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("[processWithdrawal] panic", map[string]string{
				"id":    record.ID,
				"panic": fmt.Sprint(r),
			})
			status = ""
		}
	}()
	return p.processWithdrawal(ctx, record)
}

// processWithdrawal returns the status the record ended in, or "" when it was left untouched.
func (p *Processor) processWithdrawal(ctx context.Context, record *model.TransactionRecord) model.RecordStatus {
	db := p.db.WithContext(ctx)

	if record.BitcoinAddress == "" || record.WithdrawalAmount <= 0 {
		p.fail(db, record.ID, ErrMissingPayoutFields)
		return model.RecordStatusFailed
	}

	signed, err := p.btcRPC.BuildPayout(ctx, record.BitcoinAddress, record.WithdrawalAmount)
	if err == nil && (signed == nil || signed.TxHash == "") {
		err = errors.New("payout returned no transaction hash")
	}
	if err != nil {
		p.logger.Error("[processWithdrawal][BuildPayout]", map[string]string{
			"id":             record.ID,
			"bitcoinAddress": record.BitcoinAddress,
			"amount":         strconv.FormatInt(record.WithdrawalAmount, 10),
			"error":          err.Error(),
		})
		p.fail(db, record.ID, err)
		return model.RecordStatusFailed
	}

	if err := p.store.TransactionRecord.RecordSignedPayout(db, record.ID, signed.TxHash, signed.TxHex, signed.Fee); err != nil {
		// nothing was broadcast; the record is picked up again next cycle if still ready
		p.logger.Error("[processWithdrawal][RecordSignedPayout]", map[string]string{
			"id":     record.ID,
			"txHash": signed.TxHash,
			"error":  err.Error(),
		})
		return ""
	}

	return p.settle(ctx, record.ID, signed)
}

// settle broadcasts a stored signed payout and completes the record. A refused
// broadcast fails the record; an unknown outcome leaves it for the next cycle.
func (p *Processor) settle(ctx context.Context, id string, signed *btcrpc.SignedPayout) model.RecordStatus {
	db := p.db.WithContext(ctx)

	txHash, err := p.btcRPC.BroadcastPayout(ctx, signed)
	if err != nil {
		if btcrpc.IsBroadcastRejected(err) {
			p.fail(db, id, err)
			return model.RecordStatusFailed
		}
		p.logger.Error("[settle][BroadcastPayout] broadcast outcome unknown, will rebroadcast", map[string]string{
			"id":     id,
			"txHash": signed.TxHash,
			"error":  err.Error(),
		})
		return ""
	}
	if txHash != signed.TxHash {
		p.logger.Warn("[settle] explorer reported a different tx hash", map[string]string{
			"id":       id,
			"signed":   signed.TxHash,
			"reported": txHash,
		})
	}

	p.metrics.RecordPayout("completed", signed.Fee)
	if err := p.completePayout(db, id, signed.TxHash, signed.Fee); err != nil {
		p.logger.Error("[settle][CompletePayout] payout broadcast but not recorded, will retry", map[string]string{
			"id":     id,
			"txHash": signed.TxHash,
			"error":  err.Error(),
		})
		return ""
	}

	p.logger.Info("[settle] withdrawal paid", map[string]string{
		"id":     id,
		"txHash": signed.TxHash,
		"fee":    strconv.FormatInt(signed.Fee, 10),
	})
	return model.RecordStatusCompleted
}

func (p *Processor) completePayout(db *gorm.DB, id, txHash string, fee int64) error {
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		err = p.store.TransactionRecord.CompletePayout(db, id, txHash, fee)
		if err == nil || errors.Is(err, storeerr.ErrStaleTransition) {
			return err
		}
		if attempt < recordAttempts {
			time.Sleep(recordBackoff * time.Duration(attempt))
		}
	}
	return err
}

func (p *Processor) fail(db *gorm.DB, id string, cause error) {
	p.metrics.RecordPayout("failed", 0)
	if err := p.store.TransactionRecord.MarkFailed(db, id, cause.Error()); err != nil {
		p.logger.Error("[processWithdrawal][MarkFailed]", map[string]string{
			"id":    id,
			"error": err.Error(),
		})
	}
}
