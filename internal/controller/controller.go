package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/btcverify"
	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/store/storeerr"
	"github.com/dwarvesf/collateral-relayer/internal/store/transactionrecord"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

var (
	ErrInvalidRequest   = errors.New("invalid deposit request")
	ErrAlreadyDeposited = errors.New("bitcoin transaction was already attested")
	// ErrVerificationFailed wraps every btcverify rejection so callers can tell a bad
	// deposit from an outage.
	ErrVerificationFailed = errors.New("bitcoin deposit verification failed")
)

type Controller struct {
	db       *gorm.DB
	store    *store.Store
	verifier btcverify.IVerifier
	chain    chainrpc.IChainRPC
	metrics  *monitoring.RelayerMetrics
	logger   *logger.Logger
}

func New(
	db *gorm.DB,
	store *store.Store,
	verifier btcverify.IVerifier,
	chain chainrpc.IChainRPC,
	metrics *monitoring.RelayerMetrics,
	logger *logger.Logger,
) IController {
	return &Controller{
		db:       db,
		store:    store,
		verifier: verifier,
		chain:    chain,
		metrics:  metrics,
		logger:   logger,
	}
}

func (c *Controller) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		c.metrics.RecordDeposit("rejected")
		return nil, err
	}
	db := c.db.WithContext(ctx)

	existing, err := c.store.TransactionRecord.GetCompletedDeposit(db, req.BitcoinTxHash)
	if err == nil {
		c.metrics.RecordDeposit("rejected")
		return nil, pkgerrors.Wrapf(ErrAlreadyDeposited, "%s recorded as %s", req.BitcoinTxHash, existing.ID)
	}
	if !storeerr.IsNotFound(err) {
		c.logger.Error("[Deposit][GetCompletedDeposit]", map[string]string{
			"error":  err.Error(),
			"txHash": req.BitcoinTxHash,
		})
		return nil, err
	}

	payload, _ := json.Marshal(map[string]string{
		"chainAddress":   req.ChainAddress,
		"bitcoinAddress": req.BitcoinAddress,
		"bitcoinTxHash":  req.BitcoinTxHash,
	})
	txHash := req.BitcoinTxHash
	record, err := c.store.TransactionRecord.Create(db, &model.TransactionRecord{
		Kind:           model.RecordKindDeposit,
		Status:         model.RecordStatusProcessing,
		ChainAddress:   req.ChainAddress,
		BitcoinAddress: req.BitcoinAddress,
		BitcoinTxHash:  &txHash,
		Payload:        string(payload),
	})
	if err != nil {
		if storeerr.IsUniqueViolation(err) {
			// another request for the same tx is in flight or just completed
			c.metrics.RecordDeposit("rejected")
			return nil, pkgerrors.Wrapf(ErrAlreadyDeposited, "%s is already being relayed", req.BitcoinTxHash)
		}
		c.logger.Error("[Deposit][TransactionRecord.Create]", map[string]string{
			"error":  err.Error(),
			"txHash": req.BitcoinTxHash,
		})
		return nil, err
	}

	result, err := c.relay(ctx, record, req)
	if err != nil {
		c.fail(db, record.ID, err)
		c.metrics.RecordDeposit("failed")
		return nil, err
	}
	c.metrics.RecordDeposit("completed")
	return result, nil
}

func (c *Controller) relay(ctx context.Context, record *model.TransactionRecord, req DepositRequest) (*DepositResult, error) {
	verification, err := c.verifier.Verify(ctx, req.BitcoinTxHash)
	if err != nil {
		c.logger.Error("[Deposit][Verify]", map[string]string{
			"error":  err.Error(),
			"id":     record.ID,
			"txHash": req.BitcoinTxHash,
		})
		if isVerificationError(err) {
			return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
		return nil, pkgerrors.Wrap(err, "failed to verify bitcoin transaction")
	}

	collateral, err := c.chain.GetCollateralObject(ctx, req.ChainAddress)
	if err != nil {
		c.logger.Error("[Deposit][GetCollateralObject]", map[string]string{
			"error":        err.Error(),
			"chainAddress": req.ChainAddress,
		})
		return nil, pkgerrors.Wrap(err, "failed to look up collateral object")
	}

	created := false
	if collateral == nil {
		proof, err := c.chain.CreateCollateralProof(ctx, req.ChainAddress)
		if err != nil {
			c.logger.Error("[Deposit][CreateCollateralProof]", map[string]string{
				"error":        err.Error(),
				"chainAddress": req.ChainAddress,
			})
			return nil, pkgerrors.Wrap(err, "failed to create collateral object")
		}
		if proof.CollateralObjectID == "" {
			return nil, fmt.Errorf("collateral creation %s returned no object", proof.Digest)
		}
		collateral = &chainrpc.CollateralObject{ObjectID: proof.CollateralObjectID}
		created = true
		c.logger.Info("[Deposit] collateral object created", map[string]string{
			"chainAddress": req.ChainAddress,
			"objectId":     proof.CollateralObjectID,
			"digest":       proof.Digest,
		})
	}

	attestation, err := c.chain.AttestDeposit(ctx, collateral.ObjectID, verification.AmountSats, verification.TxHash)
	if err != nil {
		c.logger.Error("[Deposit][AttestDeposit]", map[string]string{
			"error":    err.Error(),
			"objectId": collateral.ObjectID,
			"amount":   strconv.FormatInt(verification.AmountSats, 10),
		})
		return nil, pkgerrors.Wrap(err, "failed to attest deposit")
	}

	err = c.store.TransactionRecord.CompleteDeposit(c.db.WithContext(ctx), record.ID, transactionrecord.DepositResult{
		ChainTxDigest:     attestation.Digest,
		CollateralCreated: created,
		AmountSats:        verification.AmountSats,
	})
	if err != nil {
		// the attestation is on chain; the digest in the log is the only trace left
		c.logger.Error("[Deposit][CompleteDeposit]", map[string]string{
			"error":  err.Error(),
			"id":     record.ID,
			"digest": attestation.Digest,
		})
		return nil, pkgerrors.Wrap(err, "failed to record deposit")
	}

	c.logger.Info("[Deposit] deposit attested", map[string]string{
		"id":                record.ID,
		"digest":            attestation.Digest,
		"amount":            strconv.FormatInt(verification.AmountSats, 10),
		"collateralCreated": strconv.FormatBool(created),
	})
	return &DepositResult{
		ID:                record.ID,
		Status:            model.RecordStatusCompleted,
		Hash:              attestation.Digest,
		CollateralCreated: created,
		AmountSats:        verification.AmountSats,
	}, nil
}

func (c *Controller) fail(db *gorm.DB, id string, cause error) {
	if err := c.store.TransactionRecord.MarkFailed(db, id, cause.Error()); err != nil {
		c.logger.Error("[Deposit][MarkFailed]", map[string]string{
			"error": err.Error(),
			"id":    id,
		})
	}
}

func normalizeRequest(req DepositRequest) (DepositRequest, error) {
	address, err := chainrpc.NormalizeAddress(req.ChainAddress)
	if err != nil {
		return req, pkgerrors.Wrap(ErrInvalidRequest, err.Error())
	}
	req.ChainAddress = address
	req.BitcoinAddress = strings.TrimSpace(req.BitcoinAddress)

	hash := strings.ToLower(strings.TrimSpace(req.BitcoinTxHash))
	if len(hash) != 64 || strings.Trim(hash, "0123456789abcdef") != "" {
		return req, pkgerrors.Wrapf(ErrInvalidRequest, "bitcoin tx hash %q is not 32 bytes of hex", req.BitcoinTxHash)
	}
	req.BitcoinTxHash = hash
	return req, nil
}

func isVerificationError(err error) bool {
	return errors.Is(err, btcverify.ErrTxNotFound) ||
		errors.Is(err, btcverify.ErrNotConfirmed) ||
		errors.Is(err, btcverify.ErrInsufficientConfirmations) ||
		errors.Is(err, btcverify.ErrNoDepositOutput)
}
