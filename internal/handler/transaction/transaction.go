package transaction

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/store/storeerr"
	"github.com/dwarvesf/collateral-relayer/internal/store/transactionrecord"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/view"
)

var errNotFound = errors.New("transaction not found")

type transactionHandler struct {
	db       *gorm.DB
	records  transactionrecord.IStore
	recorder *monitoring.BusinessMetricsRecorder
	logger   *logger.Logger
}

func NewTransactionHandler(
	db *gorm.DB,
	records transactionrecord.IStore,
	recorder *monitoring.BusinessMetricsRecorder,
	logger *logger.Logger,
) IHandler {
	return &transactionHandler{
		db:       db,
		records:  records,
		recorder: recorder,
		logger:   logger,
	}
}

// GetTransaction godoc
// @Summary Get a transaction record
// @Tags Transaction
// @Produce json
// @Param id path string true "Record id"
// @Success 200 {object} view.Response[model.TransactionRecord]
// @Failure 404 {object} view.ErrorResponse
// @Router /transaction/{id} [get]
func (h *transactionHandler) GetTransaction(c *gin.Context) {
	start := time.Now()
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.record("by_id", "not_found", start)
		c.JSON(http.StatusNotFound, view.CreateResponse[any](nil, errNotFound, "transaction not found", true))
		return
	}

	record, err := h.records.GetByID(h.db.WithContext(c.Request.Context()), id)
	if err != nil {
		if storeerr.IsNotFound(err) {
			h.record("by_id", "not_found", start)
			c.JSON(http.StatusNotFound, view.CreateResponse[any](nil, errNotFound, "transaction not found", true))
			return
		}
		h.logger.Error("[GetTransaction][GetByID]", map[string]string{
			"error": err.Error(),
			"id":    id,
		})
		h.record("by_id", "error", start)
		c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, "failed to fetch transaction", true))
		return
	}

	h.record("by_id", "success", start)
	c.JSON(http.StatusOK, view.CreateResponse(record, nil, "", false))
}

// GetTransactions godoc
// @Summary List transaction records, newest first
// @Tags Transaction
// @Produce json
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} view.Response[GetTransactionsResponse]
// @Failure 400 {object} view.ErrorResponse
// @Router /transactions [get]
func (h *transactionHandler) GetTransactions(c *gin.Context) {
	start := time.Now()
	var req GetTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.record("list", "rejected", start)
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, "invalid request", false))
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = consts.DefaultPageLimit
	}
	if req.Limit > consts.MaxPageLimit {
		req.Limit = consts.MaxPageLimit
	}

	records, total, err := h.records.List(h.db.WithContext(c.Request.Context()), req.Page, req.Limit)
	if err != nil {
		h.logger.Error("[GetTransactions][List]", map[string]string{
			"error": err.Error(),
		})
		h.record("list", "error", start)
		c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, "failed to fetch transactions", true))
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}

	h.record("list", "success", start)
	c.JSON(http.StatusOK, view.CreateResponse(GetTransactionsResponse{
		Pagination:   view.NewPagination(total, req.Page, req.Limit),
		Transactions: records,
	}, nil, "", false))
}

// GetWithdrawals godoc
// @Summary Latest withdrawals for a chain address
// @Tags Transaction
// @Produce json
// @Param chainAddress path string true "Chain address"
// @Success 200 {object} view.Response[[]model.TransactionRecord]
// @Failure 400 {object} view.ErrorResponse
// @Router /withdrawals/{chainAddress} [get]
func (h *transactionHandler) GetWithdrawals(c *gin.Context) {
	start := time.Now()
	address, err := chainrpc.NormalizeAddress(c.Param("chainAddress"))
	if err != nil {
		h.record("withdrawals", "rejected", start)
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, "invalid chain address", false))
		return
	}

	records, err := h.records.ListWithdrawalsByChainAddress(h.db.WithContext(c.Request.Context()), address, consts.RecentWithdrawalsLimit)
	if err != nil {
		h.logger.Error("[GetWithdrawals][ListWithdrawalsByChainAddress]", map[string]string{
			"error":        err.Error(),
			"chainAddress": address,
		})
		h.record("withdrawals", "error", start)
		c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, "failed to fetch withdrawals", true))
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}

	h.record("withdrawals", "success", start)
	c.JSON(http.StatusOK, view.CreateResponse(records, nil, "", false))
}

func (h *transactionHandler) record(queryType, status string, start time.Time) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordRecordQuery(queryType, status, time.Since(start).Seconds())
}
