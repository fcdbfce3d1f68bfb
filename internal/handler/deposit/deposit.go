package deposit

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/dwarvesf/collateral-relayer/internal/controller"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/types/environments"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/view"
)

type handler struct {
	controller controller.IController
	validate   *validator.Validate
	recorder   *monitoring.BusinessMetricsRecorder
	logger     *logger.Logger
	appConfig  *config.AppConfig
}

func New(controller controller.IController, recorder *monitoring.BusinessMetricsRecorder, logger *logger.Logger, appConfig *config.AppConfig) IHandler {
	return &handler{
		controller: controller,
		validate:   validator.New(),
		recorder:   recorder,
		logger:     logger,
		appConfig:  appConfig,
	}
}

// Deposit godoc
// @Summary Relay a bitcoin deposit
// @Description Verifies the bitcoin transaction and attests its value to the depositor's collateral object
// @id deposit
// @Tags Deposit
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit request"
// @Success 200 {object} view.Response[controller.DepositResult]
// @Failure 400 {object} view.ErrorResponse
// @Failure 409 {object} view.ErrorResponse
// @Failure 422 {object} view.ErrorResponse
// @Failure 500 {object} view.ErrorResponse
// @Router /deposit [post]
func (h *handler) Deposit(c *gin.Context) {
	start := time.Now()

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("[Deposit][ShouldBindJSON]", map[string]string{
			"error": err.Error(),
		})
		h.record("validation", "rejected", start)
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, "invalid request", false))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.Error("[Deposit][Validator]", map[string]string{
			"error": err.Error(),
		})
		h.record("validation", "rejected", start)
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, "invalid request", false))
		return
	}

	result, err := h.controller.Deposit(c.Request.Context(), controller.DepositRequest{
		ChainAddress:   req.ChainAddress,
		BitcoinAddress: req.BitcoinAddress,
		BitcoinTxHash:  req.BitcoinTxHash,
	})
	if err != nil {
		h.logger.Error("[Deposit][controller.Deposit]", map[string]string{
			"error":  err.Error(),
			"txHash": req.BitcoinTxHash,
		})
		switch {
		case errors.Is(err, controller.ErrInvalidRequest):
			h.record("validation", "rejected", start)
			c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, "invalid request", false))
		case errors.Is(err, controller.ErrAlreadyDeposited):
			h.record("duplicate", "rejected", start)
			c.JSON(http.StatusConflict, view.CreateResponse[any](nil, err, "deposit already processed", false))
		case errors.Is(err, controller.ErrVerificationFailed):
			h.record("verification", "failed", start)
			c.JSON(http.StatusUnprocessableEntity, view.CreateResponse[any](nil, err, "bitcoin transaction not accepted", false))
		default:
			h.record("orchestration", "failed", start)
			c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, "deposit failed", h.hideDetail()))
		}
		return
	}

	category := "existing_collateral"
	if result.CollateralCreated {
		category = "new_collateral"
	}
	h.record(category, "completed", start)
	c.JSON(http.StatusOK, view.CreateResponse(result, nil, "", false))
}

func (h *handler) record(category, status string, start time.Time) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordDeposit(category, status, time.Since(start).Seconds())
}

func (h *handler) hideDetail() bool {
	return h.appConfig == nil || h.appConfig.Environment != environments.Development
}
