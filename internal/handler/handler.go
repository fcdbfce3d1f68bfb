package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/controller"
	"github.com/dwarvesf/collateral-relayer/internal/handler/deposit"
	"github.com/dwarvesf/collateral-relayer/internal/handler/health"
	"github.com/dwarvesf/collateral-relayer/internal/handler/metrics"
	"github.com/dwarvesf/collateral-relayer/internal/handler/transaction"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

type Handler struct {
	DepositHandler     deposit.IHandler
	TransactionHandler transaction.IHandler
	HealthHandler      health.IHealthHandler
	MetricsHandler     *metrics.MetricsHandler
}

// Deps carries everything the HTTP handlers read from.
type Deps struct {
	DB               *gorm.DB
	Store            *store.Store
	Controller       controller.IController
	Explorer         health.TipHeightSource
	Chain            health.CheckpointSource
	Ingestor         health.IngestorStatus
	JobStatusManager *monitoring.JobStatusManager
	HTTPMetrics      *monitoring.HTTPMetrics
	Registry         *prometheus.Registry
}

func New(appConfig *config.AppConfig, logger *logger.Logger, deps Deps) *Handler {
	recorder := monitoring.NewBusinessMetricsRecorder(deps.HTTPMetrics)
	return &Handler{
		DepositHandler:     deposit.New(deps.Controller, recorder, logger, appConfig),
		TransactionHandler: transaction.NewTransactionHandler(deps.DB, deps.Store.TransactionRecord, recorder, logger),
		HealthHandler:      health.New(appConfig, logger, deps.DB, deps.Explorer, deps.Chain, deps.Ingestor, deps.JobStatusManager),
		MetricsHandler:     metrics.NewMetricsHandler(deps.Registry),
	}
}
