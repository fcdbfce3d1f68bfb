package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"

	checkTimeout = 3 * time.Second
)

type HealthHandler struct {
	config           *config.AppConfig
	logger           *logger.Logger
	db               *gorm.DB
	explorer         TipHeightSource
	chain            CheckpointSource
	ingestor         IngestorStatus
	jobStatusManager *monitoring.JobStatusManager
}

func New(
	config *config.AppConfig,
	logger *logger.Logger,
	db *gorm.DB,
	explorer TipHeightSource,
	chain CheckpointSource,
	ingestor IngestorStatus,
	jobStatusManager *monitoring.JobStatusManager,
) IHealthHandler {
	return &HealthHandler{
		config:           config,
		logger:           logger,
		db:               db,
		explorer:         explorer,
		chain:            chain,
		ingestor:         ingestor,
		jobStatusManager: jobStatusManager,
	}
}

// Basic is the liveness check.
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} BasicHealthResponse
// @Router /health [get]
func (h *HealthHandler) Basic(c *gin.Context) {
	c.JSON(http.StatusOK, BasicHealthResponse{Message: "ok"})
}

// Database handles the database health check endpoint
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /api/v1/health/db [get]
func (h *HealthHandler) Database(c *gin.Context) {
	start := time.Now()
	response := HealthResponse{
		Timestamp: start,
		Checks:    map[string]HealthCheck{"database": h.checkDatabase(requestContext(c))},
	}
	response.DurationMs = time.Since(start).Milliseconds()
	writeHealth(c, &response)
}

// External checks the bitcoin explorer and the chain node.
// @Summary External dependencies health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /api/v1/health/external [get]
func (h *HealthHandler) External(c *gin.Context) {
	start := time.Now()
	response := HealthResponse{
		Timestamp: start,
		Checks:    make(map[string]HealthCheck),
	}

	ctx, cancel := context.WithTimeout(requestContext(c), 10*time.Second)
	defer cancel()

	checks := map[string]func(context.Context) (int64, error){}
	if h.explorer != nil {
		checks["bitcoin_explorer"] = h.explorer.GetTipHeight
	} else {
		response.Checks["bitcoin_explorer"] = unavailable("bitcoin explorer not configured")
	}
	if h.chain != nil {
		checks["chain_rpc"] = h.chain.LatestCheckpoint
	} else {
		response.Checks["chain_rpc"] = unavailable("chain rpc not configured")
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, height := range checks {
		wg.Add(1)
		go func(name string, height func(context.Context) (int64, error)) {
			defer wg.Done()
			check := checkHeight(ctx, height)
			mu.Lock()
			response.Checks[name] = check
			mu.Unlock()
		}(name, height)
	}
	wg.Wait()

	response.DurationMs = time.Since(start).Milliseconds()
	writeHealth(c, &response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) HealthCheck {
	start := time.Now()
	if h.db == nil {
		return unavailable("database connection not available")
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return HealthCheck{
			Status:  statusUnhealthy,
			Error:   fmt.Sprintf("failed to get underlying database: %v", err),
			Latency: time.Since(start).Milliseconds(),
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		check := HealthCheck{Status: statusUnhealthy, Error: err.Error(), Latency: time.Since(start).Milliseconds()}
		if pingCtx.Err() == context.DeadlineExceeded {
			check.Error = "timeout"
		}
		return check
	}

	stats := sqlDB.Stats()
	return HealthCheck{
		Status:  statusHealthy,
		Latency: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"driver": "postgres",
			"connection_pool": map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"max_open":         stats.MaxOpenConnections,
			},
		},
	}
}

// checkHeight runs a lightweight height query with its own deadline.
func checkHeight(ctx context.Context, height func(context.Context) (int64, error)) HealthCheck {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	type result struct {
		height int64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		h, err := height(checkCtx)
		done <- result{h, err}
	}()

	var check HealthCheck
	select {
	case res := <-done:
		if res.err != nil {
			check = HealthCheck{Status: statusUnhealthy, Error: res.err.Error()}
		} else {
			check = HealthCheck{Status: statusHealthy, Metadata: map[string]interface{}{"height": res.height}}
		}
	case <-checkCtx.Done():
		check = HealthCheck{Status: statusUnhealthy, Error: "timeout"}
	}
	check.Latency = time.Since(start).Milliseconds()
	return check
}

func unavailable(msg string) HealthCheck {
	return HealthCheck{Status: statusUnhealthy, Error: msg}
}

func writeHealth(c *gin.Context, response *HealthResponse) {
	response.Status = statusHealthy
	for _, check := range response.Checks {
		if check.Status != statusHealthy {
			response.Status = statusUnhealthy
			break
		}
	}
	if response.Status == statusHealthy {
		c.JSON(http.StatusOK, response)
		return
	}
	c.JSON(http.StatusServiceUnavailable, response)
}

func requestContext(c *gin.Context) context.Context {
	if c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}
