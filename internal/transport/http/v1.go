package http

import (
	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/collateral-relayer/internal/handler"
)

// loadRoutes mounts the relay API at the root.
func loadRoutes(r *gin.Engine, h *handler.Handler) {
	mountRelayRoutes(&r.RouterGroup, h)
	r.GET("/health", h.HealthHandler.Basic)
	r.GET("/healthz", h.HealthHandler.Basic)
}

func loadV1Routes(r *gin.Engine, h *handler.Handler) {
	v1 := r.Group("/api/v1")
	mountRelayRoutes(v1, h)

	health := v1.Group("/health")
	{
		health.GET("", h.HealthHandler.Basic)
		health.GET("/db", h.HealthHandler.Database)
		health.GET("/external", h.HealthHandler.External)
		health.GET("/jobs", h.HealthHandler.Jobs)
	}
}

func mountRelayRoutes(g *gin.RouterGroup, h *handler.Handler) {
	g.POST("/deposit", h.DepositHandler.Deposit)
	g.GET("/transaction/:id", h.TransactionHandler.GetTransaction)
	g.GET("/transactions", h.TransactionHandler.GetTransactions)
	g.GET("/withdrawals/:chainAddress", h.TransactionHandler.GetWithdrawals)
}
