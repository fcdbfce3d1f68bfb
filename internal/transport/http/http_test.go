package http

import (
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/dwarvesf/collateral-relayer/internal/handler"
	"github.com/dwarvesf/collateral-relayer/internal/handler/metrics"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/types/environments"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

// routeEcho answers every endpoint with the name of the handler that served it.
type routeEcho struct{}

func (routeEcho) echo(name string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(nethttp.StatusOK, name) }
}

func (e routeEcho) Deposit(c *gin.Context)         { e.echo("deposit")(c) }
func (e routeEcho) GetTransaction(c *gin.Context)  { e.echo("transaction")(c) }
func (e routeEcho) GetTransactions(c *gin.Context) { e.echo("transactions")(c) }
func (e routeEcho) GetWithdrawals(c *gin.Context)  { e.echo("withdrawals")(c) }
func (e routeEcho) Basic(c *gin.Context)           { e.echo("basic")(c) }
func (e routeEcho) Database(c *gin.Context)        { e.echo("db")(c) }
func (e routeEcho) External(c *gin.Context)        { e.echo("external")(c) }
func (e routeEcho) Jobs(c *gin.Context)            { e.echo("jobs")(c) }

func TestNewHttpServer_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &handler.Handler{
		DepositHandler:     routeEcho{},
		TransactionHandler: routeEcho{},
		HealthHandler:      routeEcho{},
		MetricsHandler:     metrics.NewMetricsHandler(prometheus.NewRegistry()),
	}
	cfg := &config.AppConfig{Environment: environments.Test}
	r := NewHttpServer(cfg, logger.NewNop(), h, monitoring.NewHTTPMetrics())

	cases := []struct {
		method, path, want string
	}{
		{nethttp.MethodPost, "/deposit", "deposit"},
		{nethttp.MethodGet, "/transaction/abc", "transaction"},
		{nethttp.MethodGet, "/transactions", "transactions"},
		{nethttp.MethodGet, "/withdrawals/0xabc", "withdrawals"},
		{nethttp.MethodGet, "/health", "basic"},
		{nethttp.MethodPost, "/api/v1/deposit", "deposit"},
		{nethttp.MethodGet, "/api/v1/transaction/abc", "transaction"},
		{nethttp.MethodGet, "/api/v1/transactions", "transactions"},
		{nethttp.MethodGet, "/api/v1/withdrawals/0xabc", "withdrawals"},
		{nethttp.MethodGet, "/api/v1/health", "basic"},
		{nethttp.MethodGet, "/api/v1/health/db", "db"},
		{nethttp.MethodGet, "/api/v1/health/external", "external"},
		{nethttp.MethodGet, "/api/v1/health/jobs", "jobs"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, nethttp.StatusOK, w.Code)
			assert.Equal(t, tc.want, w.Body.String())
		})
	}

	t.Run("metrics endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
		assert.Equal(t, nethttp.StatusOK, w.Code)
	})
}

func TestSetupCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	preflight := func(r *gin.Engine, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(nethttp.MethodOptions, "/deposit", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("listed origin", func(t *testing.T) {
		r := gin.New()
		setupCORS(r, &config.AppConfig{ApiServer: config.ApiServerConfig{AllowedOrigins: "https://app.example.com;https://ops.example.com"}})
		r.POST("/deposit", func(c *gin.Context) {})

		w := preflight(r, "https://ops.example.com")
		assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

		w = preflight(r, "https://evil.example.com")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origins configured allows all", func(t *testing.T) {
		r := gin.New()
		setupCORS(r, &config.AppConfig{})
		r.POST("/deposit", func(c *gin.Context) {})

		w := preflight(r, "https://anywhere.example.com")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
