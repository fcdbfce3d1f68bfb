package server

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc"
	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
	"github.com/dwarvesf/collateral-relayer/internal/btcverify"
	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/controller"
	"github.com/dwarvesf/collateral-relayer/internal/handler"
	"github.com/dwarvesf/collateral-relayer/internal/ingestor"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/oracle"
	"github.com/dwarvesf/collateral-relayer/internal/payout"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	pgstore "github.com/dwarvesf/collateral-relayer/internal/store/postgres"
	"github.com/dwarvesf/collateral-relayer/internal/transport/http"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/utils/vault"
	"github.com/dwarvesf/collateral-relayer/internal/utils/webhook"
	"github.com/dwarvesf/collateral-relayer/internal/withdrawal"
)

const (
	walletBalanceSchedule = "@every 5m"
	cursorHealthSchedule  = "@every 1m"
	shutdownTimeout       = 15 * time.Second
)

func Init() {
	appConfig := config.New()
	logger := logger.New(appConfig.Environment)
	defer logger.Sync()

	if appConfig.Vault.Addr != "" {
		vc, err := vault.New(appConfig.Vault.Addr, appConfig.Vault.KVSecretPath, appConfig.Vault.Role)
		if err != nil {
			logger.Fatal("[Init][vault.New]", map[string]string{"error": err.Error()})
		}
		secrets, err := vc.LoadSecrets()
		if err != nil {
			logger.Fatal("[Init][vault.LoadSecrets]", map[string]string{"error": err.Error()})
		}
		appConfig.Bitcoin.WalletWIF = secrets.WalletWIF
		appConfig.Chain.RelayerPrivateKey = secrets.ChainRelayerKey
	}
	if err := appConfig.Validate(); err != nil {
		logger.Fatal("[Init][Validate]", map[string]string{"error": err.Error()})
	}

	db := pgstore.New(appConfig, logger)
	s := store.New(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	apiMetrics := monitoring.NewExternalAPIMetrics()
	apiMetrics.MustRegister(registry)
	jobMetrics := monitoring.NewBackgroundJobMetrics()
	jobMetrics.MustRegister(registry)
	relayerMetrics := monitoring.NewRelayerMetrics()
	relayerMetrics.MustRegister(registry)
	httpMetrics := monitoring.NewHTTPMetrics()
	httpMetrics.MustRegister(registry)

	explorer := blockstream.New(appConfig, logger)
	wallet, err := btcrpc.New(appConfig, logger, explorer, oracle.New(appConfig, logger))
	if err != nil {
		logger.Fatal("[Init][btcrpc.New]", map[string]string{"error": err.Error()})
	}
	btcRPC, err := monitoring.NewCircuitBreakerBtcRPC(wallet, monitoring.CircuitBreakerConfigs[monitoring.ServiceBtcRPC], apiMetrics, logger)
	if err != nil {
		logger.Fatal("[Init][NewCircuitBreakerBtcRPC]", map[string]string{"error": err.Error()})
	}

	chain, err := chainrpc.New(appConfig, logger)
	if err != nil {
		logger.Fatal("[Init][chainrpc.New]", map[string]string{"error": err.Error()})
	}
	chainRPC, err := monitoring.NewCircuitBreakerChainRPC(chain, monitoring.CircuitBreakerConfigs[monitoring.ServiceChainRPC], apiMetrics, logger)
	if err != nil {
		logger.Fatal("[Init][NewCircuitBreakerChainRPC]", map[string]string{"error": err.Error()})
	}

	verifier := btcverify.New(explorer, appConfig.Bitcoin.MinConfirmations, wallet.WalletAddress(), logger)
	withdrawals := withdrawal.New(db, s, appConfig, logger)
	ing, err := ingestor.New(db, s, appConfig, chainRPC, withdrawals, btcRPC, relayerMetrics, logger)
	if err != nil {
		logger.Fatal("[Init][ingestor.New]", map[string]string{"error": err.Error()})
	}
	payouts := payout.New(db, s, btcRPC, relayerMetrics, jobMetrics, logger)
	ctrl := controller.New(db, s, verifier, chainRPC, relayerMetrics, logger)

	logger.Info("[Init] relayer configured", map[string]string{
		"relayerId":      appConfig.Relayer.ID,
		"walletAddress":  wallet.WalletAddress(),
		"chainAddress":   chain.RelayerAddress(),
		"btcNetwork":     appConfig.Bitcoin.Network,
		"chainNetwork":   appConfig.Chain.Network,
		"payoutInterval": appConfig.Relayer.PayoutInterval.String(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jsm := monitoring.NewJobStatusManager(logger, jobMetrics)
	defer jsm.Stop()

	ingestorDone := make(chan struct{})
	go func() {
		defer close(ingestorDone)
		if err := ing.Run(ctx); err != nil {
			logger.Error("[Init][ingestor.Run]", map[string]string{"error": err.Error()})
		}
	}()

	payoutJob := monitoring.NewInstrumentedJob(consts.JobNamePayout, payouts.ProcessReadyWithdrawals, jsm, logger, 5*time.Minute)
	uptime := webhook.New(logger)
	cursorJob := monitoring.NewInstrumentedJob(consts.JobNameCursorHealth, func(ctx context.Context) error {
		health, err := ing.CheckCursorHealth(ctx, time.Now())
		if err != nil {
			return err
		}
		if !health.Stale {
			uptime.CallUptimeWebhook(ctx, appConfig.UptimeWebhookURL)
		}
		return nil
	}, jsm, logger, 30*time.Second)
	balanceJob := monitoring.NewInstrumentedJob(consts.JobNameWalletBalance, func(ctx context.Context) error {
		balance, err := btcRPC.CurrentBalance(ctx)
		if err != nil {
			return err
		}
		if sats, ok := balance.Int64(); ok {
			relayerMetrics.SetWalletBalance(sats)
		}
		return nil
	}, jsm, logger, time.Minute)

	c := cron.New()
	for schedule, job := range map[string]*monitoring.InstrumentedJob{
		"@every " + appConfig.Relayer.PayoutInterval.String(): payoutJob,
		cursorHealthSchedule:  cursorJob,
		walletBalanceSchedule: balanceJob,
	} {
		if _, err := c.AddFunc(schedule, job.Execute); err != nil {
			logger.Fatal("[Init][cron.AddFunc]", map[string]string{
				"error":    err.Error(),
				"schedule": schedule,
			})
		}
	}
	c.Start()

	// drain anything that became ready while the relayer was down
	go payoutJob.Run(ctx)
	go balanceJob.Run(ctx)

	h := handler.New(appConfig, logger, handler.Deps{
		DB:               db,
		Store:            s,
		Controller:       ctrl,
		Explorer:         explorer,
		Chain:            chainRPC,
		Ingestor:         ing,
		JobStatusManager: jsm,
		HTTPMetrics:      httpMetrics,
		Registry:         registry,
	})
	srv := &nethttp.Server{
		Addr:              ":" + appConfig.ApiServer.Port,
		Handler:           http.NewHttpServer(appConfig, logger, h, httpMetrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("[Init] http server listening", map[string]string{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("[Init][ListenAndServe]", map[string]string{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[Init] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Init][Shutdown]", map[string]string{"error": err.Error()})
	}
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("[Init] cron jobs still running at shutdown deadline")
	}
	<-ingestorDone
}
