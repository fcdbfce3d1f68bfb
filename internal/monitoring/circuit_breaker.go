package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc"
	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

type breaker struct {
	name           string
	circuitBreaker *gobreaker.CircuitBreaker
	metrics        *ExternalAPIMetrics
	logger         *logger.Logger
}

// newBreaker builds a breaker that trips on consecutive failures. Errors for
// which expected returns true are passed through without counting as failures.
func newBreaker(name string, config CircuitBreakerConfig, expected func(error) bool, metrics *ExternalAPIMetrics, logger *logger.Logger) (*breaker, error) {
	if err := validateCircuitBreakerConfig(config); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	b := &breaker{name: name, metrics: metrics, logger: logger}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.ConsecutiveFailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || expected(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", map[string]string{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			metrics.UpdateCircuitBreakerState(name, to)
		},
	}
	b.circuitBreaker = gobreaker.NewCircuitBreaker(settings)
	metrics.UpdateCircuitBreakerState(name, gobreaker.StateClosed)
	return b, nil
}

func (b *breaker) State() gobreaker.State {
	return b.circuitBreaker.State()
}

// execute runs fn through the breaker and records duration and outcome.
func execute[T any](b *breaker, operation string, fn func() (T, error)) (T, error) {
	var zero T
	start := time.Now()
	result, err := b.circuitBreaker.Execute(func() (interface{}, error) {
		return fn()
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		errType := classifyError(err)
		if errType == ErrorTypeTimeout {
			b.metrics.RecordTimeout(b.name, operation)
		}
		b.metrics.RecordAPICall(b.name, operation, "error", duration)
		b.logError(operation, duration, err)
		return zero, err
	}
	b.metrics.RecordAPICall(b.name, operation, "success", duration)
	return result.(T), nil
}

func (b *breaker) logError(operation string, duration float64, err error) {
	b.logger.Error("External API call failed", map[string]string{
		"service":    b.name,
		"operation":  operation,
		"duration":   strconv.FormatFloat(duration, 'f', 3, 64),
		"error":      err.Error(),
		"error_type": string(classifyError(err)),
		"cb_state":   b.circuitBreaker.State().String(),
	})
}

// CircuitBreakerBtcRPC wraps btcrpc.IBtcRpc with circuit breaker functionality.
type CircuitBreakerBtcRPC struct {
	wrapped btcrpc.IBtcRpc
	*breaker
}

func NewCircuitBreakerBtcRPC(wrapped btcrpc.IBtcRpc, config CircuitBreakerConfig, metrics *ExternalAPIMetrics, logger *logger.Logger) (*CircuitBreakerBtcRPC, error) {
	b, err := newBreaker(ServiceBtcRPC, config, isBtcBusinessError, metrics, logger)
	if err != nil {
		return nil, err
	}
	return &CircuitBreakerBtcRPC{wrapped: wrapped, breaker: b}, nil
}

// business rejections say nothing about the health of the explorer
func isBtcBusinessError(err error) bool {
	return errors.Is(err, btcrpc.ErrInsufficientBalance) ||
		errors.Is(err, btcrpc.ErrInvalidAddress) ||
		errors.Is(err, btcrpc.ErrInvalidAmount) ||
		errors.Is(err, btcrpc.ErrNoUTXOs) ||
		btcrpc.IsBroadcastRejected(err)
}

type sendResult struct {
	txHash string
	fee    int64
}

func (cb *CircuitBreakerBtcRPC) Send(ctx context.Context, receiverAddress string, amountSats int64) (string, int64, error) {
	res, err := execute(cb.breaker, "send", func() (sendResult, error) {
		hash, fee, err := cb.wrapped.Send(ctx, receiverAddress, amountSats)
		return sendResult{txHash: hash, fee: fee}, err
	})
	if err != nil {
		return "", 0, err
	}
	return res.txHash, res.fee, nil
}

func (cb *CircuitBreakerBtcRPC) BuildPayout(ctx context.Context, receiverAddress string, amountSats int64) (*btcrpc.SignedPayout, error) {
	return execute(cb.breaker, "build_payout", func() (*btcrpc.SignedPayout, error) {
		return cb.wrapped.BuildPayout(ctx, receiverAddress, amountSats)
	})
}

func (cb *CircuitBreakerBtcRPC) BroadcastPayout(ctx context.Context, payout *btcrpc.SignedPayout) (string, error) {
	return execute(cb.breaker, "broadcast_payout", func() (string, error) {
		return cb.wrapped.BroadcastPayout(ctx, payout)
	})
}

func (cb *CircuitBreakerBtcRPC) CurrentBalance(ctx context.Context) (*model.Web3BigInt, error) {
	return execute(cb.breaker, "current_balance", func() (*model.Web3BigInt, error) {
		return cb.wrapped.CurrentBalance(ctx)
	})
}

// EstimateFeeRate never fails, it falls back to the configured default.
func (cb *CircuitBreakerBtcRPC) EstimateFeeRate(ctx context.Context) float64 {
	return cb.wrapped.EstimateFeeRate(ctx)
}

func (cb *CircuitBreakerBtcRPC) ValidateAddress(address string) error {
	return cb.wrapped.ValidateAddress(address)
}

func (cb *CircuitBreakerBtcRPC) WalletAddress() string {
	return cb.wrapped.WalletAddress()
}

func (cb *CircuitBreakerBtcRPC) InvalidateUTXOCache() {
	cb.wrapped.InvalidateUTXOCache()
}

// CircuitBreakerChainRPC wraps chainrpc.IChainRPC with circuit breaker functionality.
type CircuitBreakerChainRPC struct {
	wrapped chainrpc.IChainRPC
	*breaker
}

func NewCircuitBreakerChainRPC(wrapped chainrpc.IChainRPC, config CircuitBreakerConfig, metrics *ExternalAPIMetrics, logger *logger.Logger) (*CircuitBreakerChainRPC, error) {
	b, err := newBreaker(ServiceChainRPC, config, isChainBusinessError, metrics, logger)
	if err != nil {
		return nil, err
	}
	return &CircuitBreakerChainRPC{wrapped: wrapped, breaker: b}, nil
}

// an aborted move call was still served by a healthy node
func isChainBusinessError(err error) bool {
	return errors.Is(err, chainrpc.ErrTransactionFailed)
}

func (cb *CircuitBreakerChainRPC) QueryEvents(ctx context.Context, eventType string, cursor *chainrpc.EventID, limit int) (*chainrpc.EventPage, error) {
	return execute(cb.breaker, "query_events", func() (*chainrpc.EventPage, error) {
		return cb.wrapped.QueryEvents(ctx, eventType, cursor, limit)
	})
}

func (cb *CircuitBreakerChainRPC) GetCollateralObject(ctx context.Context, owner string) (*chainrpc.CollateralObject, error) {
	return execute(cb.breaker, "get_collateral_object", func() (*chainrpc.CollateralObject, error) {
		return cb.wrapped.GetCollateralObject(ctx, owner)
	})
}

func (cb *CircuitBreakerChainRPC) CreateCollateralProof(ctx context.Context, owner string) (*chainrpc.TxResult, error) {
	return execute(cb.breaker, "create_collateral_proof", func() (*chainrpc.TxResult, error) {
		return cb.wrapped.CreateCollateralProof(ctx, owner)
	})
}

func (cb *CircuitBreakerChainRPC) AttestDeposit(ctx context.Context, objectID string, amountSats int64, btcTxHash string) (*chainrpc.TxResult, error) {
	return execute(cb.breaker, "attest_deposit", func() (*chainrpc.TxResult, error) {
		return cb.wrapped.AttestDeposit(ctx, objectID, amountSats, btcTxHash)
	})
}

func (cb *CircuitBreakerChainRPC) LatestCheckpoint(ctx context.Context) (int64, error) {
	return execute(cb.breaker, "latest_checkpoint", func() (int64, error) {
		return cb.wrapped.LatestCheckpoint(ctx)
	})
}

func (cb *CircuitBreakerChainRPC) RelayerAddress() string {
	return cb.wrapped.RelayerAddress()
}

// classifyError classifies errors into different types for metrics and logging
func classifyError(err error) APIErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrorTypeRejected
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") ||
		strings.Contains(errMsg, "context canceled") {
		return ErrorTypeTimeout
	}

	if strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "connection") ||
		strings.Contains(errMsg, "unreachable") ||
		strings.Contains(errMsg, "dns") {
		return ErrorTypeNetworkError
	}

	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "internal server error") ||
		strings.Contains(errMsg, "bad gateway") ||
		strings.Contains(errMsg, "service unavailable") {
		return ErrorTypeServerError
	}

	if strings.Contains(errMsg, "400") ||
		strings.Contains(errMsg, "401") ||
		strings.Contains(errMsg, "403") ||
		strings.Contains(errMsg, "404") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "bad request") ||
		strings.Contains(errMsg, "not found") ||
		strings.Contains(errMsg, "rate limit") {
		return ErrorTypeClientError
	}

	return ErrorTypeUnknown
}

func validateCircuitBreakerConfig(config CircuitBreakerConfig) error {
	if config.MaxRequests == 0 {
		return fmt.Errorf("max_requests must be greater than 0")
	}
	if config.ConsecutiveFailureThreshold <= 0 {
		return fmt.Errorf("consecutive_failure_threshold must be greater than 0")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if config.Interval < 0 {
		return fmt.Errorf("interval must be non-negative")
	}
	return nil
}
