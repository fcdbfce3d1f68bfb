package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

const namespace = "collateral_relayer"

// ExternalAPIMetrics contains all metrics for external API monitoring
type ExternalAPIMetrics struct {
	apiDuration         *prometheus.HistogramVec
	apiCalls            *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	timeouts            *prometheus.CounterVec
}

func NewExternalAPIMetrics() *ExternalAPIMetrics {
	return &ExternalAPIMetrics{
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_api_duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"api_name", "endpoint", "status"},
		),
		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_api_calls_total",
				Help:      "Total number of external API calls",
			},
			[]string{"api_name", "status"},
		),
		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"api_name"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_api_timeouts_total",
				Help:      "Total number of external API timeouts",
			},
			[]string{"api_name", "endpoint"},
		),
	}
}

func (m *ExternalAPIMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.apiDuration,
		m.apiCalls,
		m.circuitBreakerState,
		m.timeouts,
	)
}

func (m *ExternalAPIMetrics) RecordAPICall(apiName, endpoint, status string, duration float64) {
	m.apiDuration.WithLabelValues(apiName, endpoint, status).Observe(duration)
	m.apiCalls.WithLabelValues(apiName, status).Inc()
}

func (m *ExternalAPIMetrics) UpdateCircuitBreakerState(apiName string, state gobreaker.State) {
	m.circuitBreakerState.WithLabelValues(apiName).Set(float64(state))
}

func (m *ExternalAPIMetrics) RecordTimeout(apiName, endpoint string) {
	m.timeouts.WithLabelValues(apiName, endpoint).Inc()
}

// RelayerMetrics tracks the relay pipeline itself. All methods accept a nil receiver
// so components can run without metrics in tests.
type RelayerMetrics struct {
	events        *prometheus.CounterVec
	polls         *prometheus.CounterVec
	pollInterval  prometheus.Gauge
	cursorAge     prometheus.Gauge
	payouts       *prometheus.CounterVec
	payoutFees    prometheus.Counter
	deposits      *prometheus.CounterVec
	walletBalance prometheus.Gauge
}

func NewRelayerMetrics() *RelayerMetrics {
	return &RelayerMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_events_total",
				Help:      "Withdrawal events handled by the ingestor, by outcome",
			},
			[]string{"outcome"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_polls_total",
				Help:      "Event feed polls, by result (events, empty, error)",
			},
			[]string{"result"},
		),
		pollInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_poll_interval_seconds",
				Help:      "Current delay between event feed polls",
			},
		),
		cursorAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_cursor_age_seconds",
				Help:      "Seconds since the event cursor last advanced",
			},
		),
		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_payouts_total",
				Help:      "Bitcoin payouts attempted, by result",
			},
			[]string{"result"},
		),
		payoutFees: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_payout_fees_sats_total",
				Help:      "Network fees paid by completed payouts, in satoshis",
			},
		),
		deposits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_total",
				Help:      "Deposit requests, by result",
			},
			[]string{"result"},
		),
		walletBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wallet_balance_sats",
				Help:      "Confirmed relayer wallet balance in satoshis",
			},
		),
	}
}

func (m *RelayerMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.events,
		m.polls,
		m.pollInterval,
		m.cursorAge,
		m.payouts,
		m.payoutFees,
		m.deposits,
		m.walletBalance,
	)
}

func (m *RelayerMetrics) RecordEvent(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *RelayerMetrics) RecordPoll(result string, nextInterval time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollInterval.Set(nextInterval.Seconds())
}

func (m *RelayerMetrics) SetCursorAge(age time.Duration) {
	if m == nil {
		return
	}
	m.cursorAge.Set(age.Seconds())
}

func (m *RelayerMetrics) RecordPayout(result string, feeSats int64) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(result).Inc()
	if feeSats > 0 {
		m.payoutFees.Add(float64(feeSats))
	}
}

func (m *RelayerMetrics) RecordDeposit(result string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(result).Inc()
}

func (m *RelayerMetrics) SetWalletBalance(sats int64) {
	if m == nil {
		return
	}
	m.walletBalance.Set(float64(sats))
}
