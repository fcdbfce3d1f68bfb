package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const feeRateCacheKey = "recommended_fee_rate"

// recommendedFees mirrors mempool.space /api/v1/fees/recommended.
type recommendedFees struct {
	FastestFee  float64 `json:"fastestFee"`
	HalfHourFee float64 `json:"halfHourFee"`
	HourFee     float64 `json:"hourFee"`
	EconomyFee  float64 `json:"economyFee"`
	MinimumFee  float64 `json:"minimumFee"`
}

type FeeOracle struct {
	mux    sync.Mutex
	stats  CacheStatistics
	url    string
	client *resty.Client
	cache  *cache.Cache
	logger *logger.Logger
}

func New(appConfig *config.AppConfig, logger *logger.Logger) IFeeOracle {
	return newFeeOracle(appConfig.Bitcoin.FeeRecommendationURL, time.Minute, logger)
}

func newFeeOracle(url string, ttl time.Duration, logger *logger.Logger) *FeeOracle {
	return &FeeOracle{
		url:    url,
		client: resty.New().SetTimeout(10 * time.Second),
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (o *FeeOracle) RecommendedFeeRate(ctx context.Context) (float64, error) {
	if cached, ok := o.cache.Get(feeRateCacheKey); ok {
		o.record(func(s *CacheStatistics) { s.Hits++ })
		return cached.(float64), nil
	}
	o.record(func(s *CacheStatistics) { s.Misses++ })

	if o.url == "" {
		return 0, errors.New("fee recommendation url is not configured")
	}

	var fees recommendedFees
	resp, err := o.client.R().SetContext(ctx).SetResult(&fees).Get(o.url)
	if err != nil {
		o.record(func(s *CacheStatistics) { s.Failures++ })
		o.logger.Error("[RecommendedFeeRate][client.Get]", map[string]string{
			"error": err.Error(),
		})
		return 0, errors.Wrap(err, "failed to fetch recommended fees")
	}
	if resp.IsError() {
		o.record(func(s *CacheStatistics) { s.Failures++ })
		return 0, fmt.Errorf("fee recommendation returned status %d", resp.StatusCode())
	}

	rate := pickFeeRate(fees)
	if rate <= 0 {
		o.record(func(s *CacheStatistics) { s.Failures++ })
		return 0, errors.New("fee recommendation returned no usable rate")
	}

	o.cache.SetDefault(feeRateCacheKey, rate)
	o.record(func(s *CacheStatistics) { s.LastRefresh = time.Now() })
	return rate, nil
}

func (o *FeeOracle) GetCacheStatistics() *CacheStatistics {
	o.mux.Lock()
	defer o.mux.Unlock()
	stats := o.stats
	return &stats
}

func (o *FeeOracle) record(fn func(s *CacheStatistics)) {
	o.mux.Lock()
	fn(&o.stats)
	o.mux.Unlock()
}
