package oracle

import (
	"context"
	"time"
)

type CacheStatistics struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Failures    int64     `json:"failures"`
	LastRefresh time.Time `json:"last_refresh"`
}

type IFeeOracle interface {
	// RecommendedFeeRate returns the fee rate in sat/vB for a confirmation within about an hour.
	RecommendedFeeRate(ctx context.Context) (float64, error)

	GetCacheStatistics() *CacheStatistics
}
