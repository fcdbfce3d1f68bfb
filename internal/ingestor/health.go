package ingestor

import (
	"context"
	"time"
)

type Stats struct {
	Polls               int64      `json:"polls"`
	EmptyPolls          int64      `json:"emptyPolls"`
	FailedPolls         int64      `json:"failedPolls"`
	EventsRecorded      int64      `json:"eventsRecorded"`
	EventsDuplicate     int64      `json:"eventsDuplicate"`
	EventsRejected      int64      `json:"eventsRejected"`
	EventsFailed        int64      `json:"eventsFailed"`
	LastPollAt          *time.Time `json:"lastPollAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	CurrentInterval     string     `json:"currentInterval"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	ConsecutiveEmpty    int        `json:"consecutiveEmpty"`
	DedupSize           int        `json:"dedupSize"`
}

func (i *Ingestor) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	s := i.stats
	s.CurrentInterval = i.state.interval.String()
	s.ConsecutiveFailures = i.state.consecutiveFailures
	s.ConsecutiveEmpty = i.state.consecutiveEmpty
	s.DedupSize = i.dedup.Len()
	return s
}

type CursorHealth struct {
	Channel     string     `json:"channel"`
	Cursor      string     `json:"cursor,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Age         string     `json:"age"`
	Stale       bool       `json:"stale"`
}

// CheckCursorHealth reports how long ago ingestion last made progress. Without a
// stored cursor the last successful poll, then the start time, is used instead.
func (i *Ingestor) CheckCursorHealth(ctx context.Context, now time.Time) (*CursorHealth, error) {
	saved, err := i.store.CursorState.Get(i.db.WithContext(ctx), i.channel)
	if err != nil {
		return nil, err
	}

	health := &CursorHealth{Channel: i.channel}

	i.mu.RLock()
	reference := i.startedAt
	if i.stats.LastSuccessAt != nil {
		reference = *i.stats.LastSuccessAt
	}
	i.mu.RUnlock()

	if saved != nil {
		health.Cursor = saved.Cursor
		lastUpdated := saved.LastUpdated
		health.LastUpdated = &lastUpdated
		reference = lastUpdated
	}
	if reference.IsZero() {
		health.Age = "0s"
		return health, nil
	}

	age := now.Sub(reference)
	health.Age = age.Truncate(time.Second).String()
	health.Stale = age > i.cfg.CursorStaleAfter
	i.metrics.SetCursorAge(age)

	if health.Stale {
		i.logger.Warn("[CheckCursorHealth] event cursor is stale", map[string]string{
			"channel": i.channel,
			"age":     health.Age,
		})
	}
	return health, nil
}
