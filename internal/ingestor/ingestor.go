package ingestor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/withdrawal"
)

type outcome int

const (
	outcomeRecorded outcome = iota
	outcomeDuplicate
	outcomeRejected
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeRecorded:
		return "recorded"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// PollResult summarizes one page.
type PollResult struct {
	Fetched    int
	Recorded   int
	Duplicates int
	Rejected   int
	Failed     int
	HasMore    bool
}

type Ingestor struct {
	db          *gorm.DB
	store       *store.Store
	chain       chainrpc.IChainRPC
	withdrawals withdrawal.IWithdrawal
	validator   AddressValidator
	metrics     *monitoring.RelayerMetrics
	logger      *logger.Logger

	cfg       config.RelayerConfig
	eventType string
	channel   string
	policy    pollPolicy
	dedup     *dedupSet

	mu        sync.RWMutex
	state     pollState
	stats     Stats
	startedAt time.Time
}

func New(
	db *gorm.DB,
	store *store.Store,
	appConfig *config.AppConfig,
	chain chainrpc.IChainRPC,
	withdrawals withdrawal.IWithdrawal,
	validator AddressValidator,
	metrics *monitoring.RelayerMetrics,
	logger *logger.Logger,
) (*Ingestor, error) {
	cfg := appConfig.Relayer
	dedup, err := newDedupSet(cfg.DedupCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dedup set")
	}
	if cfg.PageSize <= 0 || cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("page size and batch size must be positive")
	}

	policy := pollPolicy{
		base:         cfg.PollInterval,
		maxInterval:  cfg.MaxPollInterval,
		maxBackoff:   cfg.MaxBackoff,
		failureGrace: cfg.FailureGrace,
	}
	return &Ingestor{
		db:          db,
		store:       store,
		chain:       chain,
		withdrawals: withdrawals,
		validator:   validator,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		eventType:   appConfig.Chain.WithdrawalEventType,
		channel:     consts.WithdrawalEventsChannel,
		policy:      policy,
		dedup:       dedup,
		state:       newPollState(policy),
	}, nil
}

// Init clears the persisted cursor when RESET_EVENT_CURSOR is set.
func (i *Ingestor) Init(ctx context.Context) error {
	i.mu.Lock()
	i.startedAt = time.Now()
	i.mu.Unlock()

	if !i.cfg.ResetEventCursor {
		return nil
	}
	if err := i.store.CursorState.Delete(i.db.WithContext(ctx), i.channel); err != nil {
		i.logger.Error("[Init][CursorState.Delete]", map[string]string{
			"error":   err.Error(),
			"channel": i.channel,
		})
		return err
	}
	i.logger.Warn("[Init] event cursor reset, ingestion restarts from the beginning of the feed", map[string]string{
		"channel": i.channel,
	})
	return nil
}

// Run polls until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	if err := i.Init(ctx); err != nil {
		return err
	}
	i.logger.Info("[Run] withdrawal ingestor started", map[string]string{
		"eventType": i.eventType,
		"interval":  i.policy.base.String(),
	})

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			i.logger.Info("[Run] withdrawal ingestor stopped")
			return nil
		case <-timer.C:
		}
		timer.Reset(i.tick(ctx))
	}
}

// tick runs one poll and returns the delay before the next one.
func (i *Ingestor) tick(ctx context.Context) time.Duration {
	res, err := i.safePoll(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	i.stats.Polls++
	i.stats.LastPollAt = &now
	if err != nil {
		i.state = i.state.onFailure(i.policy)
		i.stats.FailedPolls++
		i.stats.LastError = err.Error()
		i.logger.Error("[tick][PollOnce]", map[string]string{
			"error":               err.Error(),
			"consecutiveFailures": strconv.Itoa(i.state.consecutiveFailures),
			"nextPollIn":          i.state.interval.String(),
		})
		i.metrics.RecordPoll("error", i.state.interval)
		return i.state.interval
	}

	i.state = i.state.onSuccess(i.policy, res.Fetched)
	i.stats.LastSuccessAt = &now
	i.stats.LastError = ""
	if res.Fetched == 0 {
		i.stats.EmptyPolls++
		i.metrics.RecordPoll("empty", i.state.interval)
	} else {
		i.metrics.RecordPoll("events", i.state.interval)
	}
	if res.HasMore {
		return 0
	}
	return i.state.interval
}

func (i *Ingestor) safePoll(ctx context.Context) (res *PollResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()
	return i.PollOnce(ctx)
}

// PollOnce fetches one page after the persisted cursor and delivers its events.
// The cursor only moves forward when no event hit an infrastructure failure, so
// such a page is fetched again and its delivered events are skipped as duplicates.
func (i *Ingestor) PollOnce(ctx context.Context) (*PollResult, error) {
	db := i.db.WithContext(ctx)

	var cursor *chainrpc.EventID
	saved, err := i.store.CursorState.Get(db, i.channel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cursor")
	}
	if saved != nil {
		cursor, err = chainrpc.DecodeCursor(saved.Cursor)
		if err != nil {
			i.logger.Warn("[PollOnce][DecodeCursor] ignoring unreadable cursor", map[string]string{
				"error":  err.Error(),
				"cursor": saved.Cursor,
			})
			cursor = nil
		}
	}

	page, err := i.chain.QueryEvents(ctx, i.eventType, cursor, i.cfg.PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}

	res := i.processPage(ctx, page.Data)
	res.HasMore = page.HasNextPage

	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d events failed, cursor not advanced", res.Failed, res.Fetched)
	}

	next := page.NextCursor
	if next == nil {
		next = cursor
	}
	if next != nil {
		if _, err := i.store.CursorState.Upsert(db, i.channel, chainrpc.EncodeCursor(next)); err != nil {
			return res, errors.Wrap(err, "failed to persist cursor")
		}
	}

	if res.Fetched > 0 {
		i.logger.Info("[PollOnce] page processed", map[string]string{
			"fetched":    strconv.Itoa(res.Fetched),
			"recorded":   strconv.Itoa(res.Recorded),
			"duplicates": strconv.Itoa(res.Duplicates),
			"rejected":   strconv.Itoa(res.Rejected),
		})
	}
	return res, nil
}

func (i *Ingestor) processPage(ctx context.Context, events []chainrpc.Event) *PollResult {
	var counts [outcomeFailed + 1]atomic.Int64

	for start := 0; start < len(events); start += i.cfg.BatchSize {
		if start > 0 && i.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(i.cfg.BatchPause):
			}
		}
		end := start + i.cfg.BatchSize
		if end > len(events) {
			end = len(events)
		}

		var g errgroup.Group
		g.SetLimit(i.cfg.BatchSize)
		for _, evt := range events[start:end] {
			evt := evt
			g.Go(func() error {
				o := i.handleEvent(ctx, evt)
				counts[o].Add(1)
				i.metrics.RecordEvent(o.String())
				return nil
			})
		}
		_ = g.Wait()
	}

	res := &PollResult{
		Fetched:    len(events),
		Recorded:   int(counts[outcomeRecorded].Load()),
		Duplicates: int(counts[outcomeDuplicate].Load()),
		Rejected:   int(counts[outcomeRejected].Load()),
		Failed:     int(counts[outcomeFailed].Load()),
	}

	i.mu.Lock()
	i.stats.EventsRecorded += int64(res.Recorded)
	i.stats.EventsDuplicate += int64(res.Duplicates)
	i.stats.EventsRejected += int64(res.Rejected)
	i.stats.EventsFailed += int64(res.Failed)
	i.mu.Unlock()
	return res
}

func (i *Ingestor) handleEvent(ctx context.Context, evt chainrpc.Event) (o outcome) {
	key := evt.Key()
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("[handleEvent] panic", map[string]string{
				"event": key,
				"panic": fmt.Sprint(r),
			})
			o = outcomeFailed
		}
	}()

	if i.dedup.Seen(key) {
		return outcomeDuplicate
	}

	req, err := parseEvent(evt, i.validator, i.cfg.MaxWithdrawalSats)
	if err != nil {
		i.logger.Warn("[handleEvent][parseEvent] discarding event", map[string]string{
			"event": key,
			"error": err.Error(),
		})
		i.dedup.Mark(key)
		return outcomeRejected
	}

	record, changed, err := i.withdrawals.Deliver(ctx, req)
	if err != nil {
		i.logger.Error("[handleEvent][Deliver]", map[string]string{
			"event": key,
			"error": err.Error(),
		})
		return outcomeFailed
	}

	i.dedup.Mark(key)
	if !changed {
		return outcomeDuplicate
	}
	i.logger.Debug("[handleEvent] delivered", map[string]string{
		"event":            key,
		"id":               record.ID,
		"attestationCount": strconv.Itoa(record.AttestationCount),
	})
	return outcomeRecorded
}
