package ingestor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwarvesf/collateral-relayer/internal/chainrpc"
	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/store"
	"github.com/dwarvesf/collateral-relayer/internal/store/storetest"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/withdrawal"
)

// fakeFeed serves a fixed event list in pages, keyed by cursor position.
type fakeFeed struct {
	chainrpc.IChainRPC
	mu       sync.Mutex
	events   []chainrpc.Event
	cursors  []*chainrpc.EventID
	queryErr error
}

func (f *fakeFeed) QueryEvents(ctx context.Context, eventType string, cursor *chainrpc.EventID, limit int) (*chainrpc.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	start := 0
	if cursor != nil {
		for n, evt := range f.events {
			if evt.ID == *cursor {
				start = n + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.events) {
		end = len(f.events)
	}
	page := &chainrpc.EventPage{Data: f.events[start:end], HasNextPage: end < len(f.events)}
	if end > start {
		last := f.events[end-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

type fakeWithdrawals struct {
	mu       sync.Mutex
	recorded map[string]int
	failOnce map[string]bool
}

func newFakeWithdrawals() *fakeWithdrawals {
	return &fakeWithdrawals{recorded: map[string]int{}, failOnce: map[string]bool{}}
}

func (w *fakeWithdrawals) RecordEvent(ctx context.Context, evt withdrawal.Event) (*model.TransactionRecord, error) {
	rec, _, err := w.Deliver(ctx, evt)
	return rec, err
}

// Deliver reports a change only the first time an event id is delivered.
func (w *fakeWithdrawals) Deliver(ctx context.Context, evt withdrawal.Event) (*model.TransactionRecord, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOnce[evt.SourceEventID] {
		delete(w.failOnce, evt.SourceEventID)
		return nil, false, errors.New("database unavailable")
	}
	w.recorded[evt.SourceEventID]++
	return &model.TransactionRecord{ID: evt.SourceEventID, AttestationCount: 1}, w.recorded[evt.SourceEventID] == 1, nil
}

func (w *fakeWithdrawals) Attest(ctx context.Context, recordID string) (*model.TransactionRecord, error) {
	return nil, errors.New("not used")
}

func (w *fakeWithdrawals) count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recorded[key]
}

func feedEvents(digests ...string) []chainrpc.Event {
	events := make([]chainrpc.Event, 0, len(digests))
	for _, d := range digests {
		events = append(events, withdrawalEvent(d, map[string]interface{}{
			"user": "0xabc", "btc_address": "tb1qdest", "amount": "1000",
		}))
	}
	return events
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Chain: config.ChainConfig{WithdrawalEventType: "0x2::collateral::WithdrawalRequested"},
		Relayer: config.RelayerConfig{
			ID:               "relayer-1",
			PollInterval:     5 * time.Second,
			MaxPollInterval:  30 * time.Second,
			MaxBackoff:       2 * time.Minute,
			FailureGrace:     3,
			PageSize:         2,
			BatchSize:        2,
			CursorStaleAfter: 5 * time.Minute,
			DedupCapacity:    100,
		},
	}
}

func TestNew_RejectsBadSizes(t *testing.T) {
	cfg := testConfig()
	cfg.Relayer.PageSize = 0
	_, err := New(nil, nil, cfg, &fakeFeed{}, newFakeWithdrawals(), prefixValidator{}, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestIngestor(t *testing.T) {
	db, cleanup := storetest.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s := store.New(db)

	newIngestor := func(t *testing.T, cfg *config.AppConfig, feed *fakeFeed, w *fakeWithdrawals) *Ingestor {
		ing, err := New(db, s, cfg, feed, w, prefixValidator{}, nil, logger.NewNop())
		require.NoError(t, err)
		require.NoError(t, ing.Init(ctx))
		return ing
	}

	t.Run("cursor advances page by page and survives restart", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{events: feedEvents("a", "b", "c")}
		w := newFakeWithdrawals()
		ing := newIngestor(t, testConfig(), feed, w)

		res, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Recorded)
		assert.True(t, res.HasMore)

		saved, err := s.CursorState.Get(db, consts.WithdrawalEventsChannel)
		require.NoError(t, err)
		require.NotNil(t, saved)
		cursor, err := chainrpc.DecodeCursor(saved.Cursor)
		require.NoError(t, err)
		assert.Equal(t, "b", cursor.TxDigest)

		restarted := newIngestor(t, testConfig(), feed, w)
		res, err = restarted.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recorded)
		assert.False(t, res.HasMore)

		for _, key := range []string{"a:0", "b:0", "c:0"} {
			assert.Equal(t, 1, w.count(key), key)
		}
	})

	t.Run("empty poll keeps the cursor and refreshes it", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{events: feedEvents("a")}
		ing := newIngestor(t, testConfig(), feed, newFakeWithdrawals())

		_, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		first, err := s.CursorState.Get(db, consts.WithdrawalEventsChannel)
		require.NoError(t, err)

		res, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Fetched)

		second, err := s.CursorState.Get(db, consts.WithdrawalEventsChannel)
		require.NoError(t, err)
		assert.Equal(t, first.Cursor, second.Cursor)
		assert.False(t, second.LastUpdated.Before(first.LastUpdated))
	})

	t.Run("failed delivery holds the cursor and retries the page", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{events: feedEvents("a", "b")}
		w := newFakeWithdrawals()
		w.failOnce["b:0"] = true
		ing := newIngestor(t, testConfig(), feed, w)

		res, err := ing.PollOnce(ctx)
		require.Error(t, err)
		assert.Equal(t, 1, res.Failed)
		saved, err := s.CursorState.Get(db, consts.WithdrawalEventsChannel)
		require.NoError(t, err)
		assert.Nil(t, saved)

		res, err = ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, 1, res.Recorded)
		assert.Equal(t, 1, w.count("a:0"))
		assert.Equal(t, 1, w.count("b:0"))
	})

	t.Run("redelivered events after a restart count as duplicates", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{events: feedEvents("a", "b")}
		w := newFakeWithdrawals()

		res, err := newIngestor(t, testConfig(), feed, w).PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Recorded)

		// a lost cursor makes the feed replay from the start into a fresh dedup set
		storetest.Truncate(t, db)
		restarted := newIngestor(t, testConfig(), feed, w)
		res, err = restarted.PollOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Recorded)
		assert.Equal(t, 2, res.Duplicates)

		stats := restarted.Stats()
		assert.Zero(t, stats.EventsRecorded)
		assert.Equal(t, int64(2), stats.EventsDuplicate)
		assert.Equal(t, 2, w.count("a:0"))
	})

	t.Run("invalid events are skipped without blocking the cursor", func(t *testing.T) {
		storetest.Truncate(t, db)
		events := feedEvents("good")
		events = append(events, withdrawalEvent("bad", map[string]interface{}{
			"user": "0xabc", "btc_address": "bc1qmain", "amount": "1000",
		}))
		feed := &fakeFeed{events: events}
		w := newFakeWithdrawals()
		ing := newIngestor(t, testConfig(), feed, w)

		res, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recorded)
		assert.Equal(t, 1, res.Rejected)
		assert.Zero(t, w.count("bad:0"))

		stats := ing.Stats()
		assert.Equal(t, int64(1), stats.EventsRejected)
		assert.Equal(t, 2, stats.DedupSize)
	})

	t.Run("reset flag restarts from the beginning", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{events: feedEvents("a")}
		_, err := s.CursorState.Upsert(db, consts.WithdrawalEventsChannel,
			chainrpc.EncodeCursor(&chainrpc.EventID{TxDigest: "a", EventSeq: "0"}))
		require.NoError(t, err)

		cfg := testConfig()
		cfg.Relayer.ResetEventCursor = true
		ing := newIngestor(t, cfg, feed, newFakeWithdrawals())

		res, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recorded)
		assert.Nil(t, feed.cursors[0])
	})

	t.Run("unreadable cursor is ignored", func(t *testing.T) {
		storetest.Truncate(t, db)
		_, err := s.CursorState.Upsert(db, consts.WithdrawalEventsChannel, "not-json")
		require.NoError(t, err)
		feed := &fakeFeed{events: feedEvents("a")}
		ing := newIngestor(t, testConfig(), feed, newFakeWithdrawals())

		res, err := ing.PollOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recorded)
	})

	t.Run("tick backs off on query failures", func(t *testing.T) {
		storetest.Truncate(t, db)
		feed := &fakeFeed{queryErr: errors.New("connection refused")}
		ing := newIngestor(t, testConfig(), feed, newFakeWithdrawals())

		assert.Equal(t, 10*time.Second, ing.tick(ctx))
		stats := ing.Stats()
		assert.Equal(t, int64(1), stats.FailedPolls)
		assert.Equal(t, 1, stats.ConsecutiveFailures)
		assert.Contains(t, stats.LastError, "connection refused")

		feed.mu.Lock()
		feed.queryErr = nil
		feed.events = feedEvents("a", "b", "c")
		feed.mu.Unlock()
		assert.Zero(t, ing.tick(ctx), "more pages are fetched immediately")
		assert.Equal(t, 5*time.Second, ing.tick(ctx))
		assert.Empty(t, ing.Stats().LastError)
	})

	t.Run("cursor health flags a stale cursor", func(t *testing.T) {
		storetest.Truncate(t, db)
		ing := newIngestor(t, testConfig(), &fakeFeed{}, newFakeWithdrawals())

		h, err := ing.CheckCursorHealth(ctx, time.Now())
		require.NoError(t, err)
		assert.False(t, h.Stale)
		assert.Empty(t, h.Cursor)

		_, err = s.CursorState.Upsert(db, consts.WithdrawalEventsChannel,
			chainrpc.EncodeCursor(&chainrpc.EventID{TxDigest: "a", EventSeq: "0"}))
		require.NoError(t, err)

		h, err = ing.CheckCursorHealth(ctx, time.Now().Add(10*time.Minute))
		require.NoError(t, err)
		assert.True(t, h.Stale)
		assert.NotNil(t, h.LastUpdated)
		assert.NotEmpty(t, h.Cursor)
	})

	t.Run("run stops on cancel", func(t *testing.T) {
		storetest.Truncate(t, db)
		ing := newIngestor(t, testConfig(), &fakeFeed{}, newFakeWithdrawals())
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- ing.Run(runCtx) }()

		time.Sleep(100 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("ingestor did not stop")
		}
	})
}
