package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsim/internal/adapters/memcache"
	"optionsim/internal/domain"
	"optionsim/internal/greeks"
	"optionsim/internal/ports"
)

const (
	testUnderlying = "NSE_INDEX|Nifty 50"
	testExpiry     = "2026-09-03"
)

type testLogger struct{}

func (testLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (testLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeSession struct {
	mu     sync.Mutex
	events []ports.Event
	closed bool
}

func (s *fakeSession) Send(ctx context.Context, event ports.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) byType(eventType string) []ports.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeConn struct {
	ticks      chan *domain.Tick
	subErr     error
	termErr    error
	mu         sync.Mutex
	subscribed []string
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{ticks: make(chan *domain.Tick, 64)}
}

func (c *fakeConn) Subscribe(ctx context.Context, instrumentKeys []string) error {
	c.mu.Lock()
	c.subscribed = append([]string(nil), instrumentKeys...)
	c.mu.Unlock()
	return c.subErr
}

func (c *fakeConn) Unsubscribe(ctx context.Context, instrumentKeys []string) error { return nil }

func (c *fakeConn) Ticks() <-chan *domain.Tick { return c.ticks }

func (c *fakeConn) Err() error { return c.termErr }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.ticks) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (ports.FeedConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if len(d.conns) > 0 {
		conn := d.conns[0]
		d.conns = d.conns[1:]
		return conn, nil
	}
	return nil, fmt.Errorf("no connection scripted: %w", ports.ErrConnectionFailed)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeCatalog serves a synthetic single-expiry chain around any center strike.
type fakeCatalog struct {
	aliases map[string]string
	details map[string]*domain.InstrumentDetails
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		aliases: map[string]string{"NIFTY": testUnderlying},
		details: make(map[string]*domain.InstrumentDetails),
	}
}

func (c *fakeCatalog) addOption(key string, strike float64, optType domain.OptionType) {
	c.details[key] = &domain.InstrumentDetails{
		InstrumentKey: key,
		Underlying:    testUnderlying,
		Expiry:        testExpiry,
		Strike:        strike,
		OptionType:    optType,
		LotSize:       75,
	}
}

func (c *fakeCatalog) ResolveKey(aliasOrKey string) (string, error) {
	if resolved, ok := c.aliases[aliasOrKey]; ok {
		return resolved, nil
	}
	return aliasOrKey, nil
}

func (c *fakeCatalog) StrikeStep(underlyingKey string) (float64, error) { return 50, nil }

func (c *fakeCatalog) Expiries(underlyingKey string) ([]string, error) {
	return []string{testExpiry}, nil
}

func (c *fakeCatalog) OptionChainWindow(underlyingKey, expiry string, centerStrike float64, count int) ([]domain.OptionChainRow, error) {
	rows := make([]domain.OptionChainRow, 0, 2*count+1)
	for i := -count; i <= count; i++ {
		strike := centerStrike + float64(i)*50
		rows = append(rows, domain.OptionChainRow{
			Strike:  strike,
			CallKey: fmt.Sprintf("NSE_FO|CE%.0f", strike),
			PutKey:  fmt.Sprintf("NSE_FO|PE%.0f", strike),
		})
	}
	return rows, nil
}

func (c *fakeCatalog) Details(instrumentKey string) (*domain.InstrumentDetails, error) {
	return c.details[instrumentKey], nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type bridgeFixture struct {
	bridge  *Bridge
	session *fakeSession
	dialer  *fakeDialer
	catalog *fakeCatalog
	quotes  *memcache.QuoteCache
	clock   *fakeClock
}

func setupBridge(t *testing.T, mutate func(*Config)) *bridgeFixture {
	t.Helper()
	session := &fakeSession{}
	dialer := &fakeDialer{}
	cat := newFakeCatalog()
	quotes := memcache.NewQuoteCache()
	pool := greeks.NewPool(1, greeks.NewCalculator(0.06), testLogger{})
	t.Cleanup(pool.Close)

	cfg := Config{
		Dialer:        dialer,
		Catalog:       cat,
		Quotes:        quotes,
		Session:       session,
		Greeks:        pool,
		Logger:        testLogger{},
		UnderlyingKey: "NIFTY",
		StrikeWindow:  2,
		Hours:         MarketHours{Location: time.UTC, ForceOpen: true},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBridge(cfg)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return &bridgeFixture{bridge: b, session: session, dialer: dialer, catalog: cat, quotes: quotes, clock: clock}
}

func TestNewBridge_ResolvesAliasAndStrikeStep(t *testing.T) {
	f := setupBridge(t, nil)
	assert.Equal(t, testUnderlying, f.bridge.underlyingKey)
	assert.Equal(t, 50.0, f.bridge.strikeStep)
	assert.Equal(t, StateNotConnected, f.bridge.State())
}

func TestNewBridge_RejectsMissingDependencies(t *testing.T) {
	_, err := NewBridge(Config{})
	require.Error(t, err)
}

func TestProcessTick_NormalizesKeyAndSimulatesDepth(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	reset := f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: "NSE_FO:45510", LTP: 104.5})
	assert.False(t, reset)

	q, err := f.quotes.Get(ctx, "NSE_FO|45510")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 104.5, q.LTP)
	assert.Equal(t, 104.5, q.Bid)
	assert.Equal(t, 104.5, q.Ask)
	assert.True(t, q.BidSimulated)
	assert.True(t, q.AskSimulated)
	assert.Equal(t, int64(defaultDepthQty), q.BidQty)
	assert.Equal(t, int64(defaultDepthQty), q.AskQty)
	assert.Equal(t, 0.0, q.Spread)
	assert.Equal(t, uint64(1), q.Seq)

	f.bridge.bufMu.Lock()
	update := f.bridge.buffer["NSE_FO|45510"]
	f.bridge.bufMu.Unlock()
	require.NotNil(t, update)
	assert.Equal(t, uint64(1), update.Seq)
}

func TestProcessTick_GenuineDepthStampsBothSides(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	f.bridge.processTick(ctx, &domain.Tick{
		InstrumentKey: "NSE_FO|45510", LTP: 104.5,
		Bid: 104.0, Ask: 105.0, BidQty: 300, AskQty: 450,
	})

	q, err := f.quotes.Get(ctx, "NSE_FO|45510")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.False(t, q.BidSimulated)
	assert.False(t, q.AskSimulated)
	assert.Equal(t, f.clock.now().UnixMilli(), q.BidTS)
	assert.Equal(t, f.clock.now().UnixMilli(), q.AskTS)
	assert.InDelta(t, 1.0, q.Spread, 1e-9)
	assert.InDelta(t, 1.0/104.0*100, q.SpreadPct, 1e-9)
}

func TestProcessTick_ZeroLTPDropped(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	assert.False(t, f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: "NSE_FO|45510", LTP: 0}))
	q, err := f.quotes.Get(ctx, "NSE_FO|45510")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestProcessTick_QuoteWriteThrottled(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()
	key := "NSE_FO|45510"

	f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: key, LTP: 100})
	f.clock.advance(100 * time.Millisecond)
	f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: key, LTP: 101})

	q, err := f.quotes.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 100.0, q.LTP, "second write inside the throttle window must not land")

	f.clock.advance(200 * time.Millisecond)
	f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: key, LTP: 102})
	q, err = f.quotes.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 102.0, q.LTP)
	assert.Equal(t, uint64(3), q.Seq, "sequence numbers advance on every tick, throttled or not")
}

func TestProcessTick_LTPOnlyKeepsPriorDepthTimestamps(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()
	key := "NSE_FO|45510"

	f.bridge.processTick(ctx, &domain.Tick{
		InstrumentKey: key, LTP: 100, Bid: 99.5, Ask: 100.5, BidQty: 100, AskQty: 100,
	})
	firstTS := f.clock.now().UnixMilli()

	f.clock.advance(300 * time.Millisecond)
	f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: key, LTP: 101})

	q, err := f.quotes.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.True(t, q.BidSimulated)
	assert.Equal(t, firstTS, q.BidTS, "simulated sides inherit the last genuine depth timestamp")
	assert.Equal(t, firstTS, q.AskTS)
}

func TestTrackSpot_PreSeededSessionInitializesWithoutReset(t *testing.T) {
	f := setupBridge(t, nil)
	f.bridge.mu.Lock()
	f.bridge.subs = map[string]struct{}{
		testUnderlying: {}, "NSE_FO|CE23500": {}, "NSE_FO|PE23500": {},
	}
	f.bridge.mu.Unlock()

	reset := f.bridge.processTick(context.Background(), &domain.Tick{InstrumentKey: testUnderlying, LTP: 23512})
	assert.False(t, reset)
	assert.Equal(t, 23500.0, f.bridge.CurrentATM())
	assert.Empty(t, f.session.byType(EventFeedState))
}

func TestTrackSpot_SpotOnlySessionExpandsOnFirstTick(t *testing.T) {
	f := setupBridge(t, nil)
	f.bridge.mu.Lock()
	f.bridge.subs = map[string]struct{}{testUnderlying: {}}
	f.bridge.mu.Unlock()

	reset := f.bridge.processTick(context.Background(), &domain.Tick{InstrumentKey: testUnderlying, LTP: 23512})
	assert.True(t, reset)
	assert.Equal(t, 23500.0, f.bridge.CurrentATM())

	f.bridge.mu.Lock()
	subCount := len(f.bridge.subs)
	f.bridge.mu.Unlock()
	assert.Equal(t, 11, subCount, "underlying plus call and put at 5 strikes")

	states := f.session.byType(EventFeedState)
	require.Len(t, states, 1)
	payload, ok := states[0].Payload.(StatePayload)
	require.True(t, ok)
	assert.Equal(t, PhaseResetting, payload.Status)
	assert.Equal(t, "ATM_INIT", payload.Reason)
}

func TestTrackSpot_HysteresisAndCooldown(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()
	f.bridge.mu.Lock()
	f.bridge.subs = map[string]struct{}{
		testUnderlying: {}, "NSE_FO|CE23500": {}, "NSE_FO|PE23500": {},
	}
	f.bridge.currentATM = 23500
	f.bridge.mu.Unlock()

	// Oscillation below the ATM midpoint never moves the strike.
	assert.False(t, f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: testUnderlying, LTP: 23510}))
	assert.False(t, f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: testUnderlying, LTP: 23524}))
	assert.Equal(t, 23500.0, f.bridge.CurrentATM())

	// A genuine move past the midpoint resets once the cooldown has elapsed.
	f.clock.advance(6 * time.Second)
	assert.True(t, f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: testUnderlying, LTP: 23531}))
	assert.Equal(t, 23550.0, f.bridge.CurrentATM())

	// An immediate second move is held back by the cooldown.
	f.bridge.mu.Lock()
	f.bridge.resetInProgress = false
	f.bridge.mu.Unlock()
	assert.False(t, f.bridge.processTick(ctx, &domain.Tick{InstrumentKey: testUnderlying, LTP: 23581}))
	assert.Equal(t, 23550.0, f.bridge.CurrentATM())
}

func TestBeginReset_RebuildsWindowAndClearsBuffer(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	f.bridge.bufMu.Lock()
	f.bridge.buffer["NSE_FO|CE23400"] = &InstrumentUpdate{LTP: 80}
	f.bridge.bufMu.Unlock()

	f.bridge.beginReset(ctx, 23550, "ATM_SHIFT")

	f.bridge.mu.Lock()
	inProgress := f.bridge.resetInProgress
	subCount := len(f.bridge.subs)
	expiry := f.bridge.expiry
	f.bridge.mu.Unlock()
	assert.True(t, inProgress)
	assert.Equal(t, 11, subCount)
	assert.Equal(t, testExpiry, expiry)

	f.bridge.bufMu.Lock()
	bufLen := len(f.bridge.buffer)
	f.bridge.bufMu.Unlock()
	assert.Zero(t, bufLen, "stale updates must not survive a reset")
}

func TestFinishReset_BroadcastsLiveWindow(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	f.bridge.beginReset(ctx, 23550, "ATM_SHIFT")
	f.bridge.finishReset(ctx)

	states := f.session.byType(EventFeedState)
	require.Len(t, states, 2)
	live, ok := states[1].Payload.(StatePayload)
	require.True(t, ok)
	assert.Equal(t, PhaseLive, live.Status)
	assert.Equal(t, 23550.0, live.CurrentATM)
	assert.Len(t, live.LiveStrikes, 5)
	assert.Empty(t, live.Reason, "a reset completion carries no reason")
	assert.Greater(t, live.Version, states[0].Payload.(StatePayload).Version)
	assert.Equal(t, StateNotConnected, f.bridge.State())
	f.bridge.mu.Lock()
	assert.False(t, f.bridge.resetInProgress)
	f.bridge.mu.Unlock()
}

func TestEnforceResetDeadline_ForcesFullRestart(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	f.bridge.beginReset(ctx, 23550, "ATM_SHIFT")
	f.clock.advance(11 * time.Second)
	f.bridge.enforceResetDeadline(ctx)

	f.bridge.mu.Lock()
	subCount := len(f.bridge.subs)
	inProgress := f.bridge.resetInProgress
	reason := f.bridge.lastResetReason
	f.bridge.mu.Unlock()
	assert.Zero(t, subCount, "a timed-out reset drops all subscriptions")
	assert.False(t, inProgress)
	assert.Equal(t, "RESET_TIMEOUT", reason)

	states := f.session.byType(EventFeedState)
	require.Len(t, states, 2)
	closed, ok := states[1].Payload.(StatePayload)
	require.True(t, ok)
	assert.Equal(t, PhaseClosed, closed.Status)
	assert.Equal(t, "RESET_TIMEOUT", closed.Reason)
}

func TestSwitchUnderlying_BusySignals(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	require.NoError(t, f.bridge.SwitchUnderlying(ctx, "NSE_INDEX|Nifty Bank", nil))
	err := f.bridge.SwitchUnderlying(ctx, "NSE_INDEX|Nifty 50", nil)
	require.ErrorIs(t, err, ports.ErrFeedResetBusy, "only one switch may be queued")

	<-f.bridge.cmds
	f.bridge.setState(StateSwitching)
	err = f.bridge.SwitchUnderlying(ctx, "NSE_INDEX|Nifty 50", nil)
	require.ErrorIs(t, err, ports.ErrFeedResetBusy)
}

func TestHandleSwitch_ResetsSessionState(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()
	f.catalog.addOption("NSE_FO|BANKCE51200", 51200, domain.Call)
	f.catalog.addOption("NSE_FO|BANKPE51200", 51200, domain.Put)
	f.catalog.addOption("NSE_FO|BANKCE51300", 51300, domain.Call)

	f.bridge.seq["NSE_FO|CE23500"] = 42
	f.bridge.shadow["NSE_FO|CE23500"] = &domain.Quote{LTP: 100}
	f.bridge.mu.Lock()
	f.bridge.spotLTP = 23512
	f.bridge.mu.Unlock()

	f.bridge.handleSwitch(ctx, switchCommand{
		underlyingKey: "NSE_INDEX|Nifty Bank",
		candidateKeys: []string{"NSE_FO|BANKCE51200", "NSE_FO|BANKPE51200", "NSE_FO|BANKCE51300"},
	})

	f.bridge.mu.Lock()
	assert.Equal(t, "NSE_INDEX|Nifty Bank", f.bridge.underlyingKey)
	assert.Equal(t, 51200.0, f.bridge.currentATM, "ATM comes from the median candidate strike")
	assert.Len(t, f.bridge.subs, 4)
	assert.Zero(t, f.bridge.spotLTP)
	f.bridge.mu.Unlock()
	assert.Empty(t, f.bridge.seq, "sequence counters restart for the new logical session")
	assert.Empty(t, f.bridge.shadow)

	states := f.session.byType(EventFeedState)
	require.NotEmpty(t, states)
	payload := states[0].Payload.(StatePayload)
	assert.Equal(t, "SWITCH_UNDERLYING", payload.Reason)
}

func TestBroadcastFeedState_VersionIsMonotonic(t *testing.T) {
	f := setupBridge(t, nil)
	ctx := context.Background()

	f.bridge.broadcastFeedState(ctx, PhaseLive, 23500, nil, "")
	f.bridge.broadcastFeedState(ctx, PhaseResetting, 23550, nil, "ATM_SHIFT")
	f.bridge.broadcastFeedState(ctx, PhaseLive, 23550, []float64{23550}, "")

	states := f.session.byType(EventFeedState)
	require.Len(t, states, 3)
	var last uint64
	for _, e := range states {
		payload := e.Payload.(StatePayload)
		assert.Greater(t, payload.Version, last)
		last = payload.Version
		assert.NotNil(t, payload.LiveStrikes, "strikes marshal as an array even when empty")
	}
}

func TestAnchorSpot_FreshGenuineSpotWins(t *testing.T) {
	f := setupBridge(t, nil)
	f.bridge.mu.Lock()
	f.bridge.spotLTP = 23512
	f.bridge.spotSeq = 7
	f.bridge.spotAt = f.clock.now()
	f.bridge.mu.Unlock()

	batch := map[string]*InstrumentUpdate{"NSE_FO|CE23500": {LTP: 150}}
	f.bridge.anchorSpot(batch)

	spot := batch[testUnderlying]
	require.NotNil(t, spot)
	assert.Equal(t, 23512.0, spot.LTP)
	assert.Equal(t, uint64(7), spot.Seq)
	assert.False(t, spot.Synthetic)
}

func TestAnchorSpot_SyntheticFromPutCallParity(t *testing.T) {
	f := setupBridge(t, nil)
	f.catalog.addOption("NSE_FO|CE23500", 23500, domain.Call)
	f.catalog.addOption("NSE_FO|PE23500", 23500, domain.Put)

	batch := map[string]*InstrumentUpdate{
		"NSE_FO|CE23500": {LTP: 150},
		"NSE_FO|PE23500": {LTP: 30},
	}
	f.bridge.anchorSpot(batch)

	spot := batch[testUnderlying]
	require.NotNil(t, spot)
	assert.True(t, spot.Synthetic)
	assert.InDelta(t, 23620.0, spot.LTP, 1e-9, "spot = call - put + strike")

	f.bridge.mu.Lock()
	assert.Zero(t, f.bridge.spotLTP, "a synthetic spot is never promoted to a genuine tick")
	f.bridge.mu.Unlock()
}

func TestAnchorSpot_StaleGenuineBeatsNothing(t *testing.T) {
	f := setupBridge(t, nil)
	f.bridge.mu.Lock()
	f.bridge.spotLTP = 23512
	f.bridge.spotAt = f.clock.now().Add(-10 * time.Second)
	f.bridge.mu.Unlock()

	batch := map[string]*InstrumentUpdate{"NSE_FO|45510": {LTP: 104.5}}
	f.bridge.anchorSpot(batch)

	spot := batch[testUnderlying]
	require.NotNil(t, spot)
	assert.Equal(t, 23512.0, spot.LTP)
	assert.False(t, spot.Synthetic)
}

func TestUnsubscribe_IsAcceptedNoop(t *testing.T) {
	f := setupBridge(t, nil)
	require.NoError(t, f.bridge.Subscribe(context.Background(), []string{"NSE_FO:45510"}))
	require.NoError(t, f.bridge.Unsubscribe(context.Background(), []string{"NSE_FO|45510"}))

	f.bridge.mu.Lock()
	_, stillThere := f.bridge.subs["NSE_FO|45510"]
	f.bridge.mu.Unlock()
	assert.True(t, stillThere)
}

func TestStart_MarketClosedNeverDials(t *testing.T) {
	f := setupBridge(t, func(cfg *Config) {
		cfg.Hours = MarketHours{Location: time.UTC}
	})
	f.clock.mu.Lock()
	f.clock.t = time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC) // Saturday
	f.clock.mu.Unlock()

	require.NoError(t, f.bridge.Start(context.Background()))
	assert.Equal(t, StateMarketClosed, f.bridge.State())
	assert.Zero(t, f.dialer.dialCount())

	statuses := f.session.byType(EventMarketStatus)
	require.Len(t, statuses, 1)
	payload := statuses[0].Payload.(MarketClosedPayload)
	assert.Equal(t, "CLOSED", payload.Status)
	assert.True(t, payload.WSDisabled)

	f.bridge.Stop()
}

func TestRun_TokenRejectionIsTerminal(t *testing.T) {
	f := setupBridge(t, nil)
	f.dialer.errs = []error{fmt.Errorf("authorize: %w", ports.ErrTokenInvalid)}

	require.NoError(t, f.bridge.Start(context.Background()))
	select {
	case <-f.bridge.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not terminate")
	}

	assert.Equal(t, StateFailed, f.bridge.State())
	assert.Len(t, f.session.byType(EventTokenExpired), 1)
	assert.Empty(t, f.session.byType(EventFeedUnavailable))
	f.bridge.Stop()
}

func TestRun_EntitlementFailureIsTerminal(t *testing.T) {
	f := setupBridge(t, nil)
	f.dialer.errs = []error{fmt.Errorf("authorize: %w", ports.ErrFeedEntitlement)}

	require.NoError(t, f.bridge.Start(context.Background()))
	select {
	case <-f.bridge.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not terminate")
	}

	assert.Equal(t, StateFailed, f.bridge.State())
	assert.Len(t, f.session.byType(EventFeedUnavailable), 1)
	assert.Empty(t, f.session.byType(EventTokenExpired))
	f.bridge.Stop()
}

func TestLifecycle_TickFlowsThroughToQuoteStore(t *testing.T) {
	f := setupBridge(t, nil)
	f.bridge.now = time.Now
	conn := newFakeConn()
	f.dialer.conns = []*fakeConn{conn}
	require.NoError(t, f.bridge.Subscribe(context.Background(), []string{testUnderlying, "NSE_FO|45510"}))

	require.NoError(t, f.bridge.Start(context.Background()))
	defer f.bridge.Stop()

	require.Eventually(t, func() bool {
		return len(f.session.byType(EventFeedConnected)) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, f.bridge.State())

	conn.mu.Lock()
	subscribed := append([]string(nil), conn.subscribed...)
	conn.mu.Unlock()
	assert.Contains(t, subscribed, "NSE_FO|45510")
	assert.Contains(t, subscribed, testUnderlying)

	conn.ticks <- &domain.Tick{InstrumentKey: "NSE_FO|45510", LTP: 104.5}
	require.Eventually(t, func() bool {
		q, err := f.quotes.Get(context.Background(), "NSE_FO|45510")
		return err == nil && q != nil && q.LTP == 104.5
	}, 2*time.Second, 10*time.Millisecond)
}
