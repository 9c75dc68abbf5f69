// Package feed owns the session-bound upstream market-data connection: the
// connection state machine, ATM window tracking with hysteresis and cooldown,
// hard resets, tick normalization and the batched client broadcast. One
// Bridge serves one client session; it is constructed, started and stopped
// explicitly, never looked up from global state.
//
// The upstream protocol cannot edit a subscription incrementally: changing
// the instrument set always means a full reconnect through a fresh single-use
// authorized URL. The bridge therefore treats "resubscribe" as a hard reset.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"optionsim/internal/catalog"
	"optionsim/internal/domain"
	"optionsim/internal/greeks"
	"optionsim/internal/ports"
)

// State is the bridge's connection state. The backend is the single source
// of truth; clients render whatever the bridge reports.
type State string

const (
	StateMarketClosed  State = "MARKET_CLOSED"
	StateNotConnected  State = "NOT_CONNECTED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateSwitching     State = "SWITCHING"
	StateDisconnecting State = "DISCONNECTING"
	StateFailed        State = "FAILED"
)

const (
	defaultStrikeWindow      = 8
	defaultBroadcastInterval = 50 * time.Millisecond
	defaultQuoteTTL          = 10 * time.Second
	defaultResetCooldown     = 5 * time.Second
	defaultResetTimeout      = 10 * time.Second
	defaultStrikeStep        = 50.0

	// spotStaleAfter is how long a genuine spot tick anchors broadcasts
	// before the bridge falls back to put-call parity.
	spotStaleAfter = 2 * time.Second

	quoteWriteInterval = 250 * time.Millisecond
	greeksInterval     = time.Second

	// defaultDepthQty stands in for unknown top-of-book size on simulated
	// sides; the slippage model treats it as "deep".
	defaultDepthQty = 100000

	reconnectMin = 500 * time.Millisecond
	reconnectMax = 30 * time.Second
)

// Config holds the bridge's dependencies and session parameters.
type Config struct {
	Dialer  ports.FeedDialer
	Catalog ports.InstrumentCatalog
	Quotes  ports.QuoteStore
	Session ports.ClientSession
	Greeks  *greeks.Pool
	Logger  ports.Logger

	// UnderlyingKey is the session's underlying; aliases are resolved
	// through the catalog.
	UnderlyingKey string
	// Expiry pins the option expiry (YYYY-MM-DD); empty means nearest.
	Expiry string

	StrikeWindow      int
	BroadcastInterval time.Duration
	QuoteTTL          time.Duration
	ResetCooldown     time.Duration
	ResetTimeout      time.Duration
	Hours             MarketHours
}

// TickMetrics are per-session feed diagnostics.
type TickMetrics struct {
	TicksLastSecond int
	MaxGapMS        int64
	LastBrokerTS    int64
}

type switchCommand struct {
	underlyingKey string
	candidateKeys []string
}

// leaveReason tells the connection loop why the consumer stopped.
type leaveReason int

const (
	leaveShutdown leaveReason = iota
	leaveConnLost
	leaveReset
	leaveSwitch
)

// Bridge runs one feed session. The consume goroutine owns all tick-side
// state (sequence counters, throttles, quote writes); the broadcast loop only
// swaps the update buffer and reads the spot anchor.
type Bridge struct {
	dialer   ports.FeedDialer
	catalog  ports.InstrumentCatalog
	quotes   ports.QuoteStore
	session  ports.ClientSession
	pool     *greeks.Pool
	logger   ports.Logger
	window   int
	interval time.Duration
	quoteTTL time.Duration
	cooldown time.Duration
	timeout  time.Duration
	hours    MarketHours

	id string

	mu              sync.Mutex
	state           State
	stateVersion    uint64
	underlyingKey   string
	expiry          string
	strikeStep      float64
	subs            map[string]struct{}
	currentATM      float64
	resetInProgress bool
	resetDeadline   time.Time
	lastResetAt     time.Time
	lastResetReason string
	spotLTP         float64
	spotSeq         uint64
	spotAt          time.Time
	ticksInWindow   int
	ticksLastSecond int
	metricsResetAt  time.Time
	maxGapMS        int64
	lastBrokerTS    int64

	bufMu  sync.Mutex
	buffer map[string]*InstrumentUpdate

	// Consumer-owned; never touched outside processTick and handleSwitch.
	seq            map[string]uint64
	lastQuoteWrite map[string]time.Time
	lastGreeksAt   map[string]time.Time
	shadow         map[string]*domain.Quote

	cmds    chan switchCommand
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
	now     func() time.Time
}

// NewBridge creates a feed bridge for one client session.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Dialer == nil || cfg.Catalog == nil || cfg.Quotes == nil || cfg.Session == nil || cfg.Greeks == nil {
		return nil, fmt.Errorf("dialer, catalog, quotes, session and greeks pool are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for feed bridge")
	}
	if cfg.UnderlyingKey == "" {
		return nil, fmt.Errorf("underlying key is required: %w", ports.ErrInvalidRequest)
	}
	resolved, err := cfg.Catalog.ResolveKey(cfg.UnderlyingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve underlying %q: %w", cfg.UnderlyingKey, err)
	}
	step, err := cfg.Catalog.StrikeStep(resolved)
	if err != nil || step <= 0 {
		step = defaultStrikeStep
	}

	b := &Bridge{
		dialer:         cfg.Dialer,
		catalog:        cfg.Catalog,
		quotes:         cfg.Quotes,
		session:        cfg.Session,
		pool:           cfg.Greeks,
		logger:         cfg.Logger,
		window:         cfg.StrikeWindow,
		interval:       cfg.BroadcastInterval,
		quoteTTL:       cfg.QuoteTTL,
		cooldown:       cfg.ResetCooldown,
		timeout:        cfg.ResetTimeout,
		hours:          cfg.Hours,
		id:             uuid.NewString()[:8],
		state:          StateNotConnected,
		underlyingKey:  resolved,
		expiry:         cfg.Expiry,
		strikeStep:     step,
		subs:           make(map[string]struct{}),
		buffer:         make(map[string]*InstrumentUpdate),
		seq:            make(map[string]uint64),
		lastQuoteWrite: make(map[string]time.Time),
		lastGreeksAt:   make(map[string]time.Time),
		shadow:         make(map[string]*domain.Quote),
		cmds:           make(chan switchCommand, 1),
		done:           make(chan struct{}),
		now:            time.Now,
	}
	if b.window <= 0 {
		b.window = defaultStrikeWindow
	}
	if b.interval <= 0 {
		b.interval = defaultBroadcastInterval
	}
	if b.quoteTTL <= 0 {
		b.quoteTTL = defaultQuoteTTL
	}
	if b.cooldown <= 0 {
		b.cooldown = defaultResetCooldown
	}
	if b.timeout <= 0 {
		b.timeout = defaultResetTimeout
	}
	b.logger.Info(context.Background(), "Feed bridge initialized", map[string]interface{}{
		"feedID": b.id, "underlying": resolved, "strikeStep": step})
	return b, nil
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CurrentATM returns the tracked at-the-money strike, 0 before the first
// spot tick.
func (b *Bridge) CurrentATM() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentATM
}

// Metrics returns a snapshot of the session's tick diagnostics.
func (b *Bridge) Metrics() TickMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return TickMetrics{
		TicksLastSecond: b.ticksLastSecond,
		MaxGapMS:        b.maxGapMS,
		LastBrokerTS:    b.lastBrokerTS,
	}
}

// Start activates the session. Outside market hours no upstream connection
// is attempted: the client is told to fall back to cached data and the
// bridge stays inert until stopped.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("feed bridge %s already started: %w", b.id, ports.ErrInvalidRequest)
	}
	b.started = true
	if !b.hours.IsOpen(b.now()) {
		b.state = StateMarketClosed
		b.mu.Unlock()
		b.logger.Warn(ctx, "Market closed, feed not connecting", map[string]interface{}{"feedID": b.id})
		b.sendEvent(ctx, EventMarketStatus, MarketClosedPayload{
			Status:     "CLOSED",
			Msg:        "Market is closed. Displaying cached data only.",
			WSDisabled: true,
		})
		close(b.done)
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	go b.greeksLoop(runCtx)
	go b.broadcastLoop(runCtx)
	go b.run(runCtx)
	return nil
}

// Stop tears the session down and waits for the connection loop to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.state = StateDisconnecting
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-b.done
	b.logger.Info(context.Background(), "Feed bridge stopped", map[string]interface{}{"feedID": b.id})
}

// Subscribe seeds the instrument set before the session connects. Once the
// transport is up the set is immutable; changing instruments requires
// SwitchUnderlying.
func (b *Bridge) Subscribe(ctx context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateNotConnected {
		return fmt.Errorf("session is %s, subscriptions are locked after connect: %w", b.state, ports.ErrInvalidRequest)
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		b.subs[catalog.NormalizeKey(k)] = struct{}{}
	}
	b.logger.Info(ctx, "Initial subscription staged", map[string]interface{}{"feedID": b.id, "count": len(b.subs)})
	return nil
}

// Unsubscribe is accepted and ignored: the upstream protocol has no
// incremental unsubscribe, and an ignored request is not a feed failure.
func (b *Bridge) Unsubscribe(ctx context.Context, keys []string) error {
	b.logger.Warn(ctx, "Unsubscribe ignored, session-bound feed has no incremental unsubscribe", map[string]interface{}{
		"feedID": b.id, "requested": len(keys)})
	return nil
}

// SwitchUnderlying hard-switches the session to a new underlying. Candidate
// keys, when provided, pre-seed the subscription set so the first spot tick
// does not force an extra reset.
func (b *Bridge) SwitchUnderlying(ctx context.Context, newUnderlyingKey string, candidateKeys []string) error {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state == StateSwitching || state == StateDisconnecting {
		return fmt.Errorf("switch ignored while %s: %w", state, ports.ErrFeedResetBusy)
	}
	select {
	case b.cmds <- switchCommand{underlyingKey: newUnderlyingKey, candidateKeys: candidateKeys}:
		return nil
	default:
		return fmt.Errorf("a switch is already queued: %w", ports.ErrFeedResetBusy)
	}
}

// run is the connection loop: authorize + dial, subscribe, consume until the
// connection dies or the session needs rebuilding, then go around again with
// backoff. Auth failures are terminal for the session.
func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	bo := &backoff.Backoff{Min: reconnectMin, Max: reconnectMax, Factor: 2, Jitter: true}

	for ctx.Err() == nil {
		b.enforceResetDeadline(ctx)
		b.setState(StateConnecting)
		b.ensureSubscriptions(ctx)

		conn, err := b.dialer.Dial(ctx)
		if err != nil {
			if b.failPermanently(ctx, err) {
				return
			}
			b.setState(StateNotConnected)
			wait := bo.Duration()
			b.logger.Warn(ctx, "Feed dial failed, retrying", map[string]interface{}{
				"feedID": b.id, "error": err.Error(), "retryIn": wait.String()})
			if !b.waitOrSwitch(ctx, wait) {
				return
			}
			continue
		}

		if err := conn.Subscribe(ctx, b.subscriptionKeys()); err != nil {
			conn.Close()
			if b.failPermanently(ctx, err) {
				return
			}
			b.setState(StateNotConnected)
			if !b.waitOrSwitch(ctx, bo.Duration()) {
				return
			}
			continue
		}

		bo.Reset()
		b.setState(StateConnected)
		b.sendEvent(ctx, EventFeedConnected, nil)
		b.finishReset(ctx)

		reason := b.consume(ctx, conn)
		conn.Close()

		switch reason {
		case leaveShutdown:
			b.setState(StateDisconnecting)
			return
		case leaveReset, leaveSwitch:
			// Subscriptions were already rebuilt; reconnect immediately.
		case leaveConnLost:
			if b.failPermanently(ctx, conn.Err()) {
				return
			}
			b.setState(StateNotConnected)
			if !b.waitOrSwitch(ctx, bo.Duration()) {
				return
			}
		}
	}
}

// consume reads decoded ticks until the connection dies or a reset/switch
// requires a reconnect. It is the single owner of all tick-side state.
func (b *Bridge) consume(ctx context.Context, conn ports.FeedConn) leaveReason {
	for {
		select {
		case <-ctx.Done():
			return leaveShutdown
		case cmd := <-b.cmds:
			b.handleSwitch(ctx, cmd)
			return leaveSwitch
		case tick, ok := <-conn.Ticks():
			if !ok {
				return leaveConnLost
			}
			if b.processTick(ctx, tick) {
				return leaveReset
			}
		}
	}
}

// waitOrSwitch sleeps between reconnect attempts but stays responsive to
// shutdown and queued switches. Returns false on shutdown.
func (b *Bridge) waitOrSwitch(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		b.setState(StateDisconnecting)
		return false
	case cmd := <-b.cmds:
		b.handleSwitch(ctx, cmd)
		return true
	case <-timer.C:
		return true
	}
}

// failPermanently classifies terminal auth errors, notifies the client and
// reports whether the session should die. A 403-class entitlement failure
// must not invalidate the stored credential; only 401-class does.
func (b *Bridge) failPermanently(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, ports.ErrTokenInvalid):
		b.logger.Error(ctx, err, "Access token rejected by upstream feed", map[string]interface{}{"feedID": b.id})
		b.sendEvent(ctx, EventTokenExpired, nil)
	case errors.Is(err, ports.ErrFeedEntitlement):
		b.logger.Error(ctx, err, "Streaming entitlement missing, credentials remain valid for REST", map[string]interface{}{"feedID": b.id})
		b.sendEvent(ctx, EventFeedUnavailable, nil)
	default:
		return false
	}
	b.setState(StateFailed)
	return true
}

// ensureSubscriptions builds the default set (underlying + ATM window when a
// cached spot exists) if the session is connecting with nothing staged.
func (b *Bridge) ensureSubscriptions(ctx context.Context) {
	b.mu.Lock()
	if len(b.subs) > 0 {
		b.mu.Unlock()
		return
	}
	underlying := b.underlyingKey
	step := b.strikeStep
	b.subs[underlying] = struct{}{}
	b.mu.Unlock()

	quote, err := b.quotes.Get(ctx, underlying)
	if err != nil || quote == nil || quote.LTP <= 0 {
		b.logger.Info(ctx, "No cached spot, connecting with underlying only", map[string]interface{}{
			"feedID": b.id, "underlying": underlying})
		return
	}
	atm := atmStrike(quote.LTP, step)
	b.mu.Lock()
	b.currentATM = atm
	b.mu.Unlock()
	if err := b.rebuildWindow(ctx, atm); err != nil {
		b.logger.Warn(ctx, "Default window build failed, connecting with underlying only", map[string]interface{}{
			"feedID": b.id, "error": err.Error()})
	}
}

// beginReset marks a reset in progress, tells the client and rebuilds the
// subscription set around the new ATM. The caller reconnects afterwards; the
// reset completes in finishReset or is escalated by enforceResetDeadline.
func (b *Bridge) beginReset(ctx context.Context, newATM float64, reason string) {
	now := b.now()
	b.mu.Lock()
	b.resetInProgress = true
	b.resetDeadline = now.Add(b.timeout)
	b.lastResetAt = now
	b.lastResetReason = reason
	b.currentATM = newATM
	b.mu.Unlock()

	b.logger.Warn(ctx, "Feed reset starting", map[string]interface{}{
		"feedID": b.id, "reason": reason, "newATM": newATM})
	b.broadcastFeedState(ctx, PhaseResetting, newATM, nil, reason)

	if err := b.rebuildWindow(ctx, newATM); err != nil {
		b.logger.Error(ctx, err, "Subscription rebuild failed during reset", map[string]interface{}{"feedID": b.id})
	}
	b.clearBuffer()
}

// finishReset clears the in-progress flag after a successful reconnect and
// broadcasts the LIVE state with the active window.
func (b *Bridge) finishReset(ctx context.Context) {
	b.mu.Lock()
	wasReset := b.resetInProgress
	b.resetInProgress = false
	b.resetDeadline = time.Time{}
	atm := b.currentATM
	step := b.strikeStep
	b.mu.Unlock()

	reason := ""
	if !wasReset {
		reason = "CONNECTED"
	}
	var strikes []float64
	if atm > 0 {
		strikes = liveStrikes(atm, step, b.window)
	}
	b.broadcastFeedState(ctx, PhaseLive, atm, strikes, reason)
}

// enforceResetDeadline escalates a stuck reset into a full session restart:
// subscriptions are dropped so the next connect rebuilds from scratch.
func (b *Bridge) enforceResetDeadline(ctx context.Context) {
	b.mu.Lock()
	if !b.resetInProgress || b.now().Before(b.resetDeadline) {
		b.mu.Unlock()
		return
	}
	b.resetInProgress = false
	b.resetDeadline = time.Time{}
	b.lastResetReason = "RESET_TIMEOUT"
	b.subs = make(map[string]struct{})
	atm := b.currentATM
	b.mu.Unlock()

	b.logger.Error(ctx, ports.ErrTimeout, "Feed stuck resetting, forcing full restart", map[string]interface{}{"feedID": b.id})
	b.broadcastFeedState(ctx, PhaseClosed, atm, nil, "RESET_TIMEOUT")
	b.clearBuffer()
}

// handleSwitch reconfigures the session for a new underlying. Candidate keys
// initialize the ATM so the first spot tick does not trigger a redundant
// reset; without them the session connects spot-only and expands on the
// first tick.
func (b *Bridge) handleSwitch(ctx context.Context, cmd switchCommand) {
	b.setState(StateSwitching)

	resolved, err := b.catalog.ResolveKey(cmd.underlyingKey)
	if err != nil {
		b.logger.Error(ctx, err, "Switch aborted, underlying did not resolve", map[string]interface{}{
			"feedID": b.id, "requested": cmd.underlyingKey})
		b.setState(StateNotConnected)
		return
	}

	b.logger.Info(ctx, "Hard switch", map[string]interface{}{
		"feedID": b.id, "from": b.underlyingKey, "to": resolved, "candidates": len(cmd.candidateKeys)})
	b.broadcastFeedState(ctx, PhaseResetting, 0, nil, "SWITCH_UNDERLYING")

	step, err := b.catalog.StrikeStep(resolved)
	if err != nil || step <= 0 {
		step = defaultStrikeStep
	}

	subs := map[string]struct{}{resolved: {}}
	atm := 0.0
	if len(cmd.candidateKeys) > 0 {
		for _, k := range cmd.candidateKeys {
			if k != "" {
				subs[catalog.NormalizeKey(k)] = struct{}{}
			}
		}
		atm = b.atmFromCandidates(cmd.candidateKeys, resolved)
	}

	b.mu.Lock()
	b.underlyingKey = resolved
	b.strikeStep = step
	b.expiry = ""
	b.subs = subs
	b.currentATM = atm
	b.resetInProgress = false
	b.resetDeadline = time.Time{}
	b.spotLTP = 0
	b.spotSeq = 0
	b.spotAt = time.Time{}
	b.mu.Unlock()

	// New logical session: sequence counters and throttles start over.
	b.seq = make(map[string]uint64)
	b.lastQuoteWrite = make(map[string]time.Time)
	b.lastGreeksAt = make(map[string]time.Time)
	b.shadow = make(map[string]*domain.Quote)
	b.clearBuffer()
}

// atmFromCandidates estimates the ATM as the median strike of the candidate
// keys, which the caller has already centered on the live spot.
func (b *Bridge) atmFromCandidates(candidateKeys []string, underlying string) float64 {
	strikes := make([]float64, 0, len(candidateKeys))
	for _, k := range candidateKeys {
		key := catalog.NormalizeKey(k)
		if key == underlying {
			continue
		}
		details, err := b.catalog.Details(key)
		if err != nil || details == nil || details.Strike <= 0 {
			continue
		}
		strikes = append(strikes, details.Strike)
	}
	if len(strikes) == 0 {
		return 0
	}
	sort.Float64s(strikes)
	return strikes[len(strikes)/2]
}

// rebuildWindow replaces the subscription set with the underlying plus the
// option chain rows around atm.
func (b *Bridge) rebuildWindow(ctx context.Context, atm float64) error {
	b.mu.Lock()
	underlying := b.underlyingKey
	expiry := b.expiry
	b.mu.Unlock()

	if expiry == "" {
		expiries, err := b.catalog.Expiries(underlying)
		if err != nil || len(expiries) == 0 {
			return fmt.Errorf("no expiries known for %s: %w", underlying, ports.ErrNotFound)
		}
		expiry = expiries[0]
		b.mu.Lock()
		b.expiry = expiry
		b.mu.Unlock()
	}

	rows, err := b.catalog.OptionChainWindow(underlying, expiry, atm, b.window)
	if err != nil {
		return fmt.Errorf("option chain window build failed: %w", err)
	}

	subs := map[string]struct{}{underlying: {}}
	for _, row := range rows {
		if row.CallKey != "" {
			subs[row.CallKey] = struct{}{}
		}
		if row.PutKey != "" {
			subs[row.PutKey] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs = subs
	b.mu.Unlock()

	b.logger.Info(ctx, "Subscription window built", map[string]interface{}{
		"feedID": b.id, "atm": atm, "expiry": expiry, "count": len(subs)})
	return nil
}

func (b *Bridge) subscriptionKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.subs))
	for k := range b.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev != s {
		b.logger.Info(context.Background(), "Feed connection state changed", map[string]interface{}{
			"feedID": b.id, "from": string(prev), "to": string(s)})
	}
}

// broadcastFeedState sends a versioned FEED_STATE so the client can discard
// out-of-order state messages.
func (b *Bridge) broadcastFeedState(ctx context.Context, status string, atm float64, strikes []float64, reason string) {
	b.mu.Lock()
	b.stateVersion++
	version := b.stateVersion
	b.mu.Unlock()

	if strikes == nil {
		strikes = []float64{}
	}
	b.sendEvent(ctx, EventFeedState, StatePayload{
		Version:     version,
		Status:      status,
		CurrentATM:  atm,
		LiveStrikes: strikes,
		Reason:      reason,
		Timestamp:   b.now().UnixMilli(),
	})
}

func (b *Bridge) sendEvent(ctx context.Context, eventType string, payload interface{}) {
	if !b.session.IsOpen() {
		return
	}
	if err := b.session.Send(ctx, ports.Event{Type: eventType, Payload: payload}); err != nil {
		b.logger.Debug(ctx, "Client event send failed", map[string]interface{}{
			"feedID": b.id, "event": eventType, "error": err.Error()})
	}
}

func (b *Bridge) clearBuffer() {
	b.bufMu.Lock()
	b.buffer = make(map[string]*InstrumentUpdate)
	b.bufMu.Unlock()
}

// hysteresisThreshold is how far the ATM must move before a reset fires.
func hysteresisThreshold(step float64) float64 {
	return step / 2
}
