package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"optionsim/config"
	"optionsim/internal/adapters/feedwire"
	"optionsim/internal/adapters/logger"
	"optionsim/internal/adapters/memcache"
	"optionsim/internal/adapters/sqlite"
	"optionsim/internal/adapters/wssession"
	"optionsim/internal/catalog"
	"optionsim/internal/execution"
	"optionsim/internal/feed"
	"optionsim/internal/greeks"
	"optionsim/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath:          cfg.DBPath,
		Logger:          appLogger,
		StartingBalance: decimal.NewFromFloat(cfg.StartingBalance),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Load Instrument Catalog
	cat, err := catalog.Load(cfg.CatalogPath, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to load instrument catalog")
		log.Fatalf("FATAL: Failed to load instrument catalog: %v", err)
	}

	// 5. In-process quote store and lock table
	quotes := memcache.NewQuoteCache()
	locks := memcache.NewLockTable()

	// 6. Execution Engine + Monitor
	engine, err := execution.NewEngine(execution.Config{
		Store:    repo,
		Quotes:   quotes,
		Locker:   locks,
		Catalog:  cat,
		Slippage: execution.NewSlippageModel(rand.New(rand.NewSource(time.Now().UnixNano()))),
		Logger:   appLogger,
		LockTTL:  cfg.LockTTL,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}
	monitor := execution.NewMonitor(engine, repo, appLogger, cfg.MonitorInterval)

	// 7. Upstream feed dialer
	dialer, err := feedwire.NewDialer(feedwire.Config{
		APIBase:     cfg.FeedAPIBase,
		AccessToken: func() string { return cfg.AccessToken },
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize feed dialer")
		log.Fatalf("FATAL: Failed to initialize feed dialer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)

	srv := &server{
		cfg:     cfg,
		logger:  appLogger,
		dialer:  dialer,
		catalog: cat,
		quotes:  quotes,
		calc:    greeks.NewCalculator(cfg.RiskFreeRate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The simulator fronts a local UI; origin enforcement is left to
			// the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(context.Background(), err, "HTTP server shutdown failed")
		}
	}()

	appLogger.Info(ctx, "Server listening", map[string]interface{}{"addr": cfg.ListenAddr})
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Error(context.Background(), err, "HTTP server exited with error")
		log.Fatalf("FATAL: HTTP server exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

type server struct {
	cfg      *config.Config
	logger   ports.Logger
	dialer   ports.FeedDialer
	catalog  ports.InstrumentCatalog
	quotes   ports.QuoteStore
	calc     *greeks.Calculator
	upgrader websocket.Upgrader
}

// clientCommand is an inbound control message on the client websocket.
type clientCommand struct {
	Action        string   `json:"action"`
	Keys          []string `json:"keys,omitempty"`
	Underlying    string   `json:"underlying,omitempty"`
	CandidateKeys []string `json:"candidate_keys,omitempty"`
}

// handleWS upgrades the connection and runs one feed session for its
// lifetime. Each client gets its own bridge and greeks pool; the quote store
// and execution engine are shared.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	session := wssession.New(ws)
	defer session.Close()

	ctx := r.Context()
	if err := session.Send(ctx, ports.Event{Type: feed.EventWSConnected}); err != nil {
		return
	}

	underlying := r.URL.Query().Get("underlying")
	if underlying == "" {
		underlying = s.cfg.DefaultUnderlying
	}

	pool := greeks.NewPool(s.cfg.GreeksWorkers, s.calc, s.logger)
	defer pool.Close()

	bridge, err := feed.NewBridge(feed.Config{
		Dialer:            s.dialer,
		Catalog:           s.catalog,
		Quotes:            s.quotes,
		Session:           session,
		Greeks:            pool,
		Logger:            s.logger,
		UnderlyingKey:     underlying,
		Expiry:            r.URL.Query().Get("expiry"),
		StrikeWindow:      s.cfg.StrikeWindow,
		BroadcastInterval: s.cfg.BroadcastInterval,
		QuoteTTL:          s.cfg.QuoteTTL,
		ResetCooldown:     s.cfg.ResetCooldown,
		ResetTimeout:      s.cfg.ResetTimeout,
		Hours: feed.MarketHours{
			Location:  s.cfg.MarketLocation(),
			ForceOpen: s.cfg.ForceMarketOpen,
		},
	})
	if err != nil {
		s.logger.Error(ctx, err, "Feed bridge construction failed", map[string]interface{}{"underlying": underlying})
		return
	}
	defer bridge.Stop()

	started := false
	for {
		var cmd clientCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			s.logger.Info(ctx, "Client disconnected", map[string]interface{}{"error": err.Error()})
			return
		}
		switch cmd.Action {
		case "subscribe":
			if err := bridge.Subscribe(ctx, cmd.Keys); err != nil {
				s.logger.Warn(ctx, "Subscribe rejected", map[string]interface{}{"error": err.Error()})
				continue
			}
			if !started {
				if err := bridge.Start(ctx); err != nil {
					s.logger.Error(ctx, err, "Feed bridge start failed")
					return
				}
				started = true
			}
		case "switch_underlying":
			if err := bridge.SwitchUnderlying(ctx, cmd.Underlying, cmd.CandidateKeys); err != nil {
				s.logger.Warn(ctx, "Switch rejected", map[string]interface{}{
					"underlying": cmd.Underlying, "error": err.Error()})
			}
		case "unsubscribe":
			_ = bridge.Unsubscribe(ctx, cmd.Keys)
		default:
			s.logger.Warn(ctx, "Unknown client command", map[string]interface{}{"action": cmd.Action})
		}
	}
}
