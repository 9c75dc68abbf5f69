package execution

import (
	"context"
	"sync"
	"time"

	"optionsim/internal/ports"
)

const defaultMonitorInterval = time.Second

// Monitor periodically re-evaluates every instrument with open orders.
// Decoupling execution from the tick stream keeps order checking at a fixed
// cost no matter how fast ticks arrive.
type Monitor struct {
	engine   *Engine
	store    ports.OrderRepository
	logger   ports.Logger
	interval time.Duration
}

// NewMonitor creates a monitor driving the given engine.
func NewMonitor(engine *Engine, store ports.OrderRepository, logger ports.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &Monitor{engine: engine, store: store, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled, dispatching one sweep per interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info(ctx, "Execution monitor started", map[string]interface{}{"interval": m.interval.String()})
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Execution monitor stopped")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep dispatches an independent execution check per instrument and waits
// for the batch so sweeps never pile up on a slow store.
func (m *Monitor) sweep(ctx context.Context) {
	keys, err := m.store.InstrumentsWithOpenOrders(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to query instruments with open orders")
		return
	}
	if len(keys) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(instrumentKey string) {
			defer wg.Done()
			m.engine.CheckInstrument(ctx, instrumentKey)
		}(key)
	}
	wg.Wait()
}
