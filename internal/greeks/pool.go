package greeks

import (
	"context"
	"sync"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

// Request asks the pool to compute greeks for one option tick.
type Request struct {
	InstrumentKey string
	Spot          float64
	Strike        float64
	DaysToExpiry  float64
	OptionLTP     float64
	OptionType    domain.OptionType
}

// Result carries the computed greeks back to the submitter.
type Result struct {
	InstrumentKey string
	Greeks        domain.Greeks
}

// Pool fans greeks computations out over a fixed set of workers. Submit
// never blocks: when the queue is full the request is dropped, because a
// fresher tick for the same instrument is already on its way.
type Pool struct {
	calc    *Calculator
	logger  ports.Logger
	jobs    chan Request
	results chan Result

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts workers goroutines computing greeks.
func NewPool(workers int, calc *Calculator, logger ports.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		calc:    calc,
		logger:  logger,
		jobs:    make(chan Request, workers*64),
		results: make(chan Result, workers*64),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		g := p.calc.Calculate(req.Spot, req.Strike, req.DaysToExpiry, req.OptionLTP, req.OptionType)
		select {
		case p.results <- Result{InstrumentKey: req.InstrumentKey, Greeks: g}:
		default:
			// Result consumer is behind; drop rather than stall the workers.
		}
	}
}

// Submit queues a computation. Returns false if the pool is saturated or
// closed and the request was dropped.
func (p *Pool) Submit(ctx context.Context, req Request) bool {
	defer func() {
		// Submitting to a closed pool is a benign race during shutdown.
		_ = recover()
	}()
	select {
	case p.jobs <- req:
		return true
	default:
		p.logger.Debug(ctx, "Greeks pool saturated, dropping request", map[string]interface{}{"instrument": req.InstrumentKey})
		return false
	}
}

// Results returns the channel of computed greeks.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops the workers and, once they drain, closes the results channel.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		go func() {
			p.wg.Wait()
			close(p.results)
		}()
	})
}
