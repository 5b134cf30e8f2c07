package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs a cycle function on a fixed interval, starting with an
// immediate run. Cycles never overlap; a slow cycle delays the next tick.
type Poller struct {
	logger   *zap.Logger
	interval time.Duration
	cycle    func(context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewPoller(logger *zap.Logger, interval time.Duration, cycle func(context.Context)) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		logger:   logger,
		interval: interval,
		cycle:    cycle,
	}
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.loop(ctx)
	p.logger.Info("poller started", zap.Duration("interval", p.interval))
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	p.cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// Stop cancels the loop and waits for any in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("poller stopped")
}
