package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reloader re-reads job definitions and reconciles timers against them.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Poller periodically re-syncs the scheduler with the store so edits made
// outside this process (another instance, a migration, a manual UPDATE) take
// effect without a restart.
type Poller struct {
	reloader Reloader
	logger   *logrus.Logger
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(reloader Reloader, logger *logrus.Logger, interval time.Duration) *Poller {
	return &Poller{
		reloader: reloader,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the sync loop. It runs until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.update(ctx)
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
	}
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Poller) update(ctx context.Context) {
	p.logger.Debug("Starting job configuration sync")
	start := time.Now()

	if err := p.reloader.Reload(ctx); err != nil {
		p.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("Job configuration sync failed")
		return
	}

	p.logger.WithField("duration", time.Since(start).String()).Debug("Completed job configuration sync")
}
