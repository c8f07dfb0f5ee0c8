/**
 * @description
 * Cron-backed poller for the settlement tick. A single `@every` job runs
 * the tick sequentially: SkipIfStillRunning guarantees ticks never overlap,
 * and Recover keeps a panicking tick from taking the process down.
 *
 * The service assumes one active poller per chain. Running two instances
 * against the same chain/database stays correct (every write is an
 * idempotent upsert keyed by natural identity) but wastes upstream query
 * bandwidth. An operational constraint, not a correctness one.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller schedules the settlement tick at a fixed interval.
type Poller struct {
	cron        *cron.Cron
	service     *Service
	interval    time.Duration
	tickTimeout time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller running one tick every interval, each tick
// bounded by tickTimeout.
func NewPoller(service *Service, interval, tickTimeout time.Duration, logger *slog.Logger) *Poller {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))
	return &Poller{
		cron:        c,
		service:     service,
		interval:    interval,
		tickTimeout: tickTimeout,
		logger:      logger,
	}
}

// Start registers the tick job and starts the scheduler.
func (p *Poller) Start() error {
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return fmt.Errorf("schedule settlement tick: %w", err)
	}
	p.cron.Start()
	p.logger.Info("settlement poller started", "interval", p.interval.String())
	return nil
}

// Stop stops scheduling new ticks and returns a context that is done once
// the in-flight tick (if any) has finished.
func (p *Poller) Stop() context.Context {
	return p.cron.Stop()
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.tickTimeout)
	defer cancel()

	if err := p.service.Tick(ctx); err != nil {
		// Tick failures are retried on the next interval from the unchanged
		// cursor; nothing is lost.
		p.logger.Error("settlement tick failed", "err", err)
	}
}
