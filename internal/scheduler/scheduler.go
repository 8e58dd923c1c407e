// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lorepin/lorepin/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const defaultBatch = 50

// VideoRefresher completes pending video analyses.
type VideoRefresher interface {
	RefreshPendingVideos(ctx context.Context, limit int) (int, error)
}

// VideoPoller periodically polls running video moderation jobs.
type VideoPoller struct {
	cron    *cron.Cron
	refresh VideoRefresher
	batch   int
	timeout time.Duration
	running atomic.Bool
}

// NewVideoPoller schedules refresh according to cfg.VideoPollSpec.
func NewVideoPoller(cfg *config.SchedulerConfig, refresh VideoRefresher) (*VideoPoller, error) {
	p := &VideoPoller{
		cron:    cron.New(),
		refresh: refresh,
		batch:   cfg.VideoPollBatch,
		timeout: 5 * time.Minute,
	}
	if p.batch <= 0 {
		p.batch = defaultBatch
	}

	if _, err := p.cron.AddFunc(cfg.VideoPollSpec, func() { p.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("failed to schedule video poller %q: %w", cfg.VideoPollSpec, err)
	}
	return p, nil
}

// Run performs a single polling pass. A pass that starts while another is
// still running is skipped.
func (p *VideoPoller) Run(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		log.Debug().Msg("Video poll already running, skipping")
		return
	}
	defer p.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	finished, err := p.refresh.RefreshPendingVideos(ctx, p.batch)
	if err != nil {
		log.Error().Err(err).Msg("Video poll failed")
		return
	}
	if finished > 0 {
		log.Info().Int("finished", finished).Dur("took", time.Since(start)).Msg("Video analyses completed")
	}
}

// Start begins running scheduled passes in the background.
func (p *VideoPoller) Start() {
	p.cron.Start()
	log.Info().Int("batch", p.batch).Msg("Video poller started")
}

// Stop prevents new passes and waits for a running pass until ctx is done.
func (p *VideoPoller) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Video poller did not stop in time")
	}
}
