package accesslog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Pruner deletes access log records older than the retention window on a
// cron schedule. A retention of zero days disables it.
type Pruner struct {
	storage       Storage
	retentionDays int
	schedule      string
	cron          *cron.Cron
}

// NewPruner creates a pruner. schedule is a cron spec ("@hourly" by default
// from config).
func NewPruner(storage Storage, retentionDays int, schedule string) *Pruner {
	return &Pruner{
		storage:       storage,
		retentionDays: retentionDays,
		schedule:      schedule,
		cron:          cron.New(),
	}
}

// Start schedules pruning. No-op when retention is disabled.
func (p *Pruner) Start() error {
	if p.retentionDays <= 0 {
		log.Info().Msg("access log retention pruning disabled")
		return nil
	}

	_, err := p.cron.AddFunc(p.schedule, p.prune)
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()

	log.Info().
		Int("retention_days", p.retentionDays).
		Str("schedule", p.schedule).
		Msg("access log retention pruning scheduled")
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Pruner) prune() {
	cutoff := time.Now().AddDate(0, 0, -p.retentionDays)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := p.storage.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("access log pruning failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned access log records")
	}
}
