package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Retention prunes old records from the sink on a cron schedule.
type Retention struct {
	cron   *cron.Cron
	sink   Sink
	maxAge time.Duration
}

// StartRetention schedules pruning of records older than maxAge. schedule is
// standard cron syntax, e.g. "0 3 * * *" for daily at 3 AM.
func StartRetention(sink Sink, schedule string, maxAge time.Duration) (*Retention, error) {
	r := &Retention{
		cron:   cron.New(),
		sink:   sink,
		maxAge: maxAge,
	}
	if _, err := r.cron.AddFunc(schedule, r.prune); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	log.Info().Str("schedule", schedule).Dur("max_age", maxAge).Msg("analytics retention started")
	return r, nil
}

func (r *Retention) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-r.maxAge)
	deleted, err := r.sink.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("analytics retention prune failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned analytics records")
	}
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
