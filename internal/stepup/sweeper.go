package stepup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically expires overdue pending challenges so that the
// pending queue and the audit surface reflect reality even when nobody
// is awaiting a given challenge.
type Sweeper struct {
	store *Store
	cron  *cron.Cron
}

// NewSweeper creates a sweeper that runs every minute.
func NewSweeper(store *Store) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{store: store, cron: c}
	if _, err := c.AddFunc("* * * * *", s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the background schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Debug().Msg("challenge_sweeper_started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.ExpireOverdue(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("challenge_sweep_failed")
		return
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("challenges_expired")
	}
}
