package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"deepresearch/internal/engine"
	"deepresearch/internal/store"
)

// Scheduler periodically re-runs standing queries whose cron schedule
// is due.
type Scheduler struct {
	Store        *store.PostgresStore
	Master       *engine.MasterPipeline
	Logger       *log.Logger
	PollInterval time.Duration
	Stop         chan struct{}
}

func (s *Scheduler) Start() {
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	queries, err := s.Store.ListStandingQueries(ctx)
	if err != nil {
		s.Logger.Printf("listing standing queries: %v", err)
		return
	}
	for _, q := range queries {
		var last *time.Time
		if q.LastRunAt.Valid {
			t := q.LastRunAt.Time
			last = &t
		}
		if !isDue(q.CronSpec, last) {
			continue
		}
		if err := s.Store.TouchStandingQuery(ctx, q.ID); err != nil {
			s.Logger.Printf("touching query %s: %v", q.ID, err)
			continue
		}
		go func(q store.StandingQuery) {
			if _, err := s.Master.Run(ctx, q.Query, nil); err != nil {
				s.Logger.Printf("scheduled run %s: %v", q.ID, err)
				return
			}
			s.Logger.Printf("scheduled run %s complete", q.ID)
		}(q)
	}
}

// isDue reports whether a query with the given cron spec should run
// now, given its last run time. Invalid specs fall back to daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
