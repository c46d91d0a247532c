package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/armansaberi/prism/internal/store"
)

// Scheduler re-ingests recurring scrape sources. Each tick it scans the
// source table and fires the pipeline for every due entry.
type Scheduler struct {
	Store    *store.Store
	Pipeline Ingestor
	Rdb      *redis.Client
	Stop     chan struct{}
	OnRun    func(outcome string)

	Interval time.Duration
	logger   *log.Logger
}

func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	ticker := time.NewTicker(s.Interval)
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
	sources, err := s.Store.ListSources(ctx)
	if err != nil {
		s.logger.Printf("listing sources: %v", err)
		return
	}
	for _, src := range sources {
		if !isDue(src.CronSpec, src.LastRunAt) {
			continue
		}

		// distributed lock to avoid duplicate runs across replicas
		if s.Rdb != nil {
			lockKey := "sched:lock:" + src.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		if err := s.Store.MarkSourceRun(ctx, src.ID, time.Now()); err != nil {
			s.logger.Printf("marking source %s: %v", src.ID, err)
			continue
		}

		go func(src store.ScrapeSource) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			res := s.Pipeline.IngestOne(ctx, src.URL, src.Metadata)
			outcome := "ok"
			if !res.Success {
				outcome = "failed"
				s.logger.Printf("scheduled scrape of %s failed: %s", src.URL, res.Error)
			}
			if s.OnRun != nil {
				s.OnRun(outcome)
			}
		}(src)
	}
}

// isDue determines whether a source with cronSpec should run now given
// its last run time. Supports "@daily", "@hourly", and standard 5-field
// cron expressions.
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
			// invalid specs degrade to @daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
