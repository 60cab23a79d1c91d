// Package janitor runs periodic cleanup: processed-event records past their
// retention, sessions past their TTL and pending messages too old to send.
package janitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/metrics"
)

// Job names, also used as metric labels.
const (
	JobPruneEvents   = "prune_events"
	JobPurgeSessions = "purge_sessions"
	JobExpirePending = "expire_pending"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SessionPurger is the part of the session store the janitor cleans.
type SessionPurger interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// PendingExpirer drops held outbound messages.
type PendingExpirer interface {
	Expire(ctx context.Context, olderThan time.Time) (int64, error)
}

// Opts configures a Janitor.
type Opts struct {
	Sessions   SessionPurger
	Pending    PendingExpirer
	Schedule   config.JanitorConfig
	SessionTTL time.Duration
	Metrics    *metrics.Metrics
	Timeout    time.Duration // per job; default 1m
	Now        func() time.Time
}

// Janitor schedules the cleanup jobs.
type Janitor struct {
	opts Opts
	cron *cron.Cron
	jobs map[string]func(ctx context.Context, now time.Time) (int64, error)

	mu      sync.Mutex
	running map[string]bool
}

// New validates the schedule and returns a Janitor. Jobs start with Start.
func New(opts Opts) (*Janitor, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("janitor: session store is required")
	}
	if opts.Pending == nil {
		return nil, fmt.Errorf("janitor: pending store is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	j := &Janitor{opts: opts, running: map[string]bool{}}
	j.jobs = map[string]func(context.Context, time.Time) (int64, error){
		JobPruneEvents: func(ctx context.Context, now time.Time) (int64, error) {
			return opts.Sessions.PruneEvents(ctx, now.Add(-hours(opts.Schedule.EventRetentionHours)))
		},
		JobPurgeSessions: func(ctx context.Context, now time.Time) (int64, error) {
			if opts.SessionTTL <= 0 {
				return 0, nil
			}
			return opts.Sessions.Purge(ctx, now.Add(-opts.SessionTTL))
		},
		JobExpirePending: func(ctx context.Context, now time.Time) (int64, error) {
			return opts.Pending.Expire(ctx, now.Add(-hours(opts.Schedule.PendingMaxAgeHours)))
		},
	}

	j.cron = cron.New(cron.WithParser(cronParser))
	for name, spec := range map[string]string{
		JobPruneEvents:   opts.Schedule.PruneEventsCron,
		JobPurgeSessions: opts.Schedule.PurgeSessionsCron,
		JobExpirePending: opts.Schedule.ExpirePendingCron,
	} {
		if spec == "" {
			continue
		}
		name := name
		if _, err := j.cron.AddFunc(spec, func() { j.Run(context.Background(), name) }); err != nil {
			return nil, fmt.Errorf("janitor: schedule %s %q: %w", name, spec, err)
		}
	}
	return j, nil
}

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }

// Start runs the scheduler until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	j.cron.Start()
	log.Printf("janitor: started with %d jobs", len(j.cron.Entries()))
	go func() {
		<-ctx.Done()
		<-j.cron.Stop().Done()
		log.Printf("janitor: stopped")
	}()
}

// Run executes one job now. A job that is still running from an earlier
// tick is skipped.
func (j *Janitor) Run(ctx context.Context, name string) (int64, error) {
	fn, ok := j.jobs[name]
	if !ok {
		return 0, fmt.Errorf("janitor: unknown job %q", name)
	}
	j.mu.Lock()
	if j.running[name] {
		j.mu.Unlock()
		j.opts.Metrics.JanitorRun(name, "skipped")
		return 0, nil
	}
	j.running[name] = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		delete(j.running, name)
		j.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, j.opts.Timeout)
	defer cancel()
	n, err := fn(ctx, j.opts.Now())
	if err != nil {
		log.Printf("janitor: %s: %v", name, err)
		j.opts.Metrics.JanitorRun(name, "error")
		return 0, fmt.Errorf("janitor: %s: %w", name, err)
	}
	if n > 0 {
		log.Printf("janitor: %s removed %d rows", name, n)
	}
	j.opts.Metrics.JanitorRun(name, "ok")
	return n, nil
}

// Jobs returns the job names in run order.
func Jobs() []string {
	return []string{JobPruneEvents, JobPurgeSessions, JobExpirePending}
}
