// Package scheduler runs periodic background jobs such as the escrow expiry
// sweep, each on its own ticker.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named periodic task. A job with a non-positive interval is
// disabled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs until its context is cancelled.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger
}

// New creates a Scheduler.
func New(logger zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs every enabled job once immediately and then on its interval.
// It blocks until ctx is cancelled and all job runs have returned.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info().Str("job", job.Name).Msg("job disabled")
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.logger.With().Str("job", job.Name).Logger()
	log.Info().Dur("interval", job.Interval).Msg("job started")

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, log, job)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("job shutting down")
			return
		case <-ticker.C:
			s.runOnce(ctx, log, job)
		}
	}
}

// runOnce runs a job, turning a panic into a logged error so one bad run does
// not stop the ticker.
func (s *Scheduler) runOnce(ctx context.Context, log zerolog.Logger, job Job) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Bytes("stack", debug.Stack()).Msg("job panicked")
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return job.Run(ctx)
	}()
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Dur("took", time.Since(start)).Msg("job finished")
}
