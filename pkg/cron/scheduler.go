// Package cron drives the import worker poll loop using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// PollFunc processes at most one unit of work. It reports whether work was
// found so the scheduler can drain a backlog without waiting for the next tick.
type PollFunc func(ctx context.Context) (worked bool)

// Scheduler runs a PollFunc on a schedule, never concurrently with itself.
// A started job always runs to completion; stopping only prevents new ones.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	poll     PollFunc
	maxDrain int
	logger   *slog.Logger

	stopping atomic.Bool
	wg       sync.WaitGroup
}

// NewScheduler creates a poll scheduler. maxDrain caps how many consecutive
// jobs a single tick may process.
func NewScheduler(schedule string, poll PollFunc, maxDrain int, logger *slog.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if maxDrain <= 0 {
		maxDrain = 1
	}

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		poll:     poll,
		maxDrain: maxDrain,
		logger:   logger,
	}
}

// Start begins polling.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("poll scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("max_drain", s.maxDrain),
	)
	return nil
}

// Stop stops scheduling new ticks and claiming new jobs. The returned context
// is done once the in-flight job has finished; that job is never cancelled.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("poll scheduler stopping")
	s.stopping.Store(true)
	done := s.cron.Stop()

	finished, markFinished := context.WithCancel(context.Background())
	go func() {
		<-done.Done()
		s.wg.Wait()
		markFinished()
	}()
	return finished
}

// RunNow triggers a tick outside the schedule.
func (s *Scheduler) RunNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
	}()
}

func (s *Scheduler) tick() {
	for i := 0; i < s.maxDrain; i++ {
		if s.stopping.Load() {
			return
		}

		// A claimed job must reach a terminal status, so its context is
		// detached from shutdown.
		if !s.poll(context.Background()) {
			return
		}
	}
	s.logger.Debug("poll tick reached drain limit", slog.Int("max_drain", s.maxDrain))
}
