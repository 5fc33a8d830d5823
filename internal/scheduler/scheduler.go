package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs tickFn once on Start and then every interval until Stop.
// A tick that panics is recovered and counted as a failed run.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context) error
	log      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

type Stats struct {
	Running      bool      `json:"running"`
	Interval     string    `json:"interval"`
	Runs         int64     `json:"runs"`
	Failures     int64     `json:"failures"`
	LastRun      time.Time `json:"lastRun,omitzero"`
	LastDuration string    `json:"lastDuration,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

func New(interval time.Duration, tickFn func(context.Context) error, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		log:      logger,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("reconciler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("reconciler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("reconciler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := s.stats
	out.Running = s.running.Load()
	out.Interval = s.interval.String()
	return out
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	err := s.runTick(ctx)
	elapsed := time.Since(start)

	s.statsMu.Lock()
	s.stats.Runs++
	s.stats.LastRun = start.UTC()
	s.stats.LastDuration = elapsed.String()
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()

	if err != nil {
		s.log.Error("reconcile tick failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	s.log.Info("reconcile tick completed", "duration_ms", elapsed.Milliseconds())
}

func (s *Scheduler) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return s.tickFn(ctx)
}
