package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tickResultsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chat_delivery",
		Name:      "scheduler_ticks_total",
		Help:      "Scheduler ticks by job and result.",
	},
	[]string{"job", "result"}, // ok, error, panic
)

// TickFunc runs one scheduled pass. A returned error is logged; the
// scheduler keeps running.
type TickFunc func(ctx context.Context) error

type Option func(*Scheduler)

func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   TickFunc
	logger   *slog.Logger

	running  atomic.Bool
	lastTick atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn TickFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	s := &Scheduler{
		name:     "scheduler",
		interval: interval,
		tickFn:   tickFn,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler", "job", s.name)
	return s, nil
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

		s.logger.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
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

	s.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// LastTick returns when the last pass finished, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			tickResultsCounter.WithLabelValues(s.name, "panic").Inc()
			s.logger.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	err := s.tickFn(ctx)
	s.lastTick.Store(time.Now().UnixNano())
	if err != nil {
		tickResultsCounter.WithLabelValues(s.name, "error").Inc()
		s.logger.Warn("scheduler tick failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	tickResultsCounter.WithLabelValues(s.name, "ok").Inc()
	s.logger.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
