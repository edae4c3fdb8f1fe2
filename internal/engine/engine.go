package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Default pacing of the coordinator.
const (
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Stream is one kind of work bound to the engine. Next returns ok=false when
// no task is currently available. Execute runs on a pool goroutine and must
// not touch shared state; Next and Save run on the coordinator only.
type Stream[T, R any] interface {
	Name() string
	Next(ctx context.Context) (task T, ok bool, err error)
	Execute(ctx context.Context, task T) (R, error)
	Save(ctx context.Context, task T, start, end time.Time, result R) error
}

// KeepAliver renews the process's leases.
type KeepAliver interface {
	WorkerKeepAlive(ctx context.Context) error
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// WithConcurrency sets the pool size. Values below 1 select runtime.NumCPU.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithPollInterval sets how often an idle coordinator re-polls the stream.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithHeartbeatInterval sets how often the coordinator renews the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// Engine runs streams to exhaustion.
type Engine struct {
	keeper KeepAliver
	logger *slog.Logger
	opts   options
}

// New creates an engine that heartbeats through keeper.
func New(keeper KeepAliver, logger *slog.Logger, opts ...Option) *Engine {
	o := options{
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = runtime.NumCPU()
	}
	return &Engine{keeper: keeper, logger: logger, opts: o}
}

// Concurrency returns the pool size.
func (e *Engine) Concurrency() int { return e.opts.concurrency }

type outcome[T, R any] struct {
	task   T
	start  time.Time
	end    time.Time
	result R
	err    error
}

// Run drives s until it stops producing tasks and every dispatched task has
// been saved, returning the number of saved results. Any error from the
// stream or the heartbeat aborts the run; tasks still executing are awaited
// and their results discarded.
func Run[T, R any](ctx context.Context, e *Engine, s Stream[T, R]) (saved int, err error) {
	p := e.opts.concurrency
	name := s.Name()
	logger := e.logger.With("stream", name)

	// ready never holds more than p tasks and results never more than p
	// outcomes, so neither side blocks on a send.
	ready := make(chan T, p)
	results := make(chan outcome[T, R], p)
	inFlight := 0

	refill := func() error {
		for inFlight < p {
			task, ok, err := s.Next(ctx)
			if err != nil {
				return fmt.Errorf("%s: next: %w", name, err)
			}
			if !ok {
				return nil
			}
			ready <- task
			inFlight++
		}
		return nil
	}

	if err := refill(); err != nil {
		return 0, err
	}
	if inFlight == 0 {
		logger.Debug("no work")
		return 0, nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for range p {
		wg.Go(func() {
			for task := range ready {
				start := time.Now()
				result, err := s.Execute(poolCtx, task)
				end := time.Now()
				tasksExecutedTotal.WithLabelValues(name).Inc()
				taskDuration.WithLabelValues(name).Observe(end.Sub(start).Seconds())
				results <- outcome[T, R]{task: task, start: start, end: end, result: result, err: err}
			}
		})
	}
	defer func() {
		close(ready)
		cancel()
		wg.Wait()
		logger.Info("engine finished", "saved", saved)
	}()

	save := func(o outcome[T, R]) error {
		inFlight--
		if o.err != nil {
			return fmt.Errorf("%s: execute: %w", name, o.err)
		}
		if err := s.Save(ctx, o.task, o.start, o.end, o.result); err != nil {
			return fmt.Errorf("%s: save: %w", name, err)
		}
		saved++
		tasksSavedTotal.WithLabelValues(name).Inc()
		return nil
	}

	poll := time.NewTicker(e.opts.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(e.opts.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return saved, ctx.Err()

		case <-heartbeat.C:
			if err := e.keeper.WorkerKeepAlive(ctx); err != nil {
				return saved, fmt.Errorf("%s: heartbeat: %w", name, err)
			}
			heartbeatsTotal.Inc()
			continue

		case o := <-results:
			if err := save(o); err != nil {
				return saved, err
			}
		drain:
			for {
				select {
				case o := <-results:
					if err := save(o); err != nil {
						return saved, err
					}
				default:
					break drain
				}
			}

		case <-poll.C:
		}

		if err := refill(); err != nil {
			return saved, err
		}
		if inFlight == 0 {
			return saved, nil
		}
	}
}
