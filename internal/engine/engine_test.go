package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/xyfleet/internal/engine"
)

// sliceStream hands out the integers 1..n and squares them.
type sliceStream struct {
	n        int
	next     int
	delay    time.Duration
	execErr  error
	saveErr  error
	nextErr  error
	running  atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	saved    []int
	nextCall int
}

func (s *sliceStream) Name() string { return "slice" }

func (s *sliceStream) Next(context.Context) (int, bool, error) {
	s.nextCall++
	if s.nextErr != nil {
		return 0, false, s.nextErr
	}
	if s.next >= s.n {
		return 0, false, nil
	}
	s.next++
	return s.next, true, nil
}

func (s *sliceStream) Execute(ctx context.Context, task int) (int, error) {
	cur := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if s.execErr != nil {
		return 0, s.execErr
	}
	return task * task, nil
}

func (s *sliceStream) Save(_ context.Context, task int, start, end time.Time, result int) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if end.Before(start) || result != task*task {
		return errors.New("bad outcome")
	}
	s.mu.Lock()
	s.saved = append(s.saved, task)
	s.mu.Unlock()
	return nil
}

type countingKeeper struct {
	calls atomic.Int32
	err   error
}

func (k *countingKeeper) WorkerKeepAlive(context.Context) error {
	k.calls.Add(1)
	return k.err
}

func newTestEngine(t *testing.T, k engine.KeepAliver, opts ...engine.Option) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]engine.Option{engine.WithPollInterval(5 * time.Millisecond)}, opts...)
	return engine.New(k, logger, opts...)
}

func TestRunSavesEveryTask(t *testing.T) {
	s := &sliceStream{n: 25, delay: time.Millisecond}
	e := newTestEngine(t, &countingKeeper{}, engine.WithConcurrency(4))

	saved, err := engine.Run(context.Background(), e, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved != 25 || len(s.saved) != 25 {
		t.Fatalf("saved = %d (%d recorded), want 25", saved, len(s.saved))
	}
	seen := make(map[int]bool)
	for _, v := range s.saved {
		if seen[v] {
			t.Errorf("task %d saved twice", v)
		}
		seen[v] = true
	}
	if peak := s.peak.Load(); peak > 4 {
		t.Errorf("peak concurrency %d exceeds pool size 4", peak)
	}
}

func TestRunEmptyStream(t *testing.T) {
	s := &sliceStream{}
	e := newTestEngine(t, &countingKeeper{})

	saved, err := engine.Run(context.Background(), e, s)
	if err != nil || saved != 0 {
		t.Fatalf("Run = %d, %v; want 0, nil", saved, err)
	}
	if s.nextCall != 1 {
		t.Errorf("Next called %d times on an empty stream, want 1", s.nextCall)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		stream *sliceStream
	}{
		{"next", &sliceStream{n: 3, nextErr: boom}},
		{"execute", &sliceStream{n: 3, execErr: boom}},
		{"save", &sliceStream{n: 3, saveErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &countingKeeper{}, engine.WithConcurrency(2))
			_, err := engine.Run(context.Background(), e, tt.stream)
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want boom", err)
			}
		})
	}
}

func TestRunHeartbeats(t *testing.T) {
	k := &countingKeeper{}
	s := &sliceStream{n: 2, delay: 100 * time.Millisecond}
	e := newTestEngine(t, k, engine.WithConcurrency(1), engine.WithHeartbeatInterval(10*time.Millisecond))

	if _, err := engine.Run(context.Background(), e, s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if k.calls.Load() == 0 {
		t.Error("no heartbeat sent during a long run")
	}
}

func TestRunHeartbeatFailureIsFatal(t *testing.T) {
	lost := errors.New("worker gone")
	s := &sliceStream{n: 1, delay: time.Second}
	e := newTestEngine(t, &countingKeeper{err: lost}, engine.WithConcurrency(1), engine.WithHeartbeatInterval(5*time.Millisecond))

	if _, err := engine.Run(context.Background(), e, s); !errors.Is(err, lost) {
		t.Fatalf("err = %v, want heartbeat error", err)
	}
}

// chainStream produces a follow-up task only after the previous one was
// saved, so it runs dry between saves while work is still in flight.
type chainStream struct {
	limit   int
	pending bool
	issued  int
}

func (c *chainStream) Name() string { return "chain" }

func (c *chainStream) Next(context.Context) (int, bool, error) {
	if c.pending || c.issued >= c.limit {
		return 0, false, nil
	}
	c.pending = true
	c.issued++
	return c.issued, true, nil
}

func (c *chainStream) Execute(_ context.Context, task int) (int, error) { return task, nil }

func (c *chainStream) Save(context.Context, int, time.Time, time.Time, int) error {
	c.pending = false
	return nil
}

func TestRunRepollsAfterSave(t *testing.T) {
	c := &chainStream{limit: 5}
	e := newTestEngine(t, &countingKeeper{}, engine.WithConcurrency(3))

	saved, err := engine.Run(context.Background(), e, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved != 5 {
		t.Errorf("saved = %d, want 5", saved)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &sliceStream{n: 100, delay: 50 * time.Millisecond}
	e := newTestEngine(t, &countingKeeper{}, engine.WithConcurrency(2))

	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := engine.Run(ctx, e, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDefaultConcurrency(t *testing.T) {
	e := engine.New(&countingKeeper{}, slog.New(slog.NewTextHandler(io.Discard, nil)), engine.WithConcurrency(0))
	if e.Concurrency() < 1 {
		t.Errorf("Concurrency = %d", e.Concurrency())
	}
}
