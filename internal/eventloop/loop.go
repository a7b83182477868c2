// Package eventloop implements C1: a scheduler for deferred and delayed
// work with an "am I inside?" query and a best-effort liveness monitor
// (spec §4.1). Two backends share the Loop interface: a dedicated-thread
// reactor (NewSingle) and a worker pool (NewPool).
package eventloop

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loop is the scheduling contract both backends satisfy.
type Loop interface {
	// Post schedules fn to run after delay (0 for "as soon as possible")
	// and returns immediately.
	Post(delay time.Duration, fn func(ctx context.Context))

	// Async schedules fn and returns a Future resolved with its result.
	// The Future is cancellable: cancelling before fn starts prevents it
	// from ever running.
	Async(delay time.Duration, fn func(ctx context.Context) (any, error)) *Future[any]

	// IsInLoopThread reports whether ctx was produced by this Loop while
	// executing a Post/Async callback — i.e. whether the caller is
	// "already in" this loop (spec §4.4 sync/async decision, rule 1).
	IsInLoopThread(ctx context.Context) bool

	// NativeHandle is an escape hatch for components that share the
	// underlying reactor. The single-loop backend returns the loop itself;
	// pool backends return nil.
	NativeHandle() any

	// Stop shuts the loop down. If called from within the loop's own
	// thread, the actual teardown is deferred to a detached goroutine
	// since a goroutine cannot join itself (spec §4.1 "Destruction").
	Stop(ctx context.Context)
}

// Async is a generic convenience wrapper around Loop.Async for callers
// that want a typed Future without hand-rolling the any-to-T unwrap at
// every call site.
func Async[T any](l Loop, delay time.Duration, fn func(ctx context.Context) (T, error)) *Future[T] {
	p, f := NewPromise[T]()
	inner := l.Async(delay, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	go func() {
		v, err := inner.Wait(context.Background())
		if inner.Cancelled() {
			f.Cancel()
			return
		}
		if err != nil {
			p.SetError(err)
			return
		}
		t, _ := v.(T)
		p.SetValue(t)
	}()
	p.onCancel(func() { inner.Cancel() })
	return f
}

// loopKey identifies a specific Loop instance inside a context.Context.
// Because the stored value is the tagging loop itself (a *singleLoop
// pointer), equality is identity-based: only the loop that actually
// tagged the context claims "I am in the loop" for it.
type loopKey struct{}

func markContext(ctx context.Context, owner Loop) context.Context {
	return context.WithValue(ctx, loopKey{}, owner)
}

func ownerOf(ctx context.Context) Loop {
	l, _ := ctx.Value(loopKey{}).(Loop)
	return l
}

// ThreadCount resolves the configured worker/thread count: an explicit
// value of 0 means "max(3, hardwareConcurrency)", with
// EVENTLOOP_THREAD_COUNT overriding both (spec §4.1).
func ThreadCount(configured int) int {
	if v := os.Getenv("EVENTLOOP_THREAD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if configured > 0 {
		return configured
	}
	n := runtime.NumCPU()
	if n < 3 {
		n = 3
	}
	return n
}

// cpuAffinityDisabled reports whether EVENTLOOP_NO_CPU_AFFINITY is set.
// Actually pinning worker goroutines to CPUs requires platform-specific
// syscalls (golang.org/x/sys/unix.SchedSetaffinity) that are not portable
// across the targets this module builds for. Nothing in this package
// calls it and nothing logs the setting; affinity is left to the Go
// scheduler.
func cpuAffinityDisabled() bool {
	v, _ := strconv.ParseBool(os.Getenv("EVENTLOOP_NO_CPU_AFFINITY"))
	return v
}

// task is one queued unit of work for the single-loop backend.
type task struct {
	run func(ctx context.Context)
}

// singleLoop is a dedicated-thread reactor: exactly one goroutine
// services tasks, so IsInLoopThread can answer precisely via the
// context marker set when that goroutine invokes a callback.
type singleLoop struct {
	tasks   chan task
	stopped chan struct{}
	once    sync.Once
}

// NewSingle starts a single dedicated-thread event loop.
func NewSingle() Loop {
	l := &singleLoop{
		tasks:   make(chan task, 256),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *singleLoop) run() {
	ctx := markContext(context.Background(), l)
	for {
		select {
		case t, ok := <-l.tasks:
			if !ok {
				return
			}
			t.run(ctx)
		case <-l.stopped:
			return
		}
	}
}

func (l *singleLoop) Post(delay time.Duration, fn func(ctx context.Context)) {
	if delay <= 0 {
		select {
		case l.tasks <- task{run: fn}:
		case <-l.stopped:
		}
		return
	}
	time.AfterFunc(delay, func() {
		select {
		case l.tasks <- task{run: fn}:
		case <-l.stopped:
		}
	})
}

func (l *singleLoop) Async(delay time.Duration, fn func(ctx context.Context) (any, error)) *Future[any] {
	p, f := NewPromise[any]()
	var cancelled bool
	var mu sync.Mutex
	p.onCancel(func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	})
	l.Post(delay, func(ctx context.Context) {
		mu.Lock()
		c := cancelled
		mu.Unlock()
		if c {
			return
		}
		v, err := fn(ctx)
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(v)
	})
	return f
}

func (l *singleLoop) IsInLoopThread(ctx context.Context) bool {
	return ownerOf(ctx) == Loop(l)
}

func (l *singleLoop) NativeHandle() any { return l }

func (l *singleLoop) Stop(ctx context.Context) {
	if l.IsInLoopThread(ctx) {
		// A goroutine cannot join/stop itself cleanly from inside a task
		// it is currently running; hand the actual teardown to a
		// detached goroutine (spec §4.1 "Destruction").
		go l.once.Do(func() { close(l.stopped) })
		return
	}
	l.once.Do(func() { close(l.stopped) })
}

// poolLoop is a worker pool backend. Per spec §4.1, isInEventLoopThread
// is always false for a pool: calls are never synchronous from the
// pool's perspective.
type poolLoop struct {
	minWorkers, maxWorkers int
	minIdle, maxIdle       int

	mu      sync.Mutex
	pending chan task
	group   *errgroup.Group
	cancel  func()
}

// PoolConfig configures a worker-pool loop (spec §4.1).
type PoolConfig struct {
	MinWorkers, MaxWorkers int
	MinIdle, MaxIdle       int
}

// NewPool starts a worker-pool event loop. Workers block pulling from a
// shared queue; all MaxWorkers workers are started eagerly and bound
// concurrency. MinWorkers only raises MaxWorkers when it is larger, and
// MinIdle/MaxIdle are stored but not used.
func NewPool(cfg PoolConfig) Loop {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = ThreadCount(0)
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	l := &poolLoop{
		minWorkers: cfg.MinWorkers,
		maxWorkers: cfg.MaxWorkers,
		minIdle:    cfg.MinIdle,
		maxIdle:    cfg.MaxIdle,
		pending:    make(chan task, 4096),
		group:      g,
		cancel:     cancel,
	}
	for i := 0; i < cfg.MaxWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case t, ok := <-l.pending:
					if !ok {
						return nil
					}
					t.run(context.Background())
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	return l
}

func (l *poolLoop) Post(delay time.Duration, fn func(ctx context.Context)) {
	if delay <= 0 {
		l.pending <- task{run: fn}
		return
	}
	time.AfterFunc(delay, func() { l.pending <- task{run: fn} })
}

func (l *poolLoop) Async(delay time.Duration, fn func(ctx context.Context) (any, error)) *Future[any] {
	p, f := NewPromise[any]()
	var cancelled bool
	var mu sync.Mutex
	p.onCancel(func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	})
	l.Post(delay, func(ctx context.Context) {
		mu.Lock()
		c := cancelled
		mu.Unlock()
		if c {
			return
		}
		v, err := fn(ctx)
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(v)
	})
	return f
}

func (l *poolLoop) IsInLoopThread(ctx context.Context) bool { return false }

func (l *poolLoop) NativeHandle() any { return nil }

func (l *poolLoop) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel()
	close(l.pending)
	_ = l.group.Wait()
}
