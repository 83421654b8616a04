// Package scheduler implements the single dedicated event-loop goroutine
// described in spec.md §4.8: kernel-invoked FUSE callbacks are
// synchronous and arrive on arbitrary kernel-serviced threads, but all
// catalog/HTTP/download work must run serialized on one goroutine. Callers
// submit a unit of work and block on a one-shot future for its result,
// mirroring the original's cross-thread concurrent.futures.Future handoff.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// job is one unit of work submitted to the loop.
type job struct {
	fn   func(ctx context.Context) (any, error)
	done chan result
}

type result struct {
	val any
	err error
}

// Scheduler owns the single event-loop goroutine and the cross-thread
// submission channel.
type Scheduler struct {
	log *logrus.Entry

	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	wg sync.WaitGroup
}

// New constructs a Scheduler; call Start to launch its loop goroutine.
func New(log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     log,
		jobs:    make(chan job),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Start launches the event-loop goroutine. setup runs first, on the loop
// goroutine itself (so it can build an HTTP client, authenticate, and
// construct the root VP/RP tree using the same goroutine every subsequent
// Submit call will run on) and its result/error is returned to the caller
// via a one-shot future, matching spec.md §4.8's startup sequence. If
// setup returns an error, the loop goroutine exits immediately and Start
// returns that error without ever entering the job loop.
func Start(ctx context.Context, log *logrus.Entry, setup func(ctx context.Context) (any, error)) (*Scheduler, any, error) {
	s := New(log)

	type startupResult struct {
		val any
		err error
	}
	startup := make(chan startupResult, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.stopped)

		val, err := setup(s.ctx)
		startup <- startupResult{val: val, err: err}
		if err != nil {
			return
		}
		s.loop()
	}()

	select {
	case res := <-startup:
		if res.err != nil {
			s.cancel()
			return nil, nil, res.err
		}
		return s, res.val, nil
	case <-ctx.Done():
		s.cancel()
		return nil, nil, ctx.Err()
	}
}

func (s *Scheduler) loop() {
	for {
		select {
		case j := <-s.jobs:
			val, err := j.fn(s.ctx)
			j.done <- result{val: val, err: err}
		case <-s.ctx.Done():
			return
		}
	}
}

// Submit runs fn on the loop goroutine and blocks the caller until it
// completes. This is the synchronous-callback bridge: a FUSE op handler
// calls Submit and blocks its kernel-servicing thread on the result,
// preserving FUSE's one-op-per-thread contract while the actual work
// still executes serialized on the single loop goroutine.
func (s *Scheduler) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan result, 1)}
	select {
	case s.jobs <- j:
	case <-s.ctx.Done():
		return nil, fmt.Errorf("scheduler: stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdownGrace bounds how long Stop waits for the loop goroutine to exit
// before giving up and dumping goroutine stacks, per spec.md §4.8
// ("joins the loop thread with a bounded wait (~20 s)").
const shutdownGrace = 20 * time.Second

// Stop cancels the loop's context (which cancels any in-flight Submit
// calls and the pending root-setup future, if Start is still blocked) and
// waits up to shutdownGrace for the loop goroutine to exit. If it doesn't,
// Stop logs a runtime.Stack dump and returns without waiting further,
// abandoning the goroutine rather than blocking unmount forever.
func (s *Scheduler) Stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(shutdownGrace):
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		s.log.WithField("stacks", string(buf[:n])).Warn("scheduler: loop goroutine did not exit within shutdown grace period, abandoning it")
	}
}
