// Package stream captures a list of targets with a bounded pool of browser
// workers and delivers the screenshots as a pull-based stream.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/capture"
)

var (
	// ErrClosed is returned by Next after the consumer closed the stream.
	ErrClosed = errors.New("stream closed")
	// ErrInterrupted ends a stream when the process receives a termination
	// signal.
	ErrInterrupted = errors.New("interrupted by signal")
)

// Stream hands targets to workers while the consumer has room for more
// results. It ends with io.EOF once every target has been captured, or with
// the first failure.
type Stream struct {
	id         string
	ctx        context.Context
	log        logr.Logger
	metrics    *metrics
	queue      *Queue
	pool       *Pool
	bufferSize int

	mu       sync.Mutex
	wake     chan struct{}
	buffer   []capture.Result
	reading  bool
	ended    bool
	err      error
	tornDown bool

	tasks    sync.WaitGroup
	closed   chan struct{}
	closeErr error
	stopCtx  func() bool
}

// New validates targets and starts min(len(targets), Concurrency) workers.
// No browser is launched before the first call to Next.
func New(ctx context.Context, targets []capture.Target, opts Options) (*Stream, error) {
	for i, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, xerrors.Errorf("invalid target %d: %w", i, err)
		}
	}

	opts = opts.withDefaults()
	m, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Stream{
		id:         id,
		ctx:        ctx,
		log:        opts.Logger.WithName("stream").WithValues("stream", id),
		metrics:    m,
		queue:      NewQueue(targets),
		bufferSize: opts.BufferSize,
		wake:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	size := min(len(targets), opts.Concurrency)
	s.pool = NewPool(size, opts.Engine, opts.Shutdown, s.interrupt, s.log.WithName("pool"))
	s.log.V(1).Info("stream created", "targets", len(targets), "workers", size)

	if size == 0 {
		s.mu.Lock()
		s.endLocked()
		s.mu.Unlock()
	}
	for _, w := range s.pool.Workers() {
		s.tasks.Add(1)
		go s.work(w)
	}

	s.stopCtx = context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.failLocked(xerrors.Errorf("capture canceled: %w", context.Cause(ctx)))
	})
	return s, nil
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) work(w *capture.Worker) {
	defer s.tasks.Done()
	for {
		t, ok := s.next(w)
		if !ok {
			return
		}
		now := time.Now()
		results, err := w.Run(s.ctx, t)
		s.complete(w, results, err, time.Since(now))
	}
}

// next blocks until the consumer has room for more results, then assigns
// the next queued target to w. It reports false when w has nothing left to
// do.
func (s *Stream) next(w *capture.Worker) (capture.Target, bool) {
	for {
		s.mu.Lock()
		if s.tornDown {
			s.mu.Unlock()
			return capture.Target{}, false
		}
		if s.reading && len(s.buffer) < s.bufferSize {
			t, ok, err := s.pool.Dispatch(w, s.queue)
			switch {
			case err != nil:
				s.failLocked(err)
			case !ok:
				if s.pool.AllIdle() {
					s.endLocked()
				}
			default:
				s.metrics.dispatched()
			}
			s.mu.Unlock()
			return t, ok && err == nil
		}
		wake := s.wake
		s.mu.Unlock()
		<-wake
	}
}

func (s *Stream) complete(w *capture.Worker, results []capture.Result, err error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool.Release(w)
	switch {
	case s.tornDown:
		s.metrics.completed("discarded", 0, elapsed)
	case err != nil:
		s.metrics.completed("failure", 0, elapsed)
		s.failLocked(err)
	default:
		s.metrics.completed("success", len(results), elapsed)
		s.buffer = append(s.buffer, results...)
		s.signalLocked()
	}
}

func (s *Stream) interrupt(sig os.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(xerrors.Errorf("received %s: %w", sig, ErrInterrupted))
}

func (s *Stream) signalLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Stream) failLocked(err error) {
	if s.tornDown {
		return
	}
	s.err = err
	s.log.Error(err, "capture stream failed")
	s.teardownLocked()
}

func (s *Stream) endLocked() {
	if s.tornDown {
		return
	}
	s.ended = true
	s.log.V(1).Info("capture stream finished")
	s.teardownLocked()
}

// teardownLocked runs once per stream. Results produced after it are
// discarded.
func (s *Stream) teardownLocked() {
	s.tornDown = true
	s.signalLocked()
	go func() {
		err := s.pool.Close()
		if err != nil {
			s.log.Error(err, "failed to close pool")
		}
		s.closeErr = err
		close(s.closed)
	}()
}

// Next returns the next screenshot. It returns io.EOF after the last one,
// or the error that ended the stream once the results produced before it
// were read.
func (s *Stream) Next(ctx context.Context) (capture.Result, error) {
	for {
		s.mu.Lock()
		if !s.reading {
			s.reading = true
			s.signalLocked()
		}
		if len(s.buffer) > 0 {
			r := s.buffer[0]
			s.buffer[0] = capture.Result{}
			s.buffer = s.buffer[1:]
			s.signalLocked()
			s.mu.Unlock()
			return r, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return capture.Result{}, err
		}
		if s.ended {
			s.mu.Unlock()
			return capture.Result{}, io.EOF
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return capture.Result{}, ctx.Err()
		}
	}
}

// All yields every result in order. A failure is yielded once as the final
// element.
func (s *Stream) All(ctx context.Context) iter.Seq2[capture.Result, error] {
	return func(yield func(capture.Result, error) bool) {
		for {
			r, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(capture.Result{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Close stops the stream, discards unread results and waits until every
// worker has stopped and every browser connection was closed. It is safe
// to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.buffer = nil
	if s.err == nil {
		s.err = ErrClosed
	}
	if !s.tornDown {
		s.log.V(1).Info("capture stream closed by consumer")
		s.teardownLocked()
	}
	s.mu.Unlock()

	s.stopCtx()
	<-s.closed
	s.tasks.Wait()
	return s.closeErr
}
