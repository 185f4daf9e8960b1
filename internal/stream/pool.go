package stream

import (
	"os"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/shutdown"
)

var ErrPoolClosed = xerrors.Errorf("pool already closed: %w", capture.ErrPrecondition)

// Pool is a fixed set of workers. A worker is busy from the moment a target
// is dispatched to it until Release.
type Pool struct {
	workers []*capture.Worker
	log     logr.Logger

	// hookMu keeps Close from closing connections the termination hook is
	// abandoning.
	hookMu sync.Mutex

	mu         sync.Mutex
	busy       []bool
	closed     bool
	unregister func()
}

// NewPool creates size workers and registers one termination hook in
// registry. On a signal onSignal is called and every worker is abandoned.
func NewPool(size int, e engine.Engine, registry *shutdown.Registry, onSignal func(os.Signal), log logr.Logger) *Pool {
	p := &Pool{
		workers:    make([]*capture.Worker, size),
		busy:       make([]bool, size),
		log:        log,
		unregister: func() {},
	}
	for i := range p.workers {
		p.workers[i] = capture.NewWorker(i, e, log.WithName("worker"))
	}

	if registry != nil {
		p.unregister = registry.Register(func(sig os.Signal) {
			p.hookMu.Lock()
			defer p.hookMu.Unlock()

			p.log.Info("termination signal received, abandoning workers", "signal", sig.String())
			if onSignal != nil {
				onSignal(sig)
			}
			for _, w := range p.workers {
				w.Abandon()
			}
		})
	}
	return p
}

func (p *Pool) Workers() []*capture.Worker {
	return p.workers
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Dispatch pops the front of q and marks w busy. It reports false when q
// is empty.
func (p *Pool) Dispatch(w *capture.Worker, q *Queue) (capture.Target, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy[w.ID()] {
		return capture.Target{}, false, xerrors.Errorf("worker %d is busy: %w", w.ID(), capture.ErrPrecondition)
	}
	if w.IsClosed() {
		return capture.Target{}, false, xerrors.Errorf("worker %d is closed: %w", w.ID(), capture.ErrPrecondition)
	}

	t, ok := q.Pop()
	if !ok {
		return capture.Target{}, false, nil
	}
	p.busy[w.ID()] = true
	return t, true, nil
}

func (p *Pool) Release(w *capture.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy[w.ID()] = false
}

func (p *Pool) AllIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.busy {
		if b {
			return false
		}
	}
	return true
}

// Close closes every worker connection concurrently and removes the
// termination hook. Abandoned workers are skipped. Closing twice returns
// ErrPoolClosed.
func (p *Pool) Close() error {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	p.unregister()

	var eg errgroup.Group
	for _, w := range p.workers {
		if w.Abandoned() {
			continue
		}
		eg.Go(w.Close)
	}
	if err := eg.Wait(); err != nil {
		return xerrors.Errorf("failed to close pool: %w", err)
	}
	p.log.V(1).Info("pool closed", "workers", len(p.workers))
	return nil
}
