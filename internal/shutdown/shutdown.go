// Package shutdown runs registered hooks when the process receives a
// termination signal.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type Hook func(sig os.Signal)

// Registry listens for signals only while at least one hook is registered.
type Registry struct {
	signals []os.Signal
	reraise bool

	mu     sync.Mutex
	hooks  map[uint64]Hook
	nextID uint64
	quit   chan os.Signal
	stop   chan struct{}
}

// Default listens for SIGINT, SIGTERM and SIGHUP. After running its hooks
// it re-raises the signal so the process terminates as it would have
// without a listener, unless the application installed its own handler.
var Default = New(true, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

// New returns a Registry for signals. With no signals it never subscribes
// and hooks only run through Deliver.
func New(reraise bool, signals ...os.Signal) *Registry {
	return &Registry{
		signals: signals,
		reraise: reraise,
		hooks:   make(map[uint64]Hook),
	}
}

// Register adds h and returns a func that removes it. The returned func is
// safe to call more than once.
func (r *Registry) Register(h Hook) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.hooks[id] = h
	if r.quit == nil {
		r.listenLocked()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.hooks[id]; !ok {
				return
			}
			delete(r.hooks, id)
			if len(r.hooks) == 0 {
				r.unlistenLocked()
			}
		})
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Deliver runs every registered hook with sig.
func (r *Registry) Deliver(sig os.Signal) {
	r.mu.Lock()
	hooks := make([]Hook, 0, len(r.hooks))
	for _, h := range r.hooks {
		hooks = append(hooks, h)
	}
	r.mu.Unlock()

	for _, h := range hooks {
		h(sig)
	}
}

func (r *Registry) listenLocked() {
	if len(r.signals) == 0 {
		return
	}
	quit := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(quit, r.signals...)
	r.quit = quit
	r.stop = stop

	go func() {
		select {
		case sig := <-quit:
			r.Deliver(sig)
			r.mu.Lock()
			if r.quit == quit {
				r.unlistenLocked()
			}
			r.mu.Unlock()
			if r.reraise {
				raise(sig)
			}
		case <-stop:
		}
	}()
}

func (r *Registry) unlistenLocked() {
	if r.quit == nil {
		return
	}
	signal.Stop(r.quit)
	close(r.stop)
	r.quit = nil
	r.stop = nil
}

func raise(sig os.Signal) {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(sig)
}
