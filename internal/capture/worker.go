package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/engine"
)

// ErrPrecondition marks programming errors such as running a busy worker or
// closing a worker twice. It is never suppressed.
var ErrPrecondition = errors.New("precondition violation")

// Worker owns one browser connection and captures one target at a time.
// The connection is launched on the first run and reused until Close.
type Worker struct {
	id     int
	engine engine.Engine
	log    logr.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	conn      engine.Connection
	running   bool
	closed    bool
	abandoned bool
}

func NewWorker(id int, e engine.Engine, log logr.Logger) *Worker {
	return &Worker{
		id:     id,
		engine: e,
		log:    log.WithValues("worker", id),
		tracer: otel.Tracer("snapshot-capture/capture"),
	}
}

func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Abandoned reports whether the worker was closed by Abandon rather than Close.
func (w *Worker) Abandoned() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abandoned
}

// Run executes the capture protocol for t. A failure that happens after the
// worker was closed is swallowed and yields no results.
func (w *Worker) Run(ctx context.Context, t Target) ([]Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, xerrors.Errorf("worker %d: run after close: %w", w.id, ErrPrecondition)
	}
	if w.running {
		w.mu.Unlock()
		return nil, xerrors.Errorf("worker %d: run while running: %w", w.id, ErrPrecondition)
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	p := Resolve(t)

	ctx, span := w.tracer.Start(ctx, "capture.Worker/Run", trace.WithAttributes(
		attribute.Int("worker", w.id),
		attribute.String("url", p.URL),
		attribute.String("target", p.Target),
	))
	defer span.End()

	w.log.V(1).Info("capturing", "url", p.URL, "target", p.Target)
	now := time.Now()

	results, err := w.run(ctx, p)
	if err != nil {
		if w.IsClosed() {
			w.log.V(1).Info("discarding failure after close", "url", p.URL, "error", err.Error())
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	w.log.V(1).Info("captured", "url", p.URL, "results", len(results), "elapsed", time.Since(now))
	return results, nil
}

func (w *Worker) connection(ctx context.Context) (engine.Connection, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	conn, err := w.engine.Launch(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		if !w.abandoned {
			_ = conn.Close()
		}
		return nil, xerrors.Errorf("worker %d closed while launching", w.id)
	}
	w.conn = conn
	return conn, nil
}

func (w *Worker) run(ctx context.Context, p Params) ([]Result, error) {
	conn, err := w.connection(ctx)
	if err != nil {
		return nil, err
	}

	page, err := conn.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil && !w.IsClosed() {
			w.log.Error(err, "failed to close page", "url", p.URL)
		}
	}()

	if err := page.SetViewport(ctx, p.Viewport.Width, p.Viewport.Height); err != nil {
		return nil, err
	}
	if err := page.Goto(ctx, p.URL); err != nil {
		return nil, err
	}
	if len(p.Hidden) > 0 {
		if err := page.AddStyleTag(ctx, hideStyle(p.Hidden)); err != nil {
			return nil, err
		}
	}
	if len(p.Remove) > 0 {
		if err := page.AddStyleTag(ctx, removeStyle(p.Remove)); err != nil {
			return nil, err
		}
	}
	if p.DisableCSSAnimation {
		if err := page.AddStyleTag(ctx, disableAnimationStyle); err != nil {
			return nil, err
		}
	}

	results := []Result{}
	shoot := func(ctx context.Context, selector string) error {
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		el, err := page.QuerySelector(ctx, selector)
		if err != nil {
			return err
		}
		if el == nil {
			w.log.V(1).Info("no element matched", "url", p.URL, "target", selector)
			return nil
		}

		image, err := el.Screenshot(ctx)
		if err != nil {
			return err
		}
		results = append(results, p.result(len(results), image))
		return nil
	}

	if p.Capture != nil {
		err = p.Capture(ctx, page, shoot)
	} else {
		err = shoot(ctx, p.Target)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes the browser connection. Closing twice is a precondition
// violation.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return xerrors.Errorf("worker %d: close after close: %w", w.id, ErrPrecondition)
	}
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return xerrors.Errorf("failed to close worker %d connection: %w", w.id, err)
	}
	w.log.V(1).Info("closed")
	return nil
}

// Abandon marks the worker closed without closing its connection. It is
// used when the process is terminating and the browser goes down with it.
func (w *Worker) Abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.abandoned = true
}
