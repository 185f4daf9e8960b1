package stream_test

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/shutdown"
	"snapshot-capture/internal/stream"
)

func TestQueue(t *testing.T) {
	t.Parallel()

	in := targets(2)
	q := stream.NewQueue(in)
	in[0].URL = "changed"

	var got []string
	for {
		target, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, target.URL)
	}
	if diff := cmp.Diff([]string{pageURL(0), pageURL(1)}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestPoolDispatch(t *testing.T) {
	t.Parallel()

	site := newSite(2)
	p := stream.NewPool(2, site.Engine(), nil, nil, logr.Discard())
	defer p.Close()
	q := stream.NewQueue(targets(1))
	w := p.Workers()[0]

	if !p.AllIdle() {
		t.Error("expected a new pool to be idle")
	}
	if _, ok, err := p.Dispatch(w, q); !ok || err != nil {
		t.Fatalf("expected dispatch, got %v %v", ok, err)
	}
	if p.AllIdle() {
		t.Error("expected a dispatched worker to be busy")
	}
	if _, _, err := p.Dispatch(w, q); !errors.Is(err, capture.ErrPrecondition) {
		t.Errorf("expected precondition violation for a busy worker, got %v", err)
	}

	p.Release(w)
	if _, ok, err := p.Dispatch(w, q); ok || err != nil {
		t.Errorf("expected empty queue, got %v %v", ok, err)
	}
	if !p.AllIdle() {
		t.Error("expected pool to be idle")
	}
}

func TestPoolClose(t *testing.T) {
	t.Parallel()

	site := newSite(1)
	registry := shutdown.New(false)
	p := stream.NewPool(2, site.Engine(), registry, nil, logr.Discard())
	if diff := cmp.Diff(2, p.Size()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := p.Workers()[0].Run(context.Background(), capture.Target{URL: pageURL(0)}); err != nil {
		t.Fatal(err)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if site.Closes() != 1 {
		t.Errorf("expected 1 connection closed, got %d", site.Closes())
	}
	for _, w := range p.Workers() {
		if !w.IsClosed() {
			t.Errorf("worker %d not closed", w.ID())
		}
	}
	if registry.Len() != 0 {
		t.Errorf("expected hook to be removed, got %d", registry.Len())
	}

	err := p.Close()
	if !errors.Is(err, stream.ErrPoolClosed) || !errors.Is(err, capture.ErrPrecondition) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSignal(t *testing.T) {
	t.Parallel()

	site := newSite(1)
	registry := shutdown.New(false)
	var got []string
	p := stream.NewPool(2, site.Engine(), registry, func(sig os.Signal) {
		got = append(got, sig.String())
	}, logr.Discard())
	if _, err := p.Workers()[0].Run(context.Background(), capture.Target{URL: pageURL(0)}); err != nil {
		t.Fatal(err)
	}

	registry.Deliver(syscall.SIGINT)

	if diff := cmp.Diff([]string{syscall.SIGINT.String()}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	for _, w := range p.Workers() {
		if !w.Abandoned() {
			t.Errorf("worker %d not abandoned", w.ID())
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if site.Closes() != 0 {
		t.Errorf("expected abandoned connections to stay open, got %d closes", site.Closes())
	}
}
