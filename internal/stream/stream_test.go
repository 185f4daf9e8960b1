package stream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/mocks"
	"snapshot-capture/internal/shutdown"
	"snapshot-capture/internal/stream"
)

func pageURL(i int) string {
	return fmt.Sprintf("https://fixture.test/%d", i)
}

func newSite(pages int) *mocks.Site {
	site := &mocks.Site{Pages: map[string][]string{}}
	for i := range pages {
		site.Pages[pageURL(i)] = []string{"html", "#main"}
	}
	return site
}

func targets(n int) []capture.Target {
	ts := make([]capture.Target, n)
	for i := range ts {
		ts[i] = capture.Target{URL: pageURL(i)}
	}
	return ts
}

func options(site *mocks.Site, concurrency int) stream.Options {
	return stream.Options{
		Concurrency: concurrency,
		Engine:      site.Engine(),
		Logger:      logr.Discard(),
		Shutdown:    shutdown.New(false),
	}
}

func TestCaptureAllResolvesDefaults(t *testing.T) {
	t.Parallel()

	site := newSite(3)
	in := []capture.Target{
		{URL: pageURL(0)},
		{URL: pageURL(1), Target: "#main", Hidden: []string{".ad"}},
		{URL: pageURL(2), Remove: []string{"nav"}, DisableCSSAnimation: capture.Bool(false)},
	}

	results, err := stream.CaptureAll(context.Background(), in, options(site, 2))
	if err != nil {
		t.Fatal(err)
	}

	type fields struct {
		URL    string
		Target string
		Hidden []string
		Remove []string
	}
	got := make([]fields, 0, len(results))
	for _, r := range results {
		got = append(got, fields{r.URL, r.Target, r.Hidden, r.Remove})
	}
	slices.SortFunc(got, func(a, b fields) int {
		return strings.Compare(a.URL, b.URL)
	})

	want := []fields{
		{pageURL(0), "html", []string{}, []string{}},
		{pageURL(1), "#main", []string{".ad"}, []string{}},
		{pageURL(2), "html", []string{}, []string{"nav"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestCaptureAllWorkerCount(t *testing.T) {
	tests := []struct {
		name        string
		targets     int
		concurrency int
		want        int
	}{
		{"more targets than workers", 10, 3, 3},
		{"fewer targets than workers", 2, 4, 2},
		{"default concurrency", 12, 0, stream.DefaultConcurrency},
	}

	for _, tt := range tests {
		name := tt.name
		n := tt.targets
		concurrency := tt.concurrency
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			site := newSite(n)
			// Hold every navigation until want of them are in flight at once.
			var (
				mu       sync.Mutex
				inFlight int
				peak     int
				released bool
				all      = make(chan struct{})
			)
			site.OnGoto = func(ctx context.Context, url string) error {
				mu.Lock()
				inFlight++
				peak = max(peak, inFlight)
				if peak == want && !released {
					released = true
					close(all)
				}
				mu.Unlock()

				select {
				case <-all:
				case <-time.After(5 * time.Second):
				}

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			}

			results, err := stream.CaptureAll(context.Background(), targets(n), options(site, concurrency))
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != n {
				t.Errorf("expected %d results, got %d", n, len(results))
			}
			if diff := cmp.Diff(want, peak); diff != "" {
				t.Errorf("peak concurrency (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want, site.Launches()); diff != "" {
				t.Errorf("launches (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(site.Launches(), site.Closes()); diff != "" {
				t.Errorf("every launched connection must be closed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCaptureAllNoMatch(t *testing.T) {
	t.Parallel()

	site := newSite(2)
	in := []capture.Target{
		{URL: pageURL(0), Target: "#missing"},
		{URL: pageURL(1)},
	}

	results, err := stream.CaptureAll(context.Background(), in, options(site, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if diff := cmp.Diff(pageURL(1), results[0].URL); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestCaptureAllMultipleShots(t *testing.T) {
	t.Parallel()

	site := newSite(1)
	twice := func(ctx context.Context, page engine.Page, shoot capture.Shoot) error {
		if err := shoot(ctx, "#main"); err != nil {
			return err
		}
		return shoot(ctx, "html")
	}

	results, err := stream.CaptureAll(context.Background(), []capture.Target{{URL: pageURL(0), Capture: twice}}, options(site, 0))
	if err != nil {
		t.Fatal(err)
	}

	type shot struct {
		Index int
		Image string
	}
	got := make([]shot, 0, len(results))
	for _, r := range results {
		got = append(got, shot{r.Index, string(r.Image)})
	}
	want := []shot{
		{0, pageURL(0) + " #main"},
		{1, pageURL(0) + " html"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestCaptureAllFailure(t *testing.T) {
	t.Parallel()

	site := newSite(3)
	in := append(targets(3), capture.Target{URL: "https://fixture.test/missing"})

	results, err := stream.CaptureAll(context.Background(), in, options(site, 2))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "net::ERR_FILE_NOT_FOUND") {
		t.Errorf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected no partial results, got %d", len(results))
	}
	if diff := cmp.Diff(site.Launches(), site.Closes()); diff != "" {
		t.Errorf("every launched connection must be closed (-want +got):\n%s", diff)
	}
}

func TestCaptureAllInvalidTarget(t *testing.T) {
	t.Parallel()

	site := newSite(1)
	_, err := stream.CaptureAll(context.Background(), []capture.Target{{URL: pageURL(0)}, {}}, options(site, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if site.Launches() != 0 {
		t.Errorf("expected no launch, got %d", site.Launches())
	}
}

func TestStreamEmpty(t *testing.T) {
	t.Parallel()

	site := newSite(0)
	s, err := stream.New(context.Background(), nil, options(site, 4))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if site.Launches() != 0 {
		t.Errorf("expected no launch, got %d", site.Launches())
	}
}

func TestStreamFailureAfterResults(t *testing.T) {
	t.Parallel()

	site := newSite(3)
	in := []capture.Target{
		{URL: pageURL(0)},
		{URL: pageURL(1)},
		{URL: "https://fixture.test/missing"},
		{URL: pageURL(2)},
	}

	s, err := stream.New(context.Background(), in, options(site, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var urls []string
	var last error
	for r, err := range s.All(context.Background()) {
		if err != nil {
			last = err
			break
		}
		urls = append(urls, r.URL)
	}

	if diff := cmp.Diff([]string{pageURL(0), pageURL(1)}, urls); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if last == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, last) {
		t.Errorf("expected the terminal error again, got %v", err)
	}
}

func TestStreamDiscardsResultsAfterFailure(t *testing.T) {
	t.Parallel()

	site := newSite(1)
	missing := "https://fixture.test/missing"
	entered := make(chan struct{})
	release := make(chan struct{})
	site.OnGoto = func(ctx context.Context, url string) error {
		if url == missing {
			<-entered
			return nil
		}
		close(entered)
		<-release
		return nil
	}

	ctx := context.Background()
	s, err := stream.New(ctx, []capture.Target{{URL: pageURL(0)}, {URL: missing}}, options(site, 2))
	if err != nil {
		t.Fatal(err)
	}

	_, failure := s.Next(ctx)
	if failure == nil || errors.Is(failure, io.EOF) {
		t.Fatalf("expected navigation failure, got %v", failure)
	}

	// The capture still in flight finishes after the failure and its
	// screenshot must not surface.
	close(release)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(site.Styles(pageURL(0))) == 0 {
		t.Fatal("expected the in-flight capture to run past navigation")
	}

	for range 3 {
		r, err := s.Next(ctx)
		if err != failure {
			t.Errorf("expected %v again, got result %q and error %v", failure, r.URL, err)
		}
	}
}

func TestStreamBackpressure(t *testing.T) {
	t.Parallel()

	site := newSite(6)
	var (
		mu    sync.Mutex
		gotos int
	)
	site.OnGoto = func(ctx context.Context, url string) error {
		mu.Lock()
		gotos++
		mu.Unlock()
		return nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return gotos
	}

	opts := options(site, 1)
	opts.BufferSize = 1
	s, err := stream.New(context.Background(), targets(6), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	if site.Launches() != 0 || count() != 0 {
		t.Fatalf("expected no work before the first read, got %d launches and %d navigations", site.Launches(), count())
	}

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	// One result read and at most one buffered.
	if count() > 2 {
		t.Errorf("expected production to pause on a full buffer, got %d navigations", count())
	}

	n := 1
	for _, err := range s.All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 6 {
		t.Errorf("expected 6 results, got %d", n)
	}
}

func TestStreamContextCanceled(t *testing.T) {
	t.Parallel()

	site := newSite(2)
	entered := make(chan struct{}, 2)
	site.OnGoto = func(ctx context.Context, url string) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := stream.New(ctx, targets(2), options(site, 2))
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()

	<-entered
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(site.Launches(), site.Closes()); diff != "" {
		t.Errorf("every launched connection must be closed (-want +got):\n%s", diff)
	}
}

func TestStreamClose(t *testing.T) {
	t.Parallel()

	site := newSite(5)
	s, err := stream.New(context.Background(), targets(5), options(site, 2))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected second close to succeed, got %v", err)
	}

	if _, err := s.Next(context.Background()); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if diff := cmp.Diff(site.Launches(), site.Closes()); diff != "" {
		t.Errorf("every launched connection must be closed (-want +got):\n%s", diff)
	}
}

func TestStreamInterrupted(t *testing.T) {
	t.Parallel()

	site := newSite(3)
	entered := make(chan struct{}, 3)
	release := make(chan struct{})
	site.OnGoto = func(ctx context.Context, url string) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	registry := shutdown.New(false)
	opts := options(site, 3)
	opts.Shutdown = registry
	s, err := stream.New(context.Background(), targets(3), opts)
	if err != nil {
		t.Fatal(err)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one hook per stream, got %d", registry.Len())
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()

	<-entered
	registry.Deliver(syscall.SIGTERM)

	interrupted := <-errc
	if !errors.Is(interrupted, stream.ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", interrupted)
	}
	close(release)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		r, err := s.Next(context.Background())
		if err != interrupted {
			t.Errorf("expected %v again, got result %q and error %v", interrupted, r.URL, err)
		}
	}

	if site.Closes() != 0 {
		t.Errorf("expected abandoned connections to stay open, got %d closes", site.Closes())
	}
	if registry.Len() != 0 {
		t.Errorf("expected hook to be removed, got %d", registry.Len())
	}
}

func TestStreamRemovesHook(t *testing.T) {
	t.Parallel()

	registry := shutdown.New(false)
	for range 3 {
		site := newSite(2)
		opts := options(site, 2)
		opts.Shutdown = registry
		if _, err := stream.CaptureAll(context.Background(), targets(2), opts); err != nil {
			t.Fatal(err)
		}
	}
	if registry.Len() != 0 {
		t.Errorf("expected no hooks left, got %d", registry.Len())
	}
}
