package mocks

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"snapshot-capture/internal/engine"
)

// Site is an in-memory web of pages served through the mock engine. Pages
// maps a URL to the selectors that exist on it; navigating anywhere else
// fails with net::ERR_FILE_NOT_FOUND. Screenshots are the bytes "url selector".
type Site struct {
	Pages map[string][]string
	// OnGoto, if set, runs before every navigation and may block.
	OnGoto func(ctx context.Context, url string) error

	mu           sync.Mutex
	launches     int
	closes       int
	openPages    int
	maxOpenPages int
	styles       map[string][]string
}

func (s *Site) Engine() *Engine {
	return &Engine{
		LaunchFunc: func(ctx context.Context) (engine.Connection, error) {
			s.mu.Lock()
			s.launches++
			s.mu.Unlock()
			return s.connection(), nil
		},
	}
}

func (s *Site) connection() *Connection {
	return &Connection{
		NewPageFunc: func(ctx context.Context) (engine.Page, error) {
			s.mu.Lock()
			s.openPages++
			if s.openPages > s.maxOpenPages {
				s.maxOpenPages = s.openPages
			}
			s.mu.Unlock()
			return s.page(), nil
		},
		CloseFunc: func() error {
			s.mu.Lock()
			s.closes++
			s.mu.Unlock()
			return nil
		},
	}
}

func (s *Site) page() *Page {
	var url string
	return &Page{
		GotoFunc: func(ctx context.Context, u string) error {
			if s.OnGoto != nil {
				if err := s.OnGoto(ctx, u); err != nil {
					return err
				}
			}
			if _, ok := s.Pages[u]; !ok {
				return xerrors.Errorf("failed to navigate to %s: net::ERR_FILE_NOT_FOUND", u)
			}
			url = u
			return nil
		},
		AddStyleTagFunc: func(ctx context.Context, css string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.styles == nil {
				s.styles = make(map[string][]string)
			}
			s.styles[url] = append(s.styles[url], css)
			return nil
		},
		QuerySelectorFunc: func(ctx context.Context, selector string) (engine.Element, error) {
			for _, sel := range s.Pages[url] {
				if sel == selector {
					image := []byte(url + " " + selector)
					return &Element{
						ScreenshotFunc: func(ctx context.Context) ([]byte, error) {
							return image, nil
						},
					}, nil
				}
			}
			return nil, nil
		},
		CloseFunc: func() error {
			s.mu.Lock()
			s.openPages--
			s.mu.Unlock()
			return nil
		},
	}
}

func (s *Site) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

func (s *Site) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// MaxOpenPages is the highest number of pages that were open at once.
func (s *Site) MaxOpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpenPages
}

func (s *Site) Styles(url string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.styles[url]...)
}
