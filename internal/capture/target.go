package capture

import (
	"context"
	"slices"
	"time"

	"golang.org/x/xerrors"

	"snapshot-capture/internal/engine"
)

const (
	DefaultSelector       = "html"
	DefaultViewportWidth  = 800
	DefaultViewportHeight = 600
)

type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Shoot waits the target's delay, then screenshots the first element
// matching selector. A selector with no match appends nothing.
type Shoot func(ctx context.Context, selector string) error

// Routine is a custom capture routine. Every call to shoot that finds an
// element produces one Result.
type Routine func(ctx context.Context, page engine.Page, shoot Shoot) error

// Target is one requested capture. Zero values of optional fields mean
// "use the default".
type Target struct {
	URL    string
	Target string
	Hidden []string
	Remove []string
	// DisableCSSAnimation defaults to true when nil.
	DisableCSSAnimation *bool
	Delay               time.Duration
	Viewport            *Viewport
	Capture             Routine
}

type Result struct {
	Index               int           `json:"index"`
	Image               []byte        `json:"image"`
	URL                 string        `json:"url"`
	Target              string        `json:"target"`
	Hidden              []string      `json:"hidden"`
	Remove              []string      `json:"remove"`
	DisableCSSAnimation bool          `json:"disableCssAnimation"`
	Delay               time.Duration `json:"delay"`
	Viewport            Viewport      `json:"viewport"`
}

// Params is a Target with every default applied.
type Params struct {
	URL                 string
	Target              string
	Hidden              []string
	Remove              []string
	DisableCSSAnimation bool
	Delay               time.Duration
	Viewport            Viewport
	Capture             Routine
}

func Resolve(t Target) Params {
	p := Params{
		URL:                 t.URL,
		Target:              t.Target,
		Hidden:              slices.Clone(t.Hidden),
		Remove:              slices.Clone(t.Remove),
		DisableCSSAnimation: true,
		Delay:               t.Delay,
		Viewport:            Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Capture:             t.Capture,
	}
	if p.Target == "" {
		p.Target = DefaultSelector
	}
	if p.Hidden == nil {
		p.Hidden = []string{}
	}
	if p.Remove == nil {
		p.Remove = []string{}
	}
	if t.DisableCSSAnimation != nil {
		p.DisableCSSAnimation = *t.DisableCSSAnimation
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if t.Viewport != nil {
		p.Viewport = *t.Viewport
	}
	return p
}

func (t Target) Validate() error {
	if t.URL == "" {
		return xerrors.New("url is required")
	}
	if t.Delay < 0 {
		return xerrors.Errorf("delay must not be negative: %s", t.Delay)
	}
	if t.Viewport != nil && (t.Viewport.Width <= 0 || t.Viewport.Height <= 0) {
		return xerrors.Errorf("viewport must be positive: %dx%d", t.Viewport.Width, t.Viewport.Height)
	}
	return nil
}

func (p Params) result(index int, image []byte) Result {
	return Result{
		Index:               index,
		Image:               image,
		URL:                 p.URL,
		Target:              p.Target,
		Hidden:              slices.Clone(p.Hidden),
		Remove:              slices.Clone(p.Remove),
		DisableCSSAnimation: p.DisableCSSAnimation,
		Delay:               p.Delay,
		Viewport:            p.Viewport,
	}
}

func Bool(v bool) *bool {
	return &v
}
