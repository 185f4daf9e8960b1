package engine

import (
	"context"
)

// Engine launches browser connections. Launch options are bound when the
// engine is constructed.
type Engine interface {
	Launch(ctx context.Context) (Connection, error)
}

type Connection interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type Page interface {
	SetViewport(ctx context.Context, width int, height int) error
	// Goto navigates without a navigation timeout.
	Goto(ctx context.Context, url string) error
	AddStyleTag(ctx context.Context, css string) error
	// QuerySelector returns a nil Element when nothing matches.
	QuerySelector(ctx context.Context, selector string) (Element, error)
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, expression string) (any, error)
	Close() error
}

type Element interface {
	// Screenshot returns PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}
