// Package mocks provides mock implementations of the browser engine for testing.
package mocks

import (
	"context"

	"snapshot-capture/internal/engine"
)

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	LaunchFunc func(ctx context.Context) (engine.Connection, error)
}

func (m *Engine) Launch(ctx context.Context) (engine.Connection, error) {
	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx)
	}
	return &Connection{}, nil
}

// Connection is a mock implementation of engine.Connection.
type Connection struct {
	NewPageFunc func(ctx context.Context) (engine.Page, error)
	CloseFunc   func() error
}

func (m *Connection) NewPage(ctx context.Context) (engine.Page, error) {
	if m.NewPageFunc != nil {
		return m.NewPageFunc(ctx)
	}
	return &Page{}, nil
}

func (m *Connection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Page is a mock implementation of engine.Page.
type Page struct {
	SetViewportFunc   func(ctx context.Context, width int, height int) error
	GotoFunc          func(ctx context.Context, url string) error
	AddStyleTagFunc   func(ctx context.Context, css string) error
	QuerySelectorFunc func(ctx context.Context, selector string) (engine.Element, error)
	ClickFunc         func(ctx context.Context, selector string) error
	EvaluateFunc      func(ctx context.Context, expression string) (any, error)
	CloseFunc         func() error
}

func (m *Page) SetViewport(ctx context.Context, width int, height int) error {
	if m.SetViewportFunc != nil {
		return m.SetViewportFunc(ctx, width, height)
	}
	return nil
}

func (m *Page) Goto(ctx context.Context, url string) error {
	if m.GotoFunc != nil {
		return m.GotoFunc(ctx, url)
	}
	return nil
}

func (m *Page) AddStyleTag(ctx context.Context, css string) error {
	if m.AddStyleTagFunc != nil {
		return m.AddStyleTagFunc(ctx, css)
	}
	return nil
}

func (m *Page) QuerySelector(ctx context.Context, selector string) (engine.Element, error) {
	if m.QuerySelectorFunc != nil {
		return m.QuerySelectorFunc(ctx, selector)
	}
	return &Element{}, nil
}

func (m *Page) Click(ctx context.Context, selector string) error {
	if m.ClickFunc != nil {
		return m.ClickFunc(ctx, selector)
	}
	return nil
}

func (m *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, expression)
	}
	return nil, nil
}

func (m *Page) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Element is a mock implementation of engine.Element.
type Element struct {
	ScreenshotFunc func(ctx context.Context) ([]byte, error)
}

func (m *Element) Screenshot(ctx context.Context) ([]byte, error) {
	if m.ScreenshotFunc != nil {
		return m.ScreenshotFunc(ctx)
	}
	return []byte{}, nil
}

// Ensure mocks implement the engine interfaces
var (
	_ engine.Engine     = (*Engine)(nil)
	_ engine.Connection = (*Connection)(nil)
	_ engine.Page       = (*Page)(nil)
	_ engine.Element    = (*Element)(nil)
)
