package engine

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"golang.org/x/xerrors"
)

type ChromedpConfig struct {
	Headless bool
	// ExecPath falls back to chromedp's lookup of a local Chrome when empty.
	ExecPath  string
	UserAgent string
	Flags     map[string]any

	// RemoteURL connects to a running browser's DevTools endpoint instead of
	// starting one.
	RemoteURL string
}

func DefaultChromedpConfig() ChromedpConfig {
	return ChromedpConfig{
		Headless: true,
	}
}

type chromedpEngine struct {
	config ChromedpConfig
}

func NewChromedp(c ChromedpConfig) Engine {
	return &chromedpEngine{
		config: c,
	}
}

func (e *chromedpEngine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-gpu", true),
	}
	if e.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if e.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.config.ExecPath))
	}
	if e.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.config.UserAgent))
	}
	for name, value := range e.config.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// Launch starts a browser process that lives until the connection is
// closed, independent of ctx.
func (e *chromedpEngine) Launch(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if e.config.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.config.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), e.allocatorOptions()...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser. Canceling ctx
	// aborts the start but not the browser once it is up.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	if !stop() || err != nil {
		browserCancel()
		allocCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.Errorf("failed to launch browser: %w", ctxErr)
		}
		return nil, xerrors.Errorf("failed to launch browser: %w", err)
	}

	return &chromedpConnection{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromedpConnection struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func (c *chromedpConnection) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	return &chromedpPage{ctx: tabCtx, cancel: tabCancel}, nil
}

func (c *chromedpConnection) Close() error {
	defer c.allocCancel()
	defer c.browserCancel()

	if err := chromedp.Cancel(c.browserCtx); err != nil {
		return xerrors.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()

	return chromedp.Run(p.ctx, actions...)
}

func (p *chromedpPage) SetViewport(ctx context.Context, width int, height int) error {
	if err := p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false)); err != nil {
		return xerrors.Errorf("failed to set viewport size: %w", err)
	}
	return nil
}

func (p *chromedpPage) Goto(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return xerrors.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) AddStyleTag(ctx context.Context, css string) error {
	script := fmt.Sprintf(`(() => {
		const style = document.createElement('style');
		style.textContent = %q;
		document.head.appendChild(style);
	})()`, css)

	if err := p.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return xerrors.Errorf("failed to add style tag: %w", err)
	}
	return nil
}

func (p *chromedpPage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, xerrors.Errorf("failed to query %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &chromedpElement{page: p, node: nodes[0], selector: selector}, nil
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return xerrors.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *chromedpPage) Evaluate(ctx context.Context, expression string) (any, error) {
	var v any
	if err := p.run(ctx, chromedp.Evaluate(expression, &v)); err != nil {
		return nil, xerrors.Errorf("failed to evaluate script: %w", err)
	}
	return v, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

type chromedpElement struct {
	page     *chromedpPage
	node     *cdp.Node
	selector string
}

func (e *chromedpElement) Screenshot(ctx context.Context) ([]byte, error) {
	var b []byte
	if err := e.page.run(ctx, chromedp.Screenshot([]cdp.NodeID{e.node.NodeID}, &b, chromedp.ByNodeID)); err != nil {
		return nil, xerrors.Errorf("failed to take screenshot of %s: %w", e.selector, err)
	}
	return b, nil
}
