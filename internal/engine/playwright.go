package engine

import (
	"context"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	// Browser is one of chromium, firefox or webkit.
	Browser  string
	Headless bool
	Args     []string

	// ChromeDevtoolsProtocolURL connects to a running browser instead of
	// launching one. Only chromium supports it.
	ChromeDevtoolsProtocolURL string
}

func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		Browser:  "chromium",
		Headless: true,
	}
}

type playwrightEngine struct {
	config PlaywrightConfig
}

func NewPlaywright(p PlaywrightConfig) Engine {
	if p.Browser == "" {
		p.Browser = "chromium"
	}
	return &playwrightEngine{
		config: p,
	}
}

func (e *playwrightEngine) Launch(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}

	var browserType playwright.BrowserType
	switch e.config.Browser {
	case "chromium":
		browserType = pw.Chromium
	case "firefox":
		browserType = pw.Firefox
	case "webkit":
		browserType = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, xerrors.Errorf("unknown browser: %s", e.config.Browser)
	}

	var browser playwright.Browser
	if e.config.ChromeDevtoolsProtocolURL == "" {
		browser, err = browserType.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(e.config.Headless),
			Args:     e.config.Args,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
	} else {
		browser, err = browserType.ConnectOverCDP(e.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			_ = pw.Stop()
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", e.config.ChromeDevtoolsProtocolURL, err)
		}
	}

	return &playwrightConnection{
		pw:      pw,
		browser: browser,
	}, nil
}

type playwrightConnection struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func (c *playwrightConnection) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := c.browser.NewPage()
	if err != nil {
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

func (c *playwrightConnection) Close() error {
	if err := c.browser.Close(); err != nil {
		_ = c.pw.Stop()
		return xerrors.Errorf("failed to close browser: %w", err)
	}
	if err := c.pw.Stop(); err != nil {
		return xerrors.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

// watch closes the page when ctx is done before the returned func is called.
func (p *playwrightPage) watch(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = p.page.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (p *playwrightPage) SetViewport(ctx context.Context, width int, height int) error {
	defer p.watch(ctx)()

	if err := p.page.SetViewportSize(width, height); err != nil {
		return xerrors.Errorf("failed to set viewport size: %w", err)
	}
	return nil
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	defer p.watch(ctx)()

	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(0),
	}); err != nil {
		return xerrors.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) AddStyleTag(ctx context.Context, css string) error {
	defer p.watch(ctx)()

	if _, err := p.page.AddStyleTag(playwright.PageAddStyleTagOptions{
		Content: playwright.String(css),
	}); err != nil {
		return xerrors.Errorf("failed to add style tag: %w", err)
	}
	return nil
}

func (p *playwrightPage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	defer p.watch(ctx)()

	handle, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, xerrors.Errorf("failed to query %s: %w", selector, err)
	}
	if handle == nil {
		return nil, nil
	}
	return &playwrightElement{handle: handle, selector: selector}, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	defer p.watch(ctx)()

	if err := p.page.Click(selector); err != nil {
		return xerrors.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Evaluate(ctx context.Context, expression string) (any, error) {
	defer p.watch(ctx)()

	v, err := p.page.Evaluate(expression)
	if err != nil {
		return nil, xerrors.Errorf("failed to evaluate script: %w", err)
	}
	return v, nil
}

func (p *playwrightPage) Close() error {
	if p.page.IsClosed() {
		return nil
	}
	return p.page.Close()
}

type playwrightElement struct {
	handle   playwright.ElementHandle
	selector string
}

func (e *playwrightElement) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := e.handle.Screenshot(playwright.ElementHandleScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to take screenshot of %s: %w", e.selector, err)
	}
	return b, nil
}
