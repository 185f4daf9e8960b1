package engine

import (
	"golang.org/x/xerrors"
)

const (
	NamePlaywright = "playwright"
	NameChromedp   = "chromedp"
)

// Select builds the engine called name. cdpURL, when set, makes it attach
// to a running browser.
func Select(name string, headless bool, cdpURL string) (Engine, error) {
	switch name {
	case "", NamePlaywright:
		c := DefaultPlaywrightConfig()
		c.Headless = headless
		c.ChromeDevtoolsProtocolURL = cdpURL
		return NewPlaywright(c), nil
	case NameChromedp:
		c := DefaultChromedpConfig()
		c.Headless = headless
		c.RemoteURL = cdpURL
		return NewChromedp(c), nil
	default:
		return nil, xerrors.Errorf("unknown engine %q", name)
	}
}
