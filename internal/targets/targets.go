// Package targets reads capture targets from YAML or JSON documents.
package targets

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/engine"
)

// Document is either a mapping with a targets list or a bare list of targets.
type Document struct {
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	Targets     []Spec `yaml:"targets" json:"targets"`
}

type Spec struct {
	URL                 string            `yaml:"url" json:"url"`
	Target              string            `yaml:"target" json:"target"`
	Hidden              []string          `yaml:"hidden" json:"hidden"`
	Remove              []string          `yaml:"remove" json:"remove"`
	DisableCSSAnimation *bool             `yaml:"disableCssAnimation" json:"disableCssAnimation"`
	Delay               string            `yaml:"delay" json:"delay"`
	Viewport            *capture.Viewport `yaml:"viewport" json:"viewport"`
	Steps               []Step            `yaml:"steps" json:"steps"`
}

const (
	ActionClick    = "click"
	ActionEvaluate = "evaluate"
	ActionWait     = "wait"
	ActionCapture  = "capture"
)

// Step is a single-key mapping such as {click: "#open"} or {capture: ""}.
type Step struct {
	Action string
	Value  string
}

func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return xerrors.Errorf("line %d: step must be a mapping with exactly one action", n.Line)
	}
	key, value := n.Content[0], n.Content[1]
	switch key.Value {
	case ActionClick, ActionEvaluate, ActionWait, ActionCapture:
	default:
		return xerrors.Errorf("line %d: unknown step action %q", key.Line, key.Value)
	}
	s.Action = key.Value
	s.Value = ""
	if value.Tag == "!!null" {
		return nil
	}
	if err := value.Decode(&s.Value); err != nil {
		return xerrors.Errorf("failed to decode %s step: %w", key.Value, err)
	}
	return nil
}

func Decode(r io.Reader) (Document, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, xerrors.Errorf("failed to decode targets: %w", err)
	}

	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var doc Document
	if root.Kind == yaml.SequenceNode {
		if err := root.Decode(&doc.Targets); err != nil {
			return Document{}, xerrors.Errorf("failed to decode targets: %w", err)
		}
		return doc, nil
	}
	if err := root.Decode(&doc); err != nil {
		return Document{}, xerrors.Errorf("failed to decode targets: %w", err)
	}
	return doc, nil
}

// Load reads a document from path, or from stdin when path is "-".
func Load(path string) (Document, error) {
	if path == "-" {
		return Decode(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return Document{}, xerrors.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

func (d Document) Compile() ([]capture.Target, error) {
	ts := make([]capture.Target, 0, len(d.Targets))
	for i, s := range d.Targets {
		t, err := s.Compile()
		if err != nil {
			return nil, xerrors.Errorf("target %d: %w", i, err)
		}
		ts = append(ts, t)
	}
	return ts, nil
}

func (s Spec) Compile() (capture.Target, error) {
	t := capture.Target{
		URL:                 s.URL,
		Target:              s.Target,
		Hidden:              s.Hidden,
		Remove:              s.Remove,
		DisableCSSAnimation: s.DisableCSSAnimation,
		Viewport:            s.Viewport,
	}
	if s.Delay != "" {
		d, err := time.ParseDuration(s.Delay)
		if err != nil {
			return capture.Target{}, xerrors.Errorf("failed to parse delay: %w", err)
		}
		t.Delay = d
	}
	if err := t.Validate(); err != nil {
		return capture.Target{}, err
	}

	if s.Steps != nil {
		selector := s.Target
		if selector == "" {
			selector = capture.DefaultSelector
		}
		r, err := compileSteps(s.Steps, selector)
		if err != nil {
			return capture.Target{}, err
		}
		t.Capture = r
	}
	return t, nil
}

type step func(ctx context.Context, page engine.Page, shoot capture.Shoot) error

func compileSteps(steps []Step, selector string) (capture.Routine, error) {
	compiled := make([]step, 0, len(steps))
	for i, s := range steps {
		value := s.Value
		switch s.Action {
		case ActionClick:
			if value == "" {
				return nil, xerrors.Errorf("step %d: click requires a selector", i)
			}
			compiled = append(compiled, func(ctx context.Context, page engine.Page, _ capture.Shoot) error {
				return page.Click(ctx, value)
			})
		case ActionEvaluate:
			if value == "" {
				return nil, xerrors.Errorf("step %d: evaluate requires an expression", i)
			}
			compiled = append(compiled, func(ctx context.Context, page engine.Page, _ capture.Shoot) error {
				_, err := page.Evaluate(ctx, value)
				return err
			})
		case ActionWait:
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, xerrors.Errorf("step %d: failed to parse wait: %w", i, err)
			}
			compiled = append(compiled, func(ctx context.Context, _ engine.Page, _ capture.Shoot) error {
				timer := time.NewTimer(d)
				defer timer.Stop()
				select {
				case <-timer.C:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		case ActionCapture:
			if value == "" {
				value = selector
			}
			compiled = append(compiled, func(ctx context.Context, _ engine.Page, shoot capture.Shoot) error {
				return shoot(ctx, value)
			})
		default:
			return nil, xerrors.Errorf("step %d: unknown action %q", i, s.Action)
		}
	}

	return func(ctx context.Context, page engine.Page, shoot capture.Shoot) error {
		for _, s := range compiled {
			if err := s(ctx, page, shoot); err != nil {
				return err
			}
		}
		return nil
	}, nil
}
