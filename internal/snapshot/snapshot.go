// Package snapshot compares capture results against stored baselines.
package snapshot

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/capture"
	diffimage "snapshot-capture/internal/diff/image"
	"snapshot-capture/internal/storage"
)

type Status string

const (
	// Created means no baseline existed and the result became the baseline.
	Created  Status = "created"
	Match    Status = "match"
	Mismatch Status = "mismatch"
)

type Outcome struct {
	Status     Status  `json:"status"`
	DiffAmount float64 `json:"diffAmount"`
	// Location is the baseline key on a match and where the baseline or diff
	// image was written otherwise.
	Location string `json:"location"`
}

type Config struct {
	// Prefix is the key prefix under which baselines are stored.
	Prefix string
	// Threshold is the per-pixel brightness change that counts as a
	// difference.
	Threshold float64
	// Tolerance is the share of differing pixels still accepted as a match.
	Tolerance float64
}

func DefaultConfig() Config {
	return Config{
		Prefix:    "baseline",
		Threshold: 0.1,
		Tolerance: 0,
	}
}

type Matcher struct {
	storage storage.Storage
	differ  diffimage.Differ
	config  Config
	log     logr.Logger
}

func NewMatcher(s storage.Storage, c Config, log logr.Logger) *Matcher {
	return &Matcher{
		storage: s,
		differ:  diffimage.NewPixelDiff(c.Threshold),
		config:  c,
		log:     log.WithName("snapshot"),
	}
}

func (m *Matcher) Match(ctx context.Context, r capture.Result) (Outcome, error) {
	key := storage.ResultKey(m.config.Prefix, r)

	data, err := m.storage.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		location, err := m.storage.Put(ctx, key, r.Image)
		if err != nil {
			return Outcome{}, xerrors.Errorf("failed to store baseline: %w", err)
		}
		m.log.Info("baseline created", "url", r.URL, "target", r.Target, "index", r.Index, "location", location)
		return Outcome{Status: Created, Location: location}, nil
	}
	if err != nil {
		return Outcome{}, xerrors.Errorf("failed to get baseline: %w", err)
	}

	baseline, err := diffimage.Decode(data)
	if err != nil {
		return Outcome{}, xerrors.Errorf("failed to decode baseline %s: %w", key, err)
	}
	current, err := diffimage.Decode(r.Image)
	if err != nil {
		return Outcome{}, xerrors.Errorf("failed to decode screenshot of %s: %w", r.URL, err)
	}

	result := m.differ.Calculate(baseline, current)
	if result.DiffAmount <= m.config.Tolerance {
		return Outcome{Status: Match, DiffAmount: result.DiffAmount, Location: key}, nil
	}

	encoded, err := diffimage.EncodePNG(result.Image)
	if err != nil {
		return Outcome{}, err
	}
	location, err := m.storage.Put(ctx, strings.TrimSuffix(key, ".png")+".diff.png", encoded)
	if err != nil {
		return Outcome{}, xerrors.Errorf("failed to store diff image: %w", err)
	}
	m.log.Info("screenshot differs from baseline", "url", r.URL, "target", r.Target, "index", r.Index, "diffAmount", result.DiffAmount)
	return Outcome{Status: Mismatch, DiffAmount: result.DiffAmount, Location: location}, nil
}
