// Package storage persists captured images.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"

	"snapshot-capture/internal/capture"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid key")
)

type Storage interface {
	// Put stores data under key and returns where it was written.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the data stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ResultKey names a result as prefix/<params hash>/<target>-<index>.png.
// The hash covers every parameter that changes the image, so the same
// capture taken again lands on the same key and any other capture does not.
func ResultKey(prefix string, r capture.Result) string {
	h := sha256.New()
	fmt.Fprintf(h, "%q\n%q\n%q\n%q\n%t\n%d\n%dx%d",
		r.URL, r.Target, r.Hidden, r.Remove, r.DisableCSSAnimation, r.Delay, r.Viewport.Width, r.Viewport.Height)
	sum := h.Sum(nil)
	target := unsafeKeyChars.ReplaceAllString(r.Target, "_")
	return path.Join(prefix, hex.EncodeToString(sum[:])[:16], fmt.Sprintf("%s-%d.png", target, r.Index))
}
