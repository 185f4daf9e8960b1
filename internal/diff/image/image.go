// Package image compares screenshots.
package image

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/xerrors"
)

type DiffResult struct {
	Image      image.Image
	DiffAmount float64
}

type Differ interface {
	Calculate(baseline image.Image, target image.Image) *DiffResult
}

func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, xerrors.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
