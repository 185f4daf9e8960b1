package stream

import (
	"context"

	"snapshot-capture/internal/capture"
)

// CaptureAll captures every target and returns the results in the order
// they were produced. On failure no partial results are returned.
func CaptureAll(ctx context.Context, targets []capture.Target, opts Options) ([]capture.Result, error) {
	s, err := New(ctx, targets, opts)
	if err != nil {
		return nil, err
	}

	results := []capture.Result{}
	for r, err := range s.All(ctx) {
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		results = append(results, r)
	}

	// A browser that fails to exit does not invalidate the screenshots.
	if err := s.Close(); err != nil {
		s.log.Error(err, "failed to close capture stream")
	}
	return results, nil
}
