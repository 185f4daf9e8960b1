package routes

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/myhttp"
	"snapshot-capture/internal/shutdown"
	"snapshot-capture/internal/storage"
	"snapshot-capture/internal/stream"
	"snapshot-capture/internal/targets"
)

const maxRequestBytes = 1 << 20

type CapturesConfig struct {
	Engine         engine.Engine
	MaxConcurrency int
	Meter          metric.Meter
	Shutdown       *shutdown.Registry
	// Storage, when set, persists every result and reports its location.
	Storage storage.Storage
	Prefix  string
}

type CaptureLine struct {
	capture.Result
	Location string `json:"location,omitempty"`
}

type ErrorLine struct {
	Error string `json:"error"`
}

func (c CapturesConfig) concurrency(requested int) int {
	limit := c.MaxConcurrency
	if limit <= 0 {
		limit = stream.DefaultConcurrency
	}
	if requested <= 0 {
		requested = stream.DefaultConcurrency
	}
	return min(requested, limit)
}

// Captures streams one NDJSON line per result as it is produced. The
// response is written as the stream is read, so a slow client holds the
// workers back.
func Captures(c CapturesConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		doc, err := targets.Decode(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts, err := doc.Compile()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s, err := stream.New(r.Context(), ts, stream.Options{
			Concurrency: c.concurrency(doc.Concurrency),
			Engine:      c.Engine,
			Logger:      logr.FromSlogHandler(logger.Handler()),
			Meter:       c.Meter,
			Shutdown:    c.Shutdown,
		})
		if err != nil {
			logger.Error(fmt.Sprintf("failed to create capture stream: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Error(fmt.Sprintf("failed to close capture stream: %s", err))
			}
		}()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		rc := http.NewResponseController(w)
		enc := json.NewEncoder(w)

		write := func(v any) bool {
			if err := enc.Encode(v); err != nil {
				logger.Debug(fmt.Sprintf("failed to write capture line: %s", err))
				return false
			}
			_ = rc.Flush()
			return true
		}

		for result, err := range s.All(r.Context()) {
			if err != nil {
				write(ErrorLine{Error: err.Error()})
				return
			}

			line := CaptureLine{Result: result}
			if c.Storage != nil {
				location, err := c.Storage.Put(r.Context(), storage.ResultKey(c.Prefix, result), result.Image)
				if err != nil {
					write(ErrorLine{Error: err.Error()})
					return
				}
				line.Location = location
			}
			if !write(line) {
				return
			}
		}
	}
}
