package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/capture"
	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/runnable"
	"snapshot-capture/internal/shutdown"
	"snapshot-capture/internal/snapshot"
	"snapshot-capture/internal/storage"
	"snapshot-capture/internal/stream"
	"snapshot-capture/internal/targets"
)

var errMismatch = errors.New("screenshots differ from baseline")

type Line struct {
	URL        string          `json:"url"`
	Target     string          `json:"target"`
	Index      int             `json:"index"`
	Location   string          `json:"location"`
	Status     snapshot.Status `json:"status,omitempty"`
	DiffAmount *float64        `json:"diffAmount,omitempty"`
	Mismatch   bool            `json:"mismatch,omitempty"`
}

type config struct {
	path          string
	concurrency   int
	engine        engine.Engine
	storage       storage.Storage
	baseline      bool
	threshold     float64
	tolerance     float64
	logger        *slog.Logger
	shutdown      *shutdown.Registry
	uploadWorkers int
}

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	}

	return defaultValue
}

func main() {
	_ = godotenv.Load()

	var concurrency int
	var engineName string
	var chromeDevtoolsProtocolURL string
	var headless bool
	var storageBackend string
	var directory string
	var s3Bucket string
	var baseline bool
	var threshold float64
	var tolerance float64
	var schedule string
	var debug bool
	flag.IntVar(&concurrency, "concurrency", envOrDefaultValue("CONCURRENCY", 0), "Maximum number of browsers running at once (0 uses the document's value or 4)")
	flag.StringVar(&engineName, "engine", envOrDefaultValue("ENGINE", engine.NamePlaywright), "Browser engine (playwright or chromedp)")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", envOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.BoolVar(&headless, "headless", envOrDefaultValue("HEADLESS", os.Getenv("DISPLAY") == ""), "Run the browser without a window")
	flag.StringVar(&storageBackend, "storage-backend", envOrDefaultValue("STORAGE_BACKEND", "file"), "Where screenshots are written (file or s3)")
	flag.StringVar(&directory, "directory", envOrDefaultValue("DIRECTORY", "/tmp"), "Output directory for the file backend")
	flag.StringVar(&s3Bucket, "s3-bucket", envOrDefaultValue("S3_BUCKET", ""), "Bucket for the s3 backend")
	flag.BoolVar(&baseline, "baseline", envOrDefaultValue("BASELINE", false), "Compare every screenshot with its stored baseline")
	flag.Float64Var(&threshold, "threshold", envOrDefaultValue("THRESHOLD", 0.1), "Brightness change for a pixel to count as different")
	flag.Float64Var(&tolerance, "tolerance", envOrDefaultValue("TOLERANCE", 0.0), "Share of differing pixels still accepted as a match")
	flag.StringVar(&schedule, "schedule", envOrDefaultValue("SCHEDULE", ""), "Cron schedule to capture repeatedly instead of once")
	flag.BoolVar(&debug, "debug", envOrDefaultValue("DEBUG", false), "Human readable logs")
	flag.Parse()

	logger, err := runnable.NewLogger(debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		logger.Error("targets document not specified")
		os.Exit(2)
	}

	ctx := context.Background()

	e, err := engine.Select(engineName, headless, chromeDevtoolsProtocolURL)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var s storage.Storage
	switch storageBackend {
	case "s3":
		s, err = storage.NewS3Storage(ctx, storage.S3Config{Bucket: s3Bucket})
	default:
		s, err = storage.NewFileStorage(ctx, storage.FileConfig{Directory: directory})
	}
	if err != nil {
		logger.Error("failed to create storage backend", "error", err)
		os.Exit(1)
	}

	c := config{
		path:          args[0],
		concurrency:   concurrency,
		engine:        e,
		storage:       s,
		baseline:      baseline,
		threshold:     threshold,
		tolerance:     tolerance,
		logger:        logger,
		shutdown:      shutdown.Default,
		uploadWorkers: 8,
	}

	if schedule == "" {
		if err := run(ctx, c); err != nil {
			logger.Error("capture failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cr := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
	if _, err := cr.AddFunc(schedule, func() {
		if err := run(ctx, c); err != nil {
			logger.Error("scheduled capture failed", "error", err)
		}
	}); err != nil {
		logger.Error("failed to parse schedule", "schedule", schedule, "error", err)
		os.Exit(1)
	}
	cr.Start()
	logger.Info("waiting for schedule", "schedule", schedule)

	<-ctx.Done()
	<-cr.Stop().Done()
}

// run captures every target in the document once, stores each screenshot
// as soon as it arrives and prints one JSON line per screenshot.
func run(ctx context.Context, c config) error {
	doc, err := targets.Load(c.path)
	if err != nil {
		return err
	}
	ts, err := doc.Compile()
	if err != nil {
		return err
	}
	concurrency := c.concurrency
	if concurrency <= 0 {
		concurrency = doc.Concurrency
	}

	log := logr.FromSlogHandler(c.logger.Handler())
	st, err := stream.New(ctx, ts, stream.Options{
		Concurrency: concurrency,
		Engine:      c.engine,
		Logger:      log,
		Shutdown:    c.shutdown,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			c.logger.Error("failed to close capture stream", "error", err)
		}
	}()

	prefix := fmt.Sprintf("captures/%s/%s", time.Now().Format("20060102150405"), st.ID())
	matcher := snapshot.NewMatcher(c.storage, snapshot.Config{
		Prefix:    "baseline",
		Threshold: c.threshold,
		Tolerance: c.tolerance,
	}, log)

	var (
		mu         sync.Mutex
		enc        = json.NewEncoder(os.Stdout)
		mismatches atomic.Int64
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.uploadWorkers)

	for result, err := range st.All(egCtx) {
		if err != nil {
			if werr := eg.Wait(); werr != nil {
				return werr
			}
			return xerrors.Errorf("failed to capture: %w", err)
		}

		eg.Go(func() error {
			line, err := store(egCtx, c, matcher, prefix, result)
			if err != nil {
				return err
			}
			if line.Mismatch {
				mismatches.Add(1)
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(line)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if n := mismatches.Load(); n > 0 {
		return xerrors.Errorf("%d screenshots: %w", n, errMismatch)
	}
	return nil
}

func store(ctx context.Context, c config, matcher *snapshot.Matcher, prefix string, r capture.Result) (Line, error) {
	location, err := c.storage.Put(ctx, storage.ResultKey(prefix, r), r.Image)
	if err != nil {
		return Line{}, xerrors.Errorf("failed to store screenshot of %s: %w", r.URL, err)
	}
	line := Line{
		URL:      r.URL,
		Target:   r.Target,
		Index:    r.Index,
		Location: location,
	}
	if !c.baseline {
		return line, nil
	}

	outcome, err := matcher.Match(ctx, r)
	if err != nil {
		return Line{}, err
	}
	line.Status = outcome.Status
	line.DiffAmount = &outcome.DiffAmount
	line.Mismatch = outcome.Status == snapshot.Mismatch
	return line, nil
}
