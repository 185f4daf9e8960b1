package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/runnable"
	"snapshot-capture/internal/storage"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	}

	return defaultValue
}

func main() {
	_ = godotenv.Load()

	var engineName string
	var chromeDevtoolsProtocolURL string
	var headless bool
	var storageBackend string
	var directory string
	var s3Bucket string
	flag.StringVar(&engineName, "engine", envOrDefaultValue("ENGINE", engine.NamePlaywright), "Browser engine (playwright or chromedp)")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", envOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.BoolVar(&headless, "headless", envOrDefaultValue("HEADLESS", true), "Run the browser without a window")
	flag.StringVar(&storageBackend, "storage-backend", envOrDefaultValue("STORAGE_BACKEND", ""), "Persist results (file or s3); empty only streams them")
	flag.StringVar(&directory, "directory", envOrDefaultValue("DIRECTORY", "/tmp"), "Output directory for the file backend")
	flag.StringVar(&s3Bucket, "s3-bucket", envOrDefaultValue("S3_BUCKET", ""), "Bucket for the s3 backend")
	flag.BoolVar(&runnable.Debug, "debug", envOrDefaultValue("DEBUG", false), "Enable pprof endpoints and human readable logs")
	flag.Parse()

	logger, err := runnable.NewLogger(runnable.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	entrypointLogger := logr.FromSlogHandler(logger.Handler()).WithName("entrypoint")

	ctx := context.Background()

	e, err := engine.Select(engineName, headless, chromeDevtoolsProtocolURL)
	if err != nil {
		entrypointLogger.Error(err, "unable to create browser engine")
		os.Exit(1)
	}

	var s storage.Storage
	switch storageBackend {
	case "":
	case "s3":
		s, err = storage.NewS3Storage(ctx, storage.S3Config{Bucket: s3Bucket})
	case "file":
		s, err = storage.NewFileStorage(ctx, storage.FileConfig{Directory: directory})
	default:
		err = xerrors.Errorf("unknown storage backend %q", storageBackend)
	}
	if err != nil {
		entrypointLogger.Error(err, "unable to create storage backend")
		os.Exit(1)
	}

	entrypointLogger.Info("starting server", "engine", engineName)
	if err := runnable.NewServer(e, s, logger).Start(ctx); err != nil {
		entrypointLogger.Error(err, "problem running server")
		os.Exit(1)
	}
}
