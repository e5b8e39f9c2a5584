// Command mp4probe inspects MP4-family files over local filesystem or
// HTTP: container probing, structural metadata, subtitle extraction, and
// keyframe selection for thumbnailing.
//
// Pixel decoding is a collaborator concern, so the thumbs command writes
// the selected keyframes as self-contained Annex-B elementary streams
// instead of JPEG files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mp4probe/internal/config"
	"mp4probe/internal/logger"
	"mp4probe/internal/metadata"
	"mp4probe/internal/models"
	"mp4probe/internal/mp4"
	"mp4probe/internal/stream"
	"mp4probe/internal/subtitles"
	"mp4probe/internal/thumbnails"
)

func main() {
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	configFile := flag.String("c", "", "Path to the extraction config file")
	count := flag.Int("n", 0, "Thumbnail count (overrides config)")
	outDir := flag.String("o", ".", "Output directory for thumbs")
	flag.Usage = usage
	flag.Parse()

	log := logger.NewLogger(*logLevel)

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	command, target := flag.Arg(0), flag.Arg(1)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}
	}
	if *count > 0 {
		cfg.ThumbnailCount = *count
	}

	// Cancel on SIGINT/SIGTERM so an in-flight extraction unwinds at its
	// next suspension point.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(target, cfg, log)
	if err != nil {
		log.Errorf("Failed to open %s: %v", target, err)
		os.Exit(1)
	}
	defer src.Close()

	err = run(ctx, command, target, src, cfg, log, *outDir)
	if httpSrc, ok := src.(*stream.HTTPSource); ok {
		httpSrc.LogStats()
	}
	if err != nil {
		log.Errorf("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mp4probe [flags] <command> <path-or-url>

Commands:
  probe    identify the container format
  meta     extract structural metadata as JSON
  subs     extract subtitles as SRT
  thumbs   select keyframes and write Annex-B elementary streams

Flags:
`)
	flag.PrintDefaults()
}

func openSource(target string, cfg *config.Config, log logger.Logger) (stream.Source, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		client := &http.Client{Timeout: cfg.RequestTimeout}
		return stream.NewHTTPSource(target,
			stream.WithClient(client),
			stream.WithHeaders(cfg.Headers),
			stream.WithLogger(log),
		), nil
	}
	return stream.OpenLocal(target)
}

func run(ctx context.Context, command, target string, src stream.Source, cfg *config.Config, log logger.Logger, outDir string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ExtractionTimeout)
	defer cancel()

	switch command {
	case "probe":
		return runProbe(ctx, src)
	case "meta":
		ex := metadata.NewExtractor(log)
		info, err := ex.Extract(ctx, src)
		if err != nil {
			return err
		}
		return printJSON(info)
	case "subs":
		ex := subtitles.NewExtractor(log, subtitles.WithGapThreshold(cfg.GapThreshold))
		cues, err := ex.Extract(ctx, src)
		if err != nil {
			if errors.Is(err, subtitles.ErrNoSubtitleTrack) {
				log.Infof("No subtitle tracks in %s", target)
				return nil
			}
			return err
		}
		printSRT(cues)
		return nil
	case "thumbs":
		ex := thumbnails.NewExtractor(log,
			thumbnails.WithCount(cfg.ThumbnailCount),
			thumbnails.WithMaxSize(uint(cfg.ThumbnailMaxWidth), uint(cfg.ThumbnailMaxHeight)),
			thumbnails.WithQuality(cfg.JPEGQuality),
			thumbnails.WithGapThreshold(cfg.GapThreshold),
			thumbnails.WithDeadline(cfg.ExtractionTimeout),
		)
		keys, _, err := ex.ExtractSamples(ctx, src)
		if err != nil {
			return err
		}
		return writeKeySamples(keys, outDir, log)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runProbe(ctx context.Context, src stream.Source) error {
	result := struct {
		Format models.Format `json:"format"`
		Size   int64         `json:"size,omitempty"`
		Valid  bool          `json:"is_valid"`
		Error  string        `json:"error,omitempty"`
	}{Valid: true}

	if size, err := src.Size(ctx); err == nil {
		result.Size = size
	}

	format, err := mp4.DetectFormat(ctx, src)
	result.Format = format
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	}
	return printJSON(result)
}

func writeKeySamples(keys []models.KeySample, outDir string, log logger.Logger) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i, key := range keys {
		name := filepath.Join(outDir, fmt.Sprintf("keyframe-%03d-%s.h264", i, timestampSlug(key.Timestamp)))
		if err := os.WriteFile(name, key.AnnexB, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		log.Infof("wrote %s (sample %d, %d bytes)", name, key.Index, len(key.AnnexB))
	}
	return printJSON(keys)
}

func timestampSlug(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return strings.ReplaceAll(d.Truncate(time.Millisecond).String(), ".", "_")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSRT(cues []models.Cue) {
	for i, c := range cues {
		fmt.Printf("%d\n%s --> %s\n%s\n\n", i+1, c.SRTStart(), c.SRTEnd(), c.Text)
	}
}
