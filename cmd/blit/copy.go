package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/blit/internal/bdev"
	"github.com/bamsammich/blit/internal/config"
	"github.com/bamsammich/blit/internal/engine"
	"github.com/bamsammich/blit/internal/event"
	"github.com/bamsammich/blit/internal/image"
	"github.com/bamsammich/blit/internal/stats"
	"github.com/bamsammich/blit/internal/ui"
)

// sizeFlag is a pflag.Value accepting human-readable sizes ("4MiB", "512k").
type sizeFlag struct {
	bytes *int64
}

func (f *sizeFlag) String() string {
	if f.bytes == nil || *f.bytes == 0 {
		return ""
	}
	return humanize.IBytes(uint64(*f.bytes))
}

func (*sizeFlag) Type() string { return "size" }

func (f *sizeFlag) Set(val string) error {
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return err
	}
	*f.bytes = int64(n)
	return nil
}

var _ pflag.Value = (*sizeFlag)(nil)

func newCopyCmd() *cobra.Command {
	var (
		bmapPath   string
		noBmap     bool
		noVerify   bool
		noSync     bool
		verifyDest bool
		quiet      bool
		verbose    bool
		noProgress bool
		logFile    string
		batchBytes int64
	)

	cmd := &cobra.Command{
		Use:   "copy [flags] IMAGE DEST",
		Short: "Copy an image to a block device or file using its bmap",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imagePath, destPath := args[0], args[1]

			// Load optional config file.
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			if err := applyConfigDefaults(cmd, cfg.Defaults,
				&noVerify, &noSync, &verifyDest, &quiet); err != nil {
				return err
			}

			closeLog, err := setupLogging(verbose, quiet, logFile)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runCopy(ctx, copyParams{
				imagePath:  imagePath,
				destPath:   destPath,
				bmapPath:   bmapPath,
				noBmap:     noBmap,
				verify:     !noVerify,
				sync:       !noSync,
				verifyDest: verifyDest,
				quiet:      quiet,
				verbose:    verbose,
				noProgress: noProgress,
				batchBytes: batchBytes,
			})
		},
	}

	cmd.Flags().StringVar(&bmapPath, "bmap", "", "bmap file (default: discovered next to IMAGE)")
	cmd.Flags().BoolVar(&noBmap, "no-bmap", false, "copy the whole image without a bmap")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip bmap checksum verification while reading")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip the final durable sync")
	cmd.Flags().BoolVar(&verifyDest, "verify-dest", false, "re-read the destination after the copy and compare digests (BLAKE3)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress display")
	cmd.Flags().StringVar(&logFile, "log", "", "write structured JSON log to FILE")
	cmd.Flags().Var(&sizeFlag{bytes: &batchBytes}, "batch-size", "read batch size (e.g. 4MiB, default 1MiB)")

	return cmd
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	noVerify *bool,
	noSync *bool,
	verifyDest *bool,
	quiet *bool,
) error {
	if !cmd.Flags().Changed("no-verify") && defaults.Verify != nil {
		*noVerify = !*defaults.Verify
	}
	if !cmd.Flags().Changed("no-sync") && defaults.Sync != nil {
		*noSync = !*defaults.Sync
	}
	if !cmd.Flags().Changed("verify-dest") && defaults.VerifyDest != nil {
		*verifyDest = *defaults.VerifyDest
	}
	if !cmd.Flags().Changed("quiet") && defaults.Quiet != nil {
		*quiet = *defaults.Quiet
	}
	if !cmd.Flags().Changed("batch-size") && defaults.BatchSize != nil {
		if err := cmd.Flags().Set("batch-size", *defaults.BatchSize); err != nil {
			return fmt.Errorf("invalid batch-size in config: %w", err)
		}
	}
	return nil
}

type copyParams struct {
	imagePath  string
	destPath   string
	bmapPath   string
	noBmap     bool
	verify     bool
	sync       bool
	verifyDest bool
	quiet      bool
	verbose    bool
	noProgress bool
	batchBytes int64
}

//nolint:gocyclo // orchestrates the whole copy: open, tune, pipeline, verify
func runCopy(ctx context.Context, p copyParams) error {
	src, err := image.Open(p.imagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	engineCfg := engine.Config{
		Source:     src,
		BatchBytes: p.batchBytes,
	}

	if !p.noBmap {
		bmapPath := p.bmapPath
		if bmapPath == "" {
			bmapPath = discoverBmap(p.imagePath)
		}
		if bmapPath != "" {
			bf, err := os.Open(bmapPath)
			if err != nil {
				return fmt.Errorf("open bmap file: %w", err)
			}
			defer bf.Close()
			slog.Info("using bmap", "path", bmapPath)
			engineCfg.Bmap = bf
		} else {
			slog.Warn("no bmap file found, copying the whole image", "image", p.imagePath)
		}
	}

	// A block device destination gets exclusive access, sysfs tuning, a
	// deeper queue and proactive syncing.
	var dev *bdev.Device
	fi, err := os.Stat(p.destPath)
	isBlock := err == nil && fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0

	if isBlock {
		dev, err = bdev.Open(p.destPath, slog.Default())
		if err != nil {
			return err
		}
		defer dev.Close()

		engineCfg.Dest = dev
		engineCfg.QueueDepth = bdev.QueueDepth
		engineCfg.SyncWatermark = bdev.SyncWatermark
	} else {
		df, err := os.OpenFile(p.destPath, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("open destination: %w", err)
		}
		defer df.Close()
		engineCfg.Dest = df
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	engineCfg.Stats = collector
	engineCfg.Events = events

	s, err := engine.NewSession(engineCfg)
	if err != nil {
		return err
	}

	if dev != nil {
		if size, known := s.ImageSize(); known {
			if err := dev.CheckCapacity(size); err != nil {
				return err
			}
		}
		dev.Tune()
		defer dev.Restore()
	}

	slog.Info("starting copy",
		"image", p.imagePath,
		"dest", p.destPath,
		"image_size", s.ImageSizeHuman(),
		"mapped", s.MappedSizeHuman(),
		"mapped_percent", fmt.Sprintf("%.1f", s.MappedPercent()),
	)

	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr.Fd()),
		Quiet:      p.quiet,
		Verbose:    p.verbose,
		NoProgress: p.noProgress,
	})

	var presenterErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		presenterErr = presenter.Run(events)
	}()

	copyErr := s.Copy(ctx, engine.Options{Sync: p.sync, Verify: p.verify})

	if copyErr == nil && p.verifyDest {
		copyErr = verifyDestination(p.destPath, src, s, events)
	}

	close(events)
	wg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
	}

	if copyErr != nil {
		slog.Error("copy failed", "error", copyErr)
		return &exitError{code: 1}
	}

	if !p.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}
	return nil
}

// verifyDestination re-reads every mapped range from the destination and
// compares it against the image.
func verifyDestination(destPath string, src io.ReadSeeker, s *engine.Session, events chan<- event.Event) error {
	rd, err := os.Open(destPath)
	if err != nil {
		return fmt.Errorf("reopen destination for verification: %w", err)
	}
	defer rd.Close()

	size, _ := s.ImageSize()
	return engine.VerifyWritten(engine.VerifyConfig{
		Image:     src,
		Dest:      rd,
		Ranges:    s.Ranges(),
		BlockSize: s.BlockSize(),
		ImageSize: size,
		Events:    events,
	})
}

// discoverBmap looks for a bmap file next to the image: the image path with
// any compression extension stripped, plus ".bmap".
func discoverBmap(imagePath string) string {
	base := imagePath
	for _, ext := range []string{".gz", ".zst", ".bz2"} {
		base = strings.TrimSuffix(base, ext)
	}

	for _, candidate := range []string{base + ".bmap", imagePath + ".bmap"} {
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}
