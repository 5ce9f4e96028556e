package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anime-shed/omr-inspector-go/internal/config"
	"github.com/anime-shed/omr-inspector-go/internal/export"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/observer"
	"github.com/anime-shed/omr-inspector-go/internal/pipeline"
	"github.com/anime-shed/omr-inspector-go/internal/repository"
	"github.com/anime-shed/omr-inspector-go/internal/service"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// scanOptions are the flags of the scan command
type scanOptions struct {
	settingsFile string
	format       string
	out          string
	concurrency  int
}

var opts scanOptions

var rootCmd = &cobra.Command{
	Use:   "omrscan",
	Short: "Read answer sheets into structured answers",
}

var scanCmd = &cobra.Command{
	Use:   "scan <files...>",
	Short: "Scan answer sheet images and export the results",
	Long: `Scan decodes every given sheet image, reads its QR identity and
bubble answers, and writes one report covering all sheets.

Sheets that need a reviewer are reported as flagged; sheets that could not
be read are reported as errors with the stage, measured value and threshold.

Examples:
  omrscan scan sheet-01.png sheet-02.png
  omrscan scan scans/*.jpg --format xlsx --out results.xlsx
  omrscan scan scans/*.png --settings exam.yaml --concurrency 8 --format md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return scanTo(ctx, opts, args, cmd.OutOrStdout())
	},
}

// createOutput opens the --out report file
var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// scanTo writes the report to stdout, or to opts.out when set. A report
// file that fails to close is reported as an error.
func scanTo(ctx context.Context, opts scanOptions, files []string, stdout io.Writer) error {
	if opts.out == "" {
		return runScan(ctx, opts, files, stdout)
	}
	f, err := createOutput(opts.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := runScan(ctx, opts, files, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", opts.out, err)
	}
	return nil
}

func init() {
	scanCmd.Flags().StringVarP(&opts.settingsFile, "settings", "s", "", "YAML or JSON scan settings layered over the defaults")
	scanCmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Report format: text, json, xlsx, md or html")
	scanCmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the report to a file instead of stdout")
	scanCmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "Sheets scanned in parallel (0 = settings maxConcurrent)")
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runScan submits every file, waits for all of them and writes one report
func runScan(ctx context.Context, opts scanOptions, files []string, out io.Writer) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	settings, err := config.LoadSettings(opts.settingsFile)
	if err != nil {
		return err
	}
	if opts.concurrency > 0 {
		settings = settings.WithMaxConcurrent(opts.concurrency)
	}

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	scanner, err := pipeline.NewScanner(settings, pipeline.WithEvents(events))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scanner.Shutdown(shutdownCtx)
	}()
	svc := service.NewScanService(scanner, repository.NewSheetRepository(nil, nil), nil, nil)

	start := time.Now()
	ids := make([]string, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		job, err := svc.SubmitSheet(ctx, data, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		ids = append(ids, job.ID)
	}

	counts := make(map[models.JobStatus]int)
	for _, id := range ids {
		job, err := svc.AwaitJob(ctx, id)
		if err != nil {
			// interrupted: stop whatever is still queued or running
			for _, rest := range ids {
				svc.CancelJob(context.Background(), rest)
			}
			return fmt.Errorf("scan interrupted: %w", err)
		}
		counts[job.Status]++
	}

	logger.WithFields(logrus.Fields{
		"sheets":      len(ids),
		"completed":   counts[models.StatusCompleted],
		"flagged":     counts[models.StatusFlagged],
		"error":       counts[models.StatusError],
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Batch scan finished")

	return svc.Export(ctx, out, format, ids...)
}
