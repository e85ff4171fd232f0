// Command bulkingest loads every WAV recording in a directory into one
// collection synchronously, using the same pipeline as the API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"annotator/internal/audio"
	"annotator/internal/config"
	"annotator/internal/ingest"
	"annotator/internal/logger"
	"annotator/internal/questdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bulkingest:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("bulkingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "", "directory holding the recordings")
	pattern := fs.String("pattern", "*.WAV", "glob pattern inside -dir")
	collection := fs.String("collection", "", "target collection")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	cfgPath := fs.String("config", envOr("ANN_CONFIG", "config/config.yaml"), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dir) == "" {
		return errors.New("-dir required")
	}
	if strings.TrimSpace(*collection) == "" {
		return errors.New("-collection required")
	}
	table, err := questdb.NormalizeTableName(*collection)
	if err != nil {
		return err
	}

	files, err := collectFiles(*dir, *pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %s in %s", *pattern, *dir)
	}
	fmt.Fprintf(out, "Found %d files in %s, target table %q\n", len(files), *dir, table)
	if !*yes && !confirm(in, out) {
		fmt.Fprintln(out, "aborted")
		return nil
	}

	envOnly := strings.EqualFold(os.Getenv("ANN_ENV_ONLY"), "true") || os.Getenv("ANN_ENV_ONLY") == "1"
	cfg, err := config.Load(*cfgPath, envOnly)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	qdb, err := questdb.Open(cfg.QuestDB)
	if err != nil {
		return fmt.Errorf("questdb: %w", err)
	}
	defer qdb.Close()

	pipeline := &ingest.Pipeline{
		Provisioner: questdb.NewProvisioner(qdb, cfg.QuestDB, log),
		Orchestrator: &ingest.Orchestrator{
			Dial:      questdb.NewILPDialer(cfg.QuestDB.ILPConf),
			ChunkSize: cfg.Ingest.ChunkSize,
			Workers:   cfg.Ingest.Workers,
			Logger:    log,
		},
		Decode: audio.ReadWAV,
		Logger: log,
	}
	report, err := pipeline.IngestFiles(ctx, *collection, files, func(fr ingest.FileReport) {
		writeFileLine(out, fr)
	})
	if report.Table != "" {
		writeSummary(out, report)
	}
	if err != nil {
		log.Error("bulk ingest aborted", zap.Error(err))
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// collectFiles returns matching regular files in lexical order, which for
// recorder names is acquisition order.
func collectFiles(dir, pattern string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "*.WAV"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Proceed? [y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func writeFileLine(out io.Writer, fr ingest.FileReport) {
	if fr.Error != "" {
		fmt.Fprintf(out, "  FAIL %s: %s\n", fr.File, fr.Error)
		return
	}
	status := "ok"
	if fr.Failed() {
		status = "FAIL"
	} else if fr.Mismatch {
		status = "PARTIAL"
	}
	fmt.Fprintf(out, "  %-7s %s  %d/%d points  %s\n", status, fr.File, fr.Written, fr.Expected, fr.Duration.Round(time.Millisecond))
}

func writeSummary(out io.Writer, r ingest.JobReport) {
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintf(out, "Files:          %d/%d succeeded\n", r.FilesSucceeded, r.FilesTotal)
	fmt.Fprintf(out, "Points written: %d of %d expected\n", r.PointsWritten, r.PointsExpected)
	if r.Mismatch {
		fmt.Fprintln(out, "WARNING: written count differs from expected")
	}
	fmt.Fprintf(out, "Elapsed:        %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Throughput:     %.0f points/sec\n", r.PointsPerSec)
	if r.FilesSucceeded > 0 {
		fmt.Fprintf(out, "Per file:       %d points\n", r.PointsWritten/int64(r.FilesSucceeded))
	}
}
