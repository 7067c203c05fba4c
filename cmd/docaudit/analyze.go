package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

type analyzeFlags struct {
	offline     bool
	sidecar     bool
	mode        string
	fallback    string
	export      string
	out         string
	options     string
	budget      float64
	concurrency int
}

func newAnalyzeCommand(verbose *bool) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a document and write a highlighted export",
		Long: "Runs segmentation, context enrichment, model analysis, coordinate mapping and\n" +
			"highlighting locally. Ctrl-C stops dispatching and keeps the findings so far.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.OutOrStdout(), args[0], f, newLogger(*verbose))
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.offline, "offline", false, "Use pattern detection and hash embeddings only; no network calls")
	fl.BoolVar(&f.sidecar, "sidecar", false, "Use the side-car at SIDECAR_URL for PDF tokens and server highlighting")
	fl.StringVar(&f.mode, "mode", "auto", "Highlight mode: auto, server, overlay, annotation")
	fl.StringVar(&f.fallback, "fallback", "", "Fallback highlight mode when the primary fails")
	fl.StringVar(&f.export, "export", "json", "Export format: binary, json, annotation, report")
	fl.StringVarP(&f.out, "out", "o", "", "Output path (default <file>-audit.<ext>)")
	fl.StringVar(&f.options, "options", "", "JSON file with analysis options")
	fl.Float64Var(&f.budget, "budget", 0, "Cost budget in USD (0 disables)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "Concurrent model calls (0 keeps the configured value)")
	return cmd
}

func runAnalyze(w io.Writer, path string, f analyzeFlags, log *slog.Logger) error {
	cfg := config.Load()
	if !f.offline && cfg.OpenAIAPIKey == "" {
		return &config.ConfigurationError{Field: "OPENAI_API_KEY", Reason: "is required unless --offline is set"}
	}
	analysis, err := analysisFrom(cfg, f)
	if err != nil {
		return err
	}
	format, err := highlight.ParseExportFormat(f.export)
	if err != nil || format == highlight.ExportNone {
		return fmt.Errorf("--export must be one of binary, json, annotation, report")
	}
	mode, err := highlight.ParseMode(f.mode)
	if err != nil {
		return err
	}
	var fallback highlight.Mode
	if f.fallback != "" {
		if fallback, err = highlight.ParseMode(f.fallback); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	built, err := pipeline.BuildServices(cfg, pipeline.BuildOptions{Offline: f.offline, NoSidecar: !f.sidecar}, log)
	if err != nil {
		return err
	}
	defer built.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	job := &pipeline.Job{
		ID:        "local",
		DocID:     pipeline.ContentHashHex(data)[:16],
		Status:    pipeline.StatusQueued,
		Filename:  filepath.Base(path),
		Analysis:  analysis,
		Highlight: highlight.Request{Mode: mode, Fallback: fallback, Export: format},
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)
	pipeline.NewWorker(built.Services, nil, log, cfg.PDFFallbackPdftotext).Process(ctx, job)

	snap := job.Snapshot()
	out := job.Output()
	if out == nil || out.Analysis == nil {
		return fmt.Errorf("analysis %s: %s", snap.Status, strings.Join(snap.Progress.Errors, "; "))
	}

	target := ""
	if out.Highlight != nil {
		exp, err := highlight.Export(out.Highlight, format)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		target = f.out
		if target == "" {
			target = strings.TrimSuffix(path, filepath.Ext(path)) + "-audit" + exp.Extension
		}
		if err := os.WriteFile(target, exp.Data, 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, renderSummary(snap, out, target))
	return nil
}

func analysisFrom(cfg config.Config, f analyzeFlags) (config.Analysis, error) {
	a := cfg.Analysis()
	if f.options != "" {
		raw, err := os.ReadFile(f.options)
		if err != nil {
			return a, err
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return a, &config.ConfigurationError{Field: "options", Reason: err.Error()}
		}
	}
	if f.budget > 0 {
		a.CostBudgetUSD = f.budget
	}
	if f.concurrency > 0 {
		a.Concurrency = f.concurrency
	}
	if f.offline {
		a.PatternDetection = true
	}
	return a, a.Validate()
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
