// Command scrape runs one batch over a CSV of SKU/URL rows and writes the
// extracted records as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/supplier-scraper/internal/batch"
	"github.com/maltedev/supplier-scraper/internal/config"
	"github.com/maltedev/supplier-scraper/internal/fetcher"
	"github.com/maltedev/supplier-scraper/internal/logger"
	"github.com/maltedev/supplier-scraper/internal/parser"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/session"
	"github.com/maltedev/supplier-scraper/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "scrape:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		input       = fs.String("input", "-", "CSV file with SKU and URL columns, - for stdin")
		output      = fs.String("output", "-", "CSV file for the extracted records, - for stdout")
		supplier    = fs.String("supplier", cfg.Scraper.Supplier, "Supplier whose rules are applied")
		proxy       = fs.String("proxy", cfg.Scraper.ProxyTemplate, "Proxy template, e.g. https://proxy.example/{url}")
		rulesFile   = fs.String("rules", cfg.Scraper.RulesFile, "Rule set file (.json, .yaml or .yml)")
		sessionFile = fs.String("session", "", "Load this session before the run and save it afterwards")
		concurrency = fs.Int("concurrency", cfg.Scraper.ConcurrentLimit, "Maximum parallel fetches")
		logLevel    = fs.String("log-level", "warn", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, closeLog, err := logger.New(stderr, logger.Options{Level: *logLevel, Format: "text", File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog.Close()

	f := fetcher.New(&fetcher.Options{
		Timeout:      cfg.Scraper.Timeout,
		UserAgents:   cfg.Scraper.UserAgents,
		MaxBodyBytes: cfg.Scraper.MaxBodyBytes,
	}, log)
	runner := batch.NewRunner(f, parser.NewSelectorParser(log), storage.NewResultStore(), *concurrency, log)

	var store storage.SessionStore = storage.NewFileSessionStore(os.DevNull)
	if *sessionFile != "" {
		store = storage.NewFileSessionStore(*sessionFile)
	}
	ws := session.New(runner, store, log)

	if *sessionFile != "" {
		if err := ws.Load(ctx); err != nil {
			return err
		}
	}

	if *rulesFile != "" {
		rs, err := rules.Load(*rulesFile)
		if err != nil {
			return err
		}
		if err := ws.SetRules(rs); err != nil {
			return err
		}
	}

	ws.OverrideSettings(session.Settings{ActiveSupplier: *supplier, ProxyTemplate: *proxy})

	if err := loadRows(ws, *input, stdin); err != nil {
		return err
	}

	summary, err := ws.Run(ctx)
	if err != nil {
		return err
	}
	log.Warn("batch finished", "summary", summary.String(), "failed", summary.Failed, "duration", summary.Duration())

	if err := writeResults(ws, *output, stdout); err != nil {
		return err
	}

	if *sessionFile != "" {
		return ws.Save(ctx)
	}
	return nil
}

func loadRows(ws *session.Workspace, path string, stdin io.Reader) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	_, err := ws.LoadRows(r)
	return err
}

func writeResults(ws *session.Workspace, path string, stdout io.Writer) error {
	if path == "-" {
		return ws.Export(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := ws.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
