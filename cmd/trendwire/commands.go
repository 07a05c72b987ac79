package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/trendwire"
	"github.com/poiesic/trendwire/config"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/reindex"
	"github.com/poiesic/trendwire/source"
	"github.com/poiesic/trendwire/source/csv"
	"github.com/urfave/cli/v2"
)

// defaultRetention applies to prune when neither the flag nor the config sets one.
const defaultRetention = 30 * 24 * time.Hour

// systemOptions lets tests replace AI services and delivery.
var systemOptions []trendwire.Option

func openSystem(c *cli.Context) (*trendwire.System, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	sys, err := trendwire.Open(cfg, systemOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to open system: %w", err)
	}
	return sys, nil
}

func runCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signalContext(c.Context)
	defer stop()
	return sys.Run(ctx, c.Duration("poll-every"))
}

func ingestCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	sources, err := ingestSources(c, sys.Config())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no sources: pass URLs, --sources-file or configure sources")
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	if err := sys.Start(ctx); err != nil {
		return err
	}

	if every := c.Duration("every"); every > 0 {
		return pollLoop(ctx, sys, sources, every)
	}

	summary, pollErr := sys.Pipeline.Poll(ctx, sources)
	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	if err := sys.Drain(waitCtx); err != nil {
		return fmt.Errorf("waiting for ingestion: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "received %d, malformed %d, duplicates %d, enqueued %d, failed %d\n",
		summary.Received, summary.Malformed, summary.Duplicates, summary.Enqueued, summary.Failed)
	return pollErr
}

func pollLoop(ctx context.Context, sys *trendwire.System, sources []source.Source, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		summary, err := sys.Pipeline.Poll(ctx, sources)
		if err != nil {
			fmt.Fprintf(os.Stderr, "poll failures: %v\n", err)
		}
		fmt.Fprintf(os.Stderr, "%s enqueued %d, duplicates %d\n", time.Now().Format(time.RFC3339), summary.Enqueued, summary.Duplicates)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ingestSources merges URL arguments, the sources file and the configured sources.
func ingestSources(c *cli.Context, cfg *config.Config) ([]source.Source, error) {
	var sources []source.Source
	if c.Args().Present() {
		st, err := core.ParseSourceType(c.String("type"))
		if err != nil {
			return nil, err
		}
		for _, ref := range c.Args().Slice() {
			sources = append(sources, source.Source{Ref: ref, Type: st, Category: strings.ToLower(c.String("category"))})
		}
	}

	if path := c.String("sources-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		listed, err := csv.ReadSources(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sources = append(sources, listed...)
	}

	if len(sources) == 0 {
		return cfg.SourceList()
	}
	return sources, nil
}

func analyzeCommand(c *cli.Context) error {
	scope := core.AnalysisScope{
		Category: strings.ToLower(strings.TrimSpace(c.String("category"))),
		Query:    strings.TrimSpace(c.String("query")),
	}
	if scope.Category == "" && scope.Query == "" {
		return errors.New("--category or --query is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signalContext(c.Context)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	if err := sys.Start(ctx); err != nil {
		return err
	}

	report, err := sys.Analyze(ctx, scope, c.Duration("window"), "cli")
	if err != nil {
		return err
	}
	printReport(c.App.Writer, report)
	return nil
}

func printReport(w io.Writer, r *core.AnalysisReport) {
	fmt.Fprintf(w, "%s (report %s, provider %s)\n\n", r.Scope, r.RequestID, r.ProviderUsed)
	if r.Degraded {
		fmt.Fprintln(w, strings.TrimSpace(r.RawText))
		return
	}
	if r.Headline != "" {
		fmt.Fprintln(w, r.Headline)
	}
	for _, t := range r.Trends {
		if t.Importance != "" {
			fmt.Fprintf(w, "- %s [%s]\n", t.Title, t.Importance)
		} else {
			fmt.Fprintf(w, "- %s\n", t.Title)
		}
		if t.Description != "" {
			fmt.Fprintf(w, "  %s\n", t.Description)
		}
	}
	if r.SummaryText != "" {
		fmt.Fprintf(w, "\n%s\n", r.SummaryText)
	}
}

func subscribeCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("subscriber id is required")
	}
	cadence, err := core.ParseCadence(c.String("cadence"))
	if err != nil {
		return err
	}
	categories := core.NormalizeCategories(c.StringSlice("category"))
	if len(categories) == 0 {
		return errors.New("at least one category is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Subscribe(c.Context, id, categories, cadence); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "subscribed %s to %s (%s)\n", id, strings.Join(categories, ", "), cadence)
	return nil
}

func unsubscribeCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("subscriber id is required")
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Subscriptions.DeleteSubscription(c.Context, id); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", id, err)
	}
	fmt.Fprintf(c.App.Writer, "unsubscribed %s\n", id)
	return nil
}

func digestCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signalContext(c.Context)
	defer stop()
	if err := sys.Start(ctx); err != nil {
		return err
	}

	result, tickErr := sys.Scheduler.Tick(ctx, time.Now())
	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	if err := sys.Drain(waitCtx); err != nil {
		return fmt.Errorf("waiting for digests: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "due %d, enqueued %d, failed %d\n", result.Due, result.Enqueued, result.Failed)
	return tickErr
}

func statusCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if id := c.Args().First(); id != "" {
		rec, err := sys.Orchestrator.Status(c.Context, id)
		if err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "%s %s %s attempts=%d key=%s\n", rec.ID, rec.Class, rec.Status, rec.AttemptCount, rec.IdempotenceKey)
		if rec.Error != "" {
			fmt.Fprintf(c.App.Writer, "error: %s\n", rec.Error)
		}
		return nil
	}

	tasks, err := sys.Orchestrator.List(c.Context)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, rec := range tasks {
		counts[string(rec.Class)+" "+string(rec.Status)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(c.App.Writer, "%-20s %d\n", k, counts[k])
	}
	fmt.Fprintf(c.App.Writer, "%-20s %d\n", "total", len(tasks))
	return nil
}

func reindexCommand(c *cli.Context) error {
	cfg := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		Workers:        c.Int("workers"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signalContext(c.Context)
	defer stop()

	aiCfg := sys.Config().AI()
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", aiCfg.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", aiCfg.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	if err := sys.Reindexer(cfg, os.Stderr).Run(ctx); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func pruneCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	age := c.Duration("older-than")
	if age <= 0 {
		age = sys.Config().Retention.MaxAge
	}
	if age <= 0 {
		age = defaultRetention
	}

	n, err := sys.Prune(c.Context, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "pruned %d documents older than %s\n", n, age)
	return nil
}
