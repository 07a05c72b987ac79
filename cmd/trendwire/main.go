// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "trendwire",
		Usage: "Ingest news sources, analyze trends and deliver digests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"TRENDWIRE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run workers, the digest scheduler, source polling and the HTTP API",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "poll-every",
						Usage: "Poll configured sources at this interval (0 disables polling)",
						Value: 3 * time.Hour,
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Poll sources and ingest new documents",
				ArgsUsage: "[source-url...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Usage: "Source type of the URL arguments (rss, telegram, csv)",
						Value: "rss",
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "Category hint for the URL arguments",
					},
					&cli.StringFlag{
						Name:  "sources-file",
						Usage: "CSV file with url,type,category columns",
					},
					&cli.DurationFlag{
						Name:  "every",
						Usage: "Keep polling at this interval instead of polling once",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting for ingestion tasks after this long",
						Value: 30 * time.Minute,
					},
				},
			},
			{
				Name:   "analyze",
				Usage:  "Run an on-demand analysis and print the report",
				Action: analyzeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "category",
						Usage: "Category to analyze",
					},
					&cli.StringFlag{
						Name:  "query",
						Usage: "Free-text topic to analyze",
					},
					&cli.DurationFlag{
						Name:  "window",
						Usage: "Look-back window (defaults to the configured analysis window)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting for the report after this long",
						Value: 10 * time.Minute,
					},
				},
			},
			{
				Name:      "subscribe",
				Usage:     "Create or replace a digest subscription",
				ArgsUsage: "<subscriber-id>",
				Action:    subscribeCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "category",
						Usage:    "Category to include (repeatable)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "cadence",
						Usage: "Digest cadence (daily, weekly)",
						Value: "daily",
					},
				},
			},
			{
				Name:      "unsubscribe",
				Usage:     "Remove a digest subscription",
				ArgsUsage: "<subscriber-id>",
				Action:    unsubscribeCommand,
			},
			{
				Name:   "digest",
				Usage:  "Send every digest that is due now and exit",
				Action: digestCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting for digest tasks after this long",
						Value: 30 * time.Minute,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show one task, or task counts by status",
				ArgsUsage: "[task-id]",
				Action:    statusCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed every stored document with the configured embedding model",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to embed in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of batches embedded concurrently",
						Value: 2,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed batches",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:   "prune",
				Usage:  "Delete documents and vectors older than the retention window",
				Action: pruneCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Retention window (defaults to retention.max_age)",
					},
				},
			},
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
