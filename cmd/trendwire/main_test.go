package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/trendwire"
	"github.com/poiesic/trendwire/ai/mock"
	"github.com/poiesic/trendwire/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const reportJSON = `{"headline":"Remakes dominate","trends":[` +
	`{"title":"Remakes","description":"Studios revisit classics","importance":"high","references":[1]}],` +
	`"summary":"Expect more remakes."}`

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []digest.Message
}

func (d *recordingDeliverer) Deliver(_ context.Context, msg digest.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("run polls every three hours by default", func(t *testing.T) {
		cmd := findCommand(t, app, "run")
		var pollFlag *cli.DurationFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.DurationFlag); ok && f.Name == "poll-every" {
				pollFlag = f
				break
			}
		}
		require.NotNil(t, pollFlag)
		assert.Equal(t, "3h0m0s", pollFlag.Value.String())
	})

	t.Run("subscribe cadence defaults to daily", func(t *testing.T) {
		cmd := findCommand(t, app, "subscribe")
		var cadenceFlag *cli.StringFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "cadence" {
				cadenceFlag = f
				break
			}
		}
		require.NotNil(t, cadenceFlag)
		assert.Equal(t, "daily", cadenceFlag.Value)
	})

	t.Run("config reads the environment", func(t *testing.T) {
		var configFlag *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "config" {
				configFlag = f
				break
			}
		}
		require.NotNil(t, configFlag)
		assert.Equal(t, []string{"TRENDWIRE_CONFIG"}, configFlag.EnvVars)
	})

	t.Run("reindex defaults", func(t *testing.T) {
		cmd := findCommand(t, app, "reindex")
		defaults := map[string]int{}
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok {
				defaults[f.Name] = f.Value
			}
		}
		assert.Equal(t, map[string]int{
			"batch-size":      100,
			"workers":         2,
			"report-interval": 100,
			"max-retries":     3,
		}, defaults)
	})
}

func TestCommandArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "subscribe requires a category",
			args:    []string{"trendwire", "subscribe", "42"},
			wantErr: "category",
		},
		{
			name:    "subscribe requires an id",
			args:    []string{"trendwire", "subscribe", "--category", "games"},
			wantErr: "subscriber id is required",
		},
		{
			name:    "subscribe rejects unknown cadence",
			args:    []string{"trendwire", "subscribe", "--category", "games", "--cadence", "hourly", "42"},
			wantErr: "hourly",
		},
		{
			name:    "unsubscribe requires an id",
			args:    []string{"trendwire", "unsubscribe"},
			wantErr: "subscriber id is required",
		},
		{
			name:    "analyze requires a scope",
			args:    []string{"trendwire", "analyze"},
			wantErr: "--category or --query is required",
		},
		{
			name:    "reindex rejects zero batch size",
			args:    []string{"trendwire", "reindex", "--batch-size", "0"},
			wantErr: "batch-size must be greater than 0",
		},
		{
			name:    "missing config file",
			args:    []string{"trendwire", "--config", "/nonexistent/trendwire.yaml", "status"},
			wantErr: "trendwire.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp()
			app.Writer = &bytes.Buffer{}
			app.ErrWriter = &bytes.Buffer{}
			err := app.Run(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCommands_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "trendwire.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"store:\n  path: "+filepath.Join(dir, "db")+"\norchestrator:\n  workers: 2\n"), 0o600))

	recordsPath := filepath.Join(dir, "records.csv")
	require.NoError(t, os.WriteFile(recordsPath, []byte(
		"url,title,text,category\n"+
			"https://example.com/1,Remake announced,A classic shooter returns,games\n"+
			"https://example.com/2,Price hike,Console prices go up again,games\n"), 0o600))

	deliverer := &recordingDeliverer{}
	systemOptions = []trendwire.Option{
		trendwire.WithEmbedder(&mock.MockEmbedder{Dim: 32}),
		trendwire.WithProviders(mock.NewMockCompletion("primary", reportJSON)),
		trendwire.WithDeliverer(deliverer),
	}
	t.Cleanup(func() { systemOptions = nil })

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out
		err := app.Run(append([]string{"trendwire", "--config", configPath, "--log-level", "error"}, args...))
		require.NoError(t, err, "trendwire %s", strings.Join(args, " "))
		return out.String()
	}

	out := run("ingest", "--type", "csv", recordsPath)
	assert.Contains(t, out, "received 2")
	assert.Contains(t, out, "enqueued 2")

	out = run("ingest", "--type", "csv", recordsPath)
	assert.Contains(t, out, "duplicates 2")

	out = run("status")
	assert.Contains(t, out, "ingest succeeded")
	assert.Contains(t, out, "embed succeeded")

	out = run("analyze", "--category", "Games")
	assert.Contains(t, out, "Remakes dominate")
	assert.Contains(t, out, "- Remakes [high]")

	out = run("subscribe", "--category", "games", "--cadence", "weekly", "42")
	assert.Contains(t, out, "subscribed 42 to games (weekly)")

	out = run("digest")
	assert.Contains(t, out, "due 1, enqueued 1")
	assert.Equal(t, 1, deliverer.count())

	out = run("digest")
	assert.Contains(t, out, "due 0")
	assert.Equal(t, 1, deliverer.count())

	out = run("unsubscribe", "42")
	assert.Contains(t, out, "unsubscribed 42")

	var out2 bytes.Buffer
	app := newApp()
	app.Writer = &out2
	err := app.Run([]string{"trendwire", "--config", configPath, "unsubscribe", "42"})
	require.Error(t, err)

	out = run("prune", "--older-than", "1h")
	assert.Contains(t, out, "pruned 0 documents")
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name          string
		logLevel      string
		expectedLevel slog.Level
		expectError   bool
	}{
		{
			name:          "debug level",
			logLevel:      "debug",
			expectedLevel: slog.LevelDebug,
			expectError:   false,
		},
		{
			name:          "info level",
			logLevel:      "info",
			expectedLevel: slog.LevelInfo,
			expectError:   false,
		},
		{
			name:          "warn level",
			logLevel:      "warn",
			expectedLevel: slog.LevelWarn,
			expectError:   false,
		},
		{
			name:          "error level",
			logLevel:      "error",
			expectedLevel: slog.LevelError,
			expectError:   false,
		},
		{
			name:          "uppercase level",
			logLevel:      "DEBUG",
			expectedLevel: slog.LevelDebug,
			expectError:   false,
		},
		{
			name:        "invalid level",
			logLevel:    "trace",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &cli.App{
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "log-level",
						Aliases: []string{"l"},
						Value:   "info",
					},
				},
				Before: setupLogger,
				Action: func(c *cli.Context) error {
					return nil
				},
			}

			err := app.Run([]string{"trendwire", "--log-level", tt.logLevel})
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)

			logger := slog.Default()
			assert.True(t, logger.Enabled(context.Background(), tt.expectedLevel))
			if tt.expectedLevel > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.expectedLevel-1))
			}
		})
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
