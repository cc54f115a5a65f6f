package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/ai"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/internal/pipeline"
	"github.com/kiranshivaraju/buildwatch/internal/store"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"github.com/spf13/cobra"
)

const rule = "============================================================"

// cliApp carries what the commands need from the process.
type cliApp struct {
	out         io.Writer
	newProvider func() (models.DiagnosisProvider, time.Duration, error)
	now         func() time.Time

	dbPath        string
	databaseURL   string
	migrationsDir string
}

func newRootCmd(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:   "buildwatch",
		Short: "BuildWatch - diagnose failed CI builds",
		Long: `BuildWatch analyzes failed CI builds with a language model and keeps
an append-only history of the diagnoses.

The ledger is a local SQLite file unless --database-url points at Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.out)

	root.PersistentFlags().StringVar(&app.dbPath, "db", "builds.db", "SQLite ledger path")
	root.PersistentFlags().StringVar(&app.databaseURL, "database-url", "", "Postgres URL; overrides --db")
	root.PersistentFlags().StringVar(&app.migrationsDir, "migrations", "migrations", "Postgres migrations directory")

	root.AddCommand(newAnalyzeCmd(app), newHistoryCmd(app), newResetCmd(app))
	return root
}

func newAnalyzeCmd(app *cliApp) *cobra.Command {
	var (
		logPath string
		status  string
		name    string
		buildID string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Diagnose a build log from a file",
		Long: `Runs the analysis pipeline on a local log file. Logs are never fetched
from Azure DevOps; use "-" to read the log from stdin.

Example:
  buildwatch analyze --log build.log --name web-ci`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs, err := readLog(cmd.InOrStdin(), logPath)
			if err != nil {
				return err
			}

			provider, timeout, err := app.newProvider()
			if err != nil {
				return fmt.Errorf("diagnosis provider: %w", err)
			}

			st, closeStore, err := app.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			now := app.now()
			if buildID == "" {
				buildID = fmt.Sprintf("cli-%d", now.UnixNano())
			}

			analyzer := pipeline.NewAnalyzer(pipeline.Deps{
				Store:     st,
				Fetcher:   staticLog(logs),
				Diagnoser: ai.NewDiagnoser(provider, timeout),
				Now:       func() time.Time { return app.now().UTC() },
			})
			out := analyzer.Process(cmd.Context(), models.BuildEvent{
				BuildID:     buildID,
				BuildName:   name,
				Status:      models.ParseBuildStatus(status),
				RawResource: map[string]any{},
				ReceivedAt:  now.UTC(),
			})

			if asJSON {
				return writeJSON(app.out, out.Result)
			}
			printAnalysis(app.out, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "path to the build log, or - for stdin")
	cmd.Flags().StringVar(&status, "status", "failed", "build status reported for the log")
	cmd.Flags().StringVar(&name, "name", "CLI Test Build", "build name")
	cmd.Flags().StringVar(&buildID, "build-id", "", "build id (default cli-<timestamp>)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

func newHistoryCmd(app *cliApp) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent analyses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}

			st, closeStore, err := app.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			total, err := st.CountCompleted(cmd.Context())
			if err != nil {
				return fmt.Errorf("count history: %w", err)
			}
			recent, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			if asJSON {
				return writeJSON(app.out, map[string]any{"total": total, "recent": recent})
			}

			fmt.Fprintf(app.out, "Builds analyzed: %d\n", total)
			for _, rec := range recent {
				fmt.Fprintf(app.out, "%s  %-8s  %-10s  %s  %s\n",
					rec.Timestamp.UTC().Format(time.RFC3339), rec.Severity, rec.BuildID, rec.BuildName, rec.ErrorQuote)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newResetCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete all history, leases and failure log entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeStore, err := app.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := st.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(app.out, "DB reset complete")
			return nil
		},
	}
}

// openStore opens Postgres when a URL is set, otherwise the SQLite ledger.
func (app *cliApp) openStore(ctx context.Context) (store.Store, func(), error) {
	if app.databaseURL == "" {
		st, err := store.OpenSQLite(app.dbPath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             app.databaseURL,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.RunMigrations(app.databaseURL, app.migrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

// staticLog serves a log read up front in place of a network fetch.
type staticLog string

func (s staticLog) Fetch(context.Context, string, map[string]any) string {
	return string(s)
}

func readLog(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("log %q is empty", path)
	}
	return string(data), nil
}

func printAnalysis(w io.Writer, out pipeline.Outcome) {
	r := out.Result
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "ANALYSIS (%s):\n", out.State)
	fmt.Fprintf(w, "Error: %s\n", r.ErrorQuote)
	fmt.Fprintf(w, "Severity: %s\n", r.Severity)
	fmt.Fprintf(w, "Explanation: %s\n", r.Explanation)
	if len(r.FixSteps) > 0 {
		fmt.Fprintln(w, "Fix Steps:")
		for i, step := range r.FixSteps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, step)
		}
	}
	fmt.Fprintln(w, rule)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
