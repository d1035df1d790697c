// cmd/collector/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repo-cadence-collector/internal/analysis"
	"repo-cadence-collector/internal/api"
	"repo-cadence-collector/internal/collector"
	"repo-cadence-collector/internal/config"
	"repo-cadence-collector/internal/dataset"
	"repo-cadence-collector/internal/gitclone"
	"repo-cadence-collector/internal/github"
	"repo-cadence-collector/internal/model"
	"repo-cadence-collector/internal/postgres"
	"repo-cadence-collector/internal/projectkey"
	"repo-cadence-collector/internal/sonar"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app carries the pieces every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *dataset.Store
}

func newRootCmd() *cobra.Command {
	var a app
	var datasetFlag string

	root := &cobra.Command{
		Use:           "collector",
		Short:         "Collects repository release-cadence data and quality metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel := new(slog.LevelVar)
			handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
			logger := slog.New(handler)
			slog.SetDefault(logger)

			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setLogLevel(cfg.LogLevel, logLevel)

			if datasetFlag != "" {
				cfg.DatasetFile = datasetFlag
			}

			a.cfg = cfg
			a.logger = logger
			a.store = dataset.New(cfg.DatasetFile, logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&datasetFlag, "dataset", "", "dataset file path (overrides DATASET_FILE)")

	root.AddCommand(
		newCollectCmd(&a),
		newAnalyzeCmd(&a),
		newExportCmd(&a),
		newRepairCmd(&a),
		newStatsCmd(&a),
		newServeCmd(&a),
	)
	return root
}

func newCollectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Search the hosting API and admit repositories into the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireGithubToken(); err != nil {
				return err
			}
			queries := a.cfg.SearchQueries
			if len(queries) == 0 {
				return errors.New("SEARCH_QUERIES must contain at least one query")
			}

			ctx, cancel := signalContext()
			defer cancel()

			var sink collector.Sink
			if a.cfg.DBURL != "" {
				pg, err := postgres.Connect(ctx, a.cfg.DBURL, "migrations", a.logger)
				if err != nil {
					a.logger.Warn("database unavailable, continuing file-only", "error", err)
				} else {
					defer pg.Close()
					sink = pg
				}
			}

			ghClient := github.NewClient(a.cfg.GithubToken, a.logger,
				github.WithPagePause(a.cfg.SearchPause))

			pipeline := collector.New(ghClient, a.store, sink, collector.Config{
				Queries: queries,
				Thresholds: collector.Thresholds{
					MinStars:        a.cfg.MinStars,
					MinForks:        a.cfg.MinForks,
					MinReleases:     a.cfg.MinReleases,
					MinContributors: a.cfg.MinContributors,
				},
				Targets:     collector.Targets{Rapid: a.cfg.TargetRapid, Slow: a.cfg.TargetSlow},
				MaxSearch:   a.cfg.MaxSearch,
				SearchPause: a.cfg.SearchPause,
			}, a.logger)

			report, err := pipeline.Run(ctx)
			if report != nil {
				printJSON(cmd, report)
			}
			return err
		},
	}
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var class string
	var limit int
	var rescan bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Clone, scan and record quality metrics for collected repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireSonarToken(); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			cloner := gitclone.NewCloner(
				filepath.Join(a.cfg.WorkDir, "clones"),
				a.cfg.CloneTimeout, a.cfg.MaxCloneBytes, a.logger)
			scanner := sonar.NewScanner(
				a.cfg.SonarImage, a.cfg.SonarHost, a.cfg.SonarToken,
				a.cfg.ScanTimeout, a.logger)
			oracle := sonar.NewClient(a.cfg.SonarHost, a.cfg.SonarToken, a.logger)

			analyzer := analysis.New(a.store, cloner, scanner, oracle, analysis.Config{
				Workers:      a.cfg.Workers,
				Class:        model.Classification(class),
				Limit:        limit,
				SkipAnalyzed: !rescan,
				PollInterval: a.cfg.PollInterval,
				PollTimeout:  a.cfg.PollTimeout,
			}, a.logger)

			report, err := analyzer.Run(ctx)
			if report != nil {
				printJSON(cmd, report)
			}
			if err != nil {
				return err
			}

			if a.cfg.DBURL != "" && report.Analyzed > 0 {
				pg, pgErr := postgres.Connect(ctx, a.cfg.DBURL, "migrations", a.logger)
				if pgErr != nil {
					a.logger.Warn("database unavailable, results are file-only", "error", pgErr)
					return nil
				}
				defer pg.Close()
				if syncErr := pg.SyncSnapshot(ctx, a.store.Load()); syncErr != nil {
					a.logger.Warn("failed to mirror results to database", "error", syncErr)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "type", "", "restrict to one classification (rapid|slow)")
	cmd.Flags().IntVar(&limit, "limit", 0, "analyze at most N repositories")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "re-analyze repositories that already have metrics")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dataset as a flat CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.store.Load()
			if err := a.store.ExportTabular(snap, out); err != nil {
				return err
			}
			a.logger.Info("dataset exported", "path", out, "repositories", len(snap.Repositories))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "export.csv", "output file")
	return cmd
}

func newRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Repair malformed repository identities in the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.store.Load()

			var repaired, unfixable int
			for _, rec := range snap.Repositories {
				if !projectkey.NeedsRepair(rec) {
					continue
				}
				if err := projectkey.Repair(rec); err != nil {
					unfixable++
					a.logger.Warn("record could not be repaired",
						"full_name", rec.FullName, "name", rec.Name)
					continue
				}
				repaired++
			}

			if repaired > 0 {
				if err := a.store.Save(snap); err != nil {
					return err
				}
			}
			a.logger.Info("repair pass finished", "repaired", repaired, "unfixable", unfixable)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-classification dataset statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			printJSON(cmd, dataset.Statistics(a.store.Load()))
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP view of the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			server := &http.Server{
				Addr:    a.cfg.ListenAddr,
				Handler: api.NewRouter(a.store, a.logger),
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("API server listening", "addr", a.cfg.ListenAddr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
