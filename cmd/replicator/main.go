package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/analyze"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/load"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/source"
)

var version = "0.3.0"

func main() {
	var configFile string
	var logLevel string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "replicator",
		Short: "Incremental MySQL to PostgreSQL replication for analytics",
		Long: `replicator keeps an analytics PostgreSQL schema in sync with an operational
MySQL database. The analyze command inspects the source and writes a
configuration artifact; the load command replicates data according to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	setup := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logger.Init(logger.Config{
			Level:    cfg.Logging.Level,
			Encoding: cfg.Logging.Encoding,
		}); err != nil {
			return nil, err
		}
		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}
		return cfg, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("replicator v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "analyze",
		Short: "Inspect the source database and write the configuration artifact",
		Long: `Analyze inspects every base table in the source database, discovers usable
incremental columns, sizes batches from catalog statistics, detects schema
drift against the previous artifact and writes the new artifact plus analysis
reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runAnalyze(cmd.Context(), cfg)
		},
	})

	var dryRun, forceFull bool
	var parallel int
	loadCmd := &cobra.Command{
		Use:   "load [tables...]",
		Short: "Replicate tables to the target according to the artifact",
		Long: `Load replicates the named tables, or every table in the configuration
artifact when none are given. Incremental tables resume from their stored
watermarks; --full forces a truncate-and-reload regardless of strategy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runLoad(cmd.Context(), cfg, load.Options{
				Tables:    args,
				ForceFull: forceFull,
				DryRun:    dryRun,
				Workers:   parallel,
			})
		},
	}
	loadCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned actions without writing data")
	loadCmd.Flags().BoolVar(&forceFull, "full", false, "force a full refresh of the selected tables")
	loadCmd.Flags().IntVar(&parallel, "parallel", 0, "override configured table-level concurrency")
	root.AddCommand(loadCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show stored watermarks for every tracked table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runStatus(cmd.Context(), cfg)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAnalyze(ctx context.Context, cfg *config.Config) error {
	db, err := source.Connect(cfg.Source)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := analyze.NewGenerator(db, cfg).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Analyzed %d tables (%d skipped)\n", len(result.Profiles), len(result.Skipped))
	fmt.Printf("Artifact: %s (schema hash %s)\n", cfg.Analysis.ArtifactPath, result.Snapshot.Hash[:12])
	if result.HasBaseline && !result.Changes.Empty() {
		fmt.Print(analyze.FormatChangelog(result.Changes, result.Snapshot))
	}
	return nil
}

func runLoad(ctx context.Context, cfg *config.Config, opts load.Options) error {
	engine, err := load.NewEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	summary, err := engine.Run(ctx, opts)
	if err != nil {
		return err
	}

	for _, r := range summary.Results {
		if r.Error != "" {
			fmt.Printf("  FAIL %-28s %s\n", r.Table, r.Error)
			continue
		}
		fmt.Printf("  OK   %-28s %-20s rows=%-10d upsert=%v\n",
			r.Table, r.Strategy, r.RowsWritten, r.UseUpsert)
	}
	fmt.Printf("%d tables loaded, %d failed, %d rows in %s\n",
		summary.TablesOK, summary.TablesFail, summary.RowsWritten,
		summary.CompletedAt.Sub(summary.StartedAt).Round(1e6))

	if summary.TablesFail > 0 {
		return fmt.Errorf("%d of %d tables failed", summary.TablesFail, summary.TablesOK+summary.TablesFail)
	}
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	pool, err := load.ConnectTarget(ctx, cfg.Target)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := load.NewWatermarkStore(pool, cfg.Target.Schema, cfg.Target.StateTable)
	marks, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(marks) == 0 {
		fmt.Println("No watermarks recorded; run load first.")
		return nil
	}

	fmt.Printf("%-28s %-24s %-22s %s\n", "TABLE", "COLUMN", "WATERMARK", "UPDATED")
	for _, m := range marks {
		fmt.Printf("%-28s %-24s %-22s %s\n",
			m.Table, m.Column,
			m.Value.Format("2006-01-02 15:04:05"),
			m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	if summary, err := load.ReadSummary(cfg.Load.SummaryPath); err == nil {
		fmt.Printf("\nLast run: %s, %d tables ok, %d failed, %d rows\n",
			summary.CompletedAt.Format("2006-01-02 15:04:05"),
			summary.TablesOK, summary.TablesFail, summary.RowsWritten)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Get().Warn("metrics server stopped", zap.Error(err))
	}
}
