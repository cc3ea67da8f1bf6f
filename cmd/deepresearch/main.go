package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deepresearch/config"
	"deepresearch/internal/engine"
	"deepresearch/internal/server"
	"deepresearch/internal/store"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
	"deepresearch/tools/registry"
	"deepresearch/tools/webfetch"
	"deepresearch/tools/websearch"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "deepresearch", Short: "Deep research agent"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var stream bool
	run := &cobra.Command{
		Use:   "run [query]",
		Short: "Run the research pipeline once and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cfgPath, args[0], stream)
		},
	}
	run.Flags().BoolVar(&stream, "stream", false, "print progress statuses while running")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(cfgPath)
		},
	}

	var migDir string
	var direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(run, serve, migrate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// runOnce wires the pipeline from config and executes a single query.
func runOnce(ctx context.Context, cfgPath, query string, stream bool) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "[MASTER] ", log.LstdFlags)

	tel := telemetry.NewTelemetry(telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		CostTracking:  cfg.Telemetry.CostTracking,
		CostPer1KIn:   cfg.Telemetry.CostPer1KInput,
		CostPer1KOut:  cfg.Telemetry.CostPer1KOutput,
		PeriodicLogs:  cfg.Telemetry.PeriodicLogs,
		LogIntervalMS: cfg.Telemetry.LogIntervalMS,
	})
	defer tel.Shutdown()

	completer, err := provider.NewCompleter(provider.Client(cfg.LLM.Provider), cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout, tel)
	if err != nil {
		return err
	}
	searcher, err := websearch.NewWebSearcher(websearch.Provider(cfg.Search.Provider), cfg.Search.APIKey)
	if err != nil {
		return err
	}
	fetcher, err := webfetch.NewWebFetcher(webfetch.FetcherType(cfg.Fetch.Type), cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
	if err != nil {
		return err
	}
	scraper := &websearch.Scraper{Searcher: searcher, Fetcher: fetcher, Logger: logger}

	tools, err := registry.NewDefaultRegistry(completer, scraper, logger)
	if err != nil {
		return err
	}

	supervisor := engine.NewSupervisorEngine(completer, tools, tel, nil)
	supervisor.MaxIterations = cfg.Engine.SupervisorIterations
	clarifier := engine.NewIterativeClarifier(engine.NewLLMClarifier(completer), completer, cfg.Engine.ClarifierRounds)
	master := engine.NewMasterPipeline(completer, clarifier, supervisor, tel, logger)

	var status engine.StatusFunc
	if stream {
		status = func(line string) { fmt.Fprintln(os.Stderr, line) }
	}
	s, err := master.Run(ctx, query, status)
	if err != nil {
		return err
	}
	fmt.Println(s.FinalReport)
	return nil
}
