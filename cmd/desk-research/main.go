// Package main implements the desk-research CLI: run research flows, retry
// synthesis on failed runs, inspect modules, and serve the engine over MCP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ilumeobrasil/desk-research/pkg/config"
	"github.com/ilumeobrasil/desk-research/pkg/flow"
	"github.com/ilumeobrasil/desk-research/pkg/mcp"
	"github.com/ilumeobrasil/desk-research/pkg/modules"
	"github.com/ilumeobrasil/desk-research/pkg/params"
	"github.com/ilumeobrasil/desk-research/pkg/progress"
	"github.com/ilumeobrasil/desk-research/pkg/report"
	"github.com/ilumeobrasil/desk-research/pkg/retry"
	"github.com/ilumeobrasil/desk-research/pkg/store"
	"github.com/ilumeobrasil/desk-research/pkg/synthesis"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

var (
	configPath  string
	topicFlag   string
	modulesFlag string
	paramsFlag  string
	runIDFlag   string
	version     = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "desk-research",
	Short: "Coordinate research modules and synthesize integrated reports",
	Long: `desk-research runs a set of research modules (academic literature, video
transcripts, social listening, web search, simulated focus groups, document
audits) against a topic, then synthesizes their outputs into one report.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(serveCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the selected research modules and write the integrated report",
	Long: `Run the selected research modules concurrently and synthesize their
outputs into an integrated report.

Examples:
  # Web and academic research on a topic
  desk-research run --topic "plant-based packaging" --modules web,academic

  # Override module parameters
  desk-research run --topic "energy drinks" --modules social,web \
    --params '{"max_posts": 100, "max_web_results": 10}'`,
	RunE: runRun,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry synthesis of a failed run without re-running its modules",
	Long: `Retry the synthesis stage of a failed run. The persisted module results
are reused as-is; no research module executes again.

Examples:
  # Retry the most recent run
  desk-research retry

  # Retry a specific run
  desk-research retry --run 5f1c2a...`,
	RunE: runRetry,
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the available research modules and their parameters",
	RunE:  runModules,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the research engine over MCP on stdio",
	RunE:  runServe,
}

func init() {
	runCmd.Flags().StringVar(&topicFlag, "topic", "", "research topic")
	runCmd.Flags().StringVar(&modulesFlag, "modules", "", "comma-separated module IDs")
	runCmd.Flags().StringVar(&paramsFlag, "params", "", "JSON object with module parameters")
	retryCmd.Flags().StringVar(&runIDFlag, "run", "", "run ID to retry (defaults to the most recent)")
}

// app bundles the wired collaborators behind each command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *flow.Engine
	runs   store.Store
	closes []func()
}

func (a *app) close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
	_ = a.logger.Sync()
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	if cfg.GCP.UseFirestore && cfg.GCP.Project != "" {
		fs, err := store.NewFirestoreStore(ctx, cfg.GCP.Project)
		if err != nil {
			_ = logger.Sync()
			return nil, fmt.Errorf("connect firestore: %w", err)
		}
		a.runs = fs
		a.closes = append(a.closes, func() { _ = fs.Close() })
	} else {
		fls, err := store.NewFileStore(cfg.StateDir)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		a.runs = fls
	}

	var sink flow.Option
	if cfg.GCP.ProgressTopic != "" && cfg.GCP.Project != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCP.Project)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		a.closes = append(a.closes, func() { _ = client.Close() })
		ps, err := progress.NewPubSubSink(ctx, client, cfg.GCP.ProgressTopic, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closes = append(a.closes, ps.Close)
		sink = flow.WithProgress(ps)
	} else {
		sink = flow.WithProgress(progress.NewLoggerSink(logger))
	}

	registry := modules.DefaultRegistry(modules.CatalogConfig{
		APIKey:    cfg.Sources.APIKey,
		Endpoints: cfg.Endpoints(),
	})

	opts := []flow.Option{
		flow.WithStore(a.runs),
		flow.WithLogger(logger),
		flow.WithModuleTimeout(cfg.ModuleTimeout.Std()),
		sink,
	}
	if cfg.FailClosed {
		opts = append(opts, flow.WithFailClosed())
	}
	a.engine = flow.New(registry, synthesis.NewReviewed(synthesis.NewComposer(), nil), opts...)
	return a, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	topic := topicFlag
	if topic == "" {
		topic = a.cfg.Topic
	}

	selected := a.cfg.SelectedModules()
	if modulesFlag != "" {
		selected = selected[:0]
		for _, m := range strings.Split(modulesFlag, ",") {
			if m = strings.TrimSpace(m); m != "" {
				selected = append(selected, types.ModuleID(m))
			}
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no modules selected; use --modules or set modules in the config file")
	}

	runParams := map[string]any{}
	for k, v := range a.cfg.Params {
		runParams[k] = v
	}
	if paramsFlag != "" {
		if err := json.Unmarshal([]byte(paramsFlag), &runParams); err != nil {
			return fmt.Errorf("parse --params: %w", err)
		}
	}
	if err := params.Validate(selected, runParams); err != nil {
		return err
	}
	runParams = params.ApplyDefaults(selected, runParams)

	rep, err := a.engine.Run(ctx, flow.RunRequest{Topic: topic, Modules: selected, Params: runParams})
	if err != nil {
		return fmt.Errorf("research run failed: %w", err)
	}
	return writeReport(a, rep)
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var snap *types.RunSnapshot
	if runIDFlag != "" {
		snap, err = a.runs.Load(ctx, runIDFlag)
	} else {
		snap, err = a.runs.Latest(ctx)
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if err := a.engine.Restore(snap); err != nil {
		return err
	}

	// Transient synthesis failures are worth a few attempts; non-retryable
	// codes such as state conflicts stop the loop immediately.
	rep, err := retry.Execute(ctx, func() (*types.Report, error) {
		return a.engine.RetrySynthesis(ctx)
	}, retry.Standard())
	if err != nil {
		return fmt.Errorf("synthesis retry failed: %w", err)
	}
	return writeReport(a, rep)
}

func runModules(cmd *cobra.Command, args []string) error {
	for _, id := range types.AllModules() {
		info, _ := modules.CatalogInfo(id)
		fmt.Printf("%s\n  %s: %s\n", info.ID, info.Name, info.Description)
		for _, def := range params.Definitions(id) {
			fmt.Printf("  --param %s (%s, default %v): %s\n", def.Name, def.Kind, def.Default, def.Description)
		}
		fmt.Println()
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	srv := mcp.NewServer(a.engine, a.runs, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		return nil
	}
}

func writeReport(a *app, rep *types.Report) error {
	exporter, err := report.NewExporter(a.cfg.OutputDir)
	if err != nil {
		return err
	}
	path, err := exporter.ExportReport(rep)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "report written to %s (run %s)\n", path, rep.RunID)
	fmt.Print(rep.Markdown)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
