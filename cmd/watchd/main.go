// Package main is the CLI entry point for watchd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/niyambadha/watchd/internal/api"
	"github.com/niyambadha/watchd/internal/config"
	"github.com/niyambadha/watchd/internal/daemon"
	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/engine"
	"github.com/niyambadha/watchd/internal/infra"
	"github.com/niyambadha/watchd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "watchd",
	Short: "Watch-time enforcement for distracting websites",
	Long: `watchd limits how long you spend on blocked domains. A browser shim
streams tab events to the daemon; when the allowance for a blocked
domain runs out, the tab is redirected to a puzzle page and the
allowance collapses to a short penalty window until the puzzle is
solved.`,
	Version: Version,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the enforcement daemon",
	Long: `Runs the enforcement daemon in the foreground. The browser shim
connects over a local socket and streams tab events; the daemon arms
watch-time deadlines and forces redirects when they expire.`,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web API service",
	Long: `Runs the JSON/HTTP API backing the extension and the puzzle page:
user documents, redirect records, feedback and session issuance.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  `Shows whether the daemon is running, its heartbeat and the connected user.`,
	RunE:  runStatus,
}

var connectCmd = &cobra.Command{
	Use:   "connect <uid>",
	Short: "Connect a user id manually",
	Long: `Stores the user id the daemon enforces for. Normally the browser shim
relays this automatically when you sign in to the web app; connect is
the manual fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	connectEmail string
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	connectCmd.Flags().StringVar(&connectEmail, "email", "", "Email of the connected user")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(versionCmd)
}

// openLocalState unlocks (creating on first use) the encrypted state
// database in the data directory.
func openLocalState(cfg *config.Config) (*infra.LocalState, error) {
	keys := infra.NewFileKeyProvider(cfg.Engine.DataDir)
	key, err := infra.EnsureKey(keys)
	if err != nil {
		return nil, fmt.Errorf("prepare encryption key: %w", err)
	}
	return infra.NewLocalState(cfg.Engine.DataDir, key)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	state, err := openLocalState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	apiClient := infra.NewAPIClient(cfg.Engine.APIBaseURL)
	settings := usecase.NewSettingsCache(apiClient, state, logger)
	scheduler := infra.NewScheduler()

	factory := func(host domain.BrowserHost) *engine.Engine {
		return engine.NewEngine(
			engine.Config{PuzzleURL: cfg.Engine.PuzzleURL},
			settings,
			apiClient,
			apiClient,
			host,
			scheduler,
			logger,
		)
	}

	pm := infra.NewProcessManager()
	d := daemon.New(
		daemon.DefaultConfig(cfg.Engine.BridgeSocket),
		state,
		state,
		factory,
		domain.DaemonState{
			PID:        pm.GetCurrentPID(),
			StartedAt:  time.Now(),
			AppVersion: Version,
		},
		logger,
	)

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	keys := infra.NewFileKeyProvider(cfg.Engine.DataDir)
	key, err := infra.EnsureKey(keys)
	if err != nil {
		return fmt.Errorf("prepare encryption key: %w", err)
	}
	store, err := infra.NewDocStore(cfg.Engine.DataDir, key)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := api.NewServer(
		usecase.NewUserDataService(store, logger),
		usecase.NewRedirectService(store.RedirectStore(), logger),
		usecase.NewFeedbackService(store, logger),
		usecase.NewSessionService(cfg.Auth.SessionSecret, cfg.Auth.SessionExpiry),
		logger,
	)

	ctx, cancel := signalContext()
	defer cancel()

	if err := srv.ListenAndServe(ctx, cfg.Server); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	state, err := openLocalState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	fmt.Println("\n=== watchd Status ===")

	ds, err := state.Get()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	if ds == nil || !pm.IsRunning(ds.PID) {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'watchd watch' to start enforcement.")
	} else {
		fmt.Println("Status: RUNNING")
		fmt.Printf("PID: %d\n", ds.PID)
		fmt.Printf("Started: %s\n", ds.StartedAt.Format(time.RFC3339))
		if ds.AppVersion != "" {
			fmt.Printf("Version: %s\n", ds.AppVersion)
		}
		if ds.LastHeartbeat > 0 {
			lastBeat := time.Unix(ds.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	}

	id, err := state.LoadIdentity()
	if err != nil {
		return err
	}
	if id == nil {
		fmt.Println("User: not connected")
		fmt.Println("\nSign in to the web app, or run 'watchd connect <uid>'.")
	} else {
		fmt.Printf("User: %s", id.UID)
		if id.Email != "" {
			fmt.Printf(" (%s)", id.Email)
		}
		fmt.Println()
	}

	fmt.Println("=====================")
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	state, err := openLocalState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	id := domain.Identity{UID: args[0], Email: connectEmail}
	if err := state.SaveIdentity(id); err != nil {
		return err
	}

	fmt.Printf("Connected user %s\n", id.UID)
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx, cancel
}

func createLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Engine.LogPath != "" {
		zapCfg.OutputPaths = []string{cfg.Engine.LogPath, "stderr"}
	}
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("watchd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
