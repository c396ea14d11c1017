package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mezonai/headerd/api"
	"github.com/mezonai/headerd/bootstrap"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
)

const shutdownTimeout = 10 * time.Second

var (
	logLevel     string
	connectPeers []string
	apiAddr      string
	storeType    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node",
	Run: func(cmd *cobra.Command, args []string) {
		runNode(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringArrayVar(&connectPeers, "connect", nil, "Connect only to this peer (host:port), repeatable")
	runCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Listen address of the HTTP status API")
	runCmd.Flags().StringVar(&storeType, "store-type", "", "Header store backend (leveldb, bolt)")
}

func buildRunConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("connect") {
		cfg.Connect = connectPeers
	}
	if flags.Changed("api-addr") {
		cfg.APIAddr = apiAddr
	}
	if flags.Changed("store-type") {
		cfg.Store.Type = storeType
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command) {
	cfg, err := buildRunConfig(cmd)
	if err != nil {
		logx.Error("CMD", err)
		os.Exit(bootstrap.ExitAbort)
	}

	// the logger exists before anything else can write
	logger, err := logx.New(cfg.Log)
	if err != nil {
		logx.Error("CMD", "Failed to initialize logger:", err)
		os.Exit(bootstrap.ExitAbort)
	}
	logx.SetDefault(logger)

	params, err := config.NetworkParams(cfg.Network)
	if err != nil {
		exitOnStartupError(logger, err)
	}
	logger.Info("NODE", "Starting headerd on", params.Network, "with data dir", cfg.NetworkDir())
	monitoring.InitMetrics()

	daemon, err := bootstrap.Start(cfg, params, logger, bootstrap.NewCollaborators(cfg, params, logger))
	if err != nil {
		exitOnStartupError(logger, err)
	}

	var server *api.APIServer
	if cfg.APIAddr != "" {
		peers, _ := daemon.Session.(api.PeerReporter)
		server = api.NewAPIServer(cfg.APIAddr, params, daemon.Cache, peers, logger)
		if err := server.Start(); err != nil {
			_ = daemon.Close()
			exitOnStartupError(logger, fmt.Errorf("failed to start api: %w", err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("NODE", "Shutting down")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API", "Shutdown:", err)
		}
		cancel()
	}
	if err := daemon.Close(); err != nil {
		logger.Error("NODE", "Shutdown:", err)
	}
	_ = logger.Close()
}

// exitOnStartupError is the single exit point for startup failures.
func exitOnStartupError(logger *logx.Logger, err error) {
	code := bootstrap.ExitCode(err)
	if code == bootstrap.ExitReported {
		logger.Error("PEERS", "Failed to load address book:", err)
	} else {
		logger.Error("NODE", "Startup aborted:", err)
	}
	_ = logger.Close()
	os.Exit(code)
}
