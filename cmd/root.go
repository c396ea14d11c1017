package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mezonai/headerd/bootstrap"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
)

var (
	configPath  string
	networkName string
	dataDir     string
)

var rootCmd = &cobra.Command{
	Use:   "headerd",
	Short: "Header-sync full node",
	Long:  "Command line interface for running a block header sync node and managing its peers.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/node.yml", "Path to node.yml")
	rootCmd.PersistentFlags().StringVar(&networkName, "network", "", "Network to follow (mainnet, testnet, regtest, signet)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(bootstrap.ExitAbort)
	}
}

// loadConfig reads node.yml and applies the flags that were set on cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadNodeConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("network") {
		cfg.Network = config.Network(networkName)
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}
