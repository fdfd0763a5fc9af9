// Command pricetracker keeps crypto asset prices current from a failover
// chain of market data providers and serves them over HTTP.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pricetracker/internal/config"
	"pricetracker/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// load reads configuration and sets up the process logger from it. The
// --log-level flag wins over the file.
func (o *rootOptions) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	return cfg, logging.Setup(level, cfg.Log.Format), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pricetracker",
		Short: "Track live USD prices of crypto assets with provider failover",
		Long: `pricetracker polls or streams prices from Hyperliquid, CoinGecko and Pyth
Hermes, failing over down the configured chain when a provider misbehaves.

Configuration is read from a JSON/YAML/TOML file (default ./config.json) and
PRICETRACKER_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
