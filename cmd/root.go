package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// CLI flags shared by every subcommand
	configPath string // YAML configuration file
	envFile    string // optional .env file
	logLevel   string // log verbosity level
	seed       int64  // master search seed
	weights    string // fitness weights, e.g. "cost:1,service:4"
	strategy   string // fitness strategy name
	source     string // collector source ("file" or "synthetic")
	skuFile    string // SKU file for the file source
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "invopt",
	Short: "Genetic inventory optimization engine",
	Long: `invopt forecasts SKU demand, searches for reorder quantities that balance
cost against service level, and raises stock alerts.

Configuration is read from --config (or INVOPT_CONFIG), then overridden by
INVOPT_* environment variables and finally by explicitly set flags.`,
	SilenceUsage: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Optional .env file with INVOPT_* variables")
	flags.StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.Int64Var(&seed, "seed", 0, "Master seed for the search (default: from config, else the wall clock)")
	flags.StringVar(&weights, "weights", "", `Fitness weights, e.g. "cost:1,service:4"`)
	flags.StringVar(&strategy, "strategy", "", "Fitness strategy (weighted-sum, pareto-rank)")
	flags.StringVar(&source, "source", "", "SKU data source (file, synthetic)")
	flags.StringVar(&skuFile, "skus", "", "SKU YAML file; implies --source file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(optimizeCmd)
}
