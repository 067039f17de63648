package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/cost"
)

// Environment variables read on top of the config file.
const (
	envConfig   = "INVOPT_CONFIG"
	envAddr     = "INVOPT_ADDR"
	envLogLevel = "INVOPT_LOG_LEVEL"
)

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default .env is not an error.
func loadEnvFile(cmd *cobra.Command, path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		logrus.Debugf("Loaded environment from %s", path)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("loading env file %s: %w", path, err)
}

// resolveConfig builds the effective configuration: defaults, then the config
// file, then INVOPT_* variables, then flags the user set explicitly.
func resolveConfig(cmd *cobra.Command, getenv func(string) string) (optim.Config, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if p := getenv(envConfig); p != "" {
			path = p
		}
	}

	cfg := optim.DefaultConfig()
	if path != "" {
		loaded, err := optim.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		logrus.Infof("Loaded configuration from %s", path)
	}

	if addr := getenv(envAddr); addr != "" {
		cfg.Server.Addr = addr
	}
	if lvl := getenv(envLogLevel); lvl != "" {
		cfg.LogLevel = lvl
	}

	flags := cmd.Flags()
	if flags.Changed("log") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("seed") {
		s := seed
		cfg.Seed = &s
	}
	if flags.Changed("strategy") {
		cfg.Fitness.Strategy = strategy
	}
	if flags.Changed("weights") {
		c, s, err := cost.ParseFitnessWeights(weights)
		if err != nil {
			return cfg, fmt.Errorf("--weights: %w", err)
		}
		cfg.Fitness.CostWeight, cfg.Fitness.ServiceWeight = c, s
	}
	if flags.Changed("source") {
		cfg.Collector.Source = source
	}
	if flags.Changed("skus") {
		cfg.Collector.Source = "file"
		cfg.Collector.Path = skuFile
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.Server.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setup loads the env file, resolves the configuration and applies its log
// level. Errors are fatal at the command level.
func setup(cmd *cobra.Command) optim.Config {
	if err := loadEnvFile(cmd, envFile); err != nil {
		logrus.Fatalf("%v", err)
	}
	cfg, err := resolveConfig(cmd, os.Getenv)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", cfg.LogLevel)
	}
	logrus.SetLevel(level)
	return cfg
}
