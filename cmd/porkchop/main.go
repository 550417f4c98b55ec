package main

import (
	"fmt"
	"os"

	"github.com/hochfrequenz/porkchop/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	rootCmd    = &cobra.Command{
		Use:   "porkchop",
		Short: "porkchop - LLM-assisted review of pipeline files",
		Long: `porkchop validates workflow and pipeline files against rubric prompts.
Each submitted batch runs every selected prompt through a local or hosted
model, and the issues it reports are stored for later review.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "porkchop server URL (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// baseURL is --server or the configured listen address
func baseURL() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Addr(), nil
}
