package cmd

import (
	"fmt"
	"os"

	"github.com/EmpoweredVote/instance-registry/internal/config"
	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/go-kit/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgFile string
	envFile string

	cfg    config.Config
	logger log.Logger
)

var rootCmd = &cobra.Command{
	Use:     "instance-registry",
	Short:   "Registry of self-hosted instances, ranked by distance",
	Long:    `Operators register their instances, the registry verifies each one by probing its /metadata endpoint, and clients list verified instances nearest first.`,
	Version: version,

	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"optional YAML config file; environment variables override it")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env.local",
		"dotenv file loaded before reading the environment")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	// A missing env file is normal outside local development.
	_ = godotenv.Load(envFile)

	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = c
	logger = logging.New(os.Stderr, cfg.LogLevel)
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
