package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-vstore/pkg/vstore/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vstorectl",
		Short: "Administration tool for the versioned object store",
		Long: `vstorectl manages a vstore deployment: schema migrations, expired
session sweeps and template import.

Configuration comes from VSTORE_* environment variables (see "vstorectl env"),
optionally layered over a YAML file given with --config.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (optional)")

	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewSweepCommand())
	rootCmd.AddCommand(NewEnqueueSweepCommand())
	rootCmd.AddCommand(NewTemplateCommand())
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}

// loadConfig reads the --config file, if any, then the environment.
func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	var opts []config.Option
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	return config.Load(append(opts, config.WithEnv())...)
}
