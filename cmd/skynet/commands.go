package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// buildRootCmd creates the root command with serve/migrate/doctor attached.
func buildRootCmd(log zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "skynet",
		Short:        "Multi-channel autonomous AI assistant gateway",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(log),
		buildMigrateCmd(log),
		buildDoctorCmd(log),
	)

	return rootCmd
}

// resolveConfigPath applies the SKYNET_CONFIG env var when --config wasn't
// given explicitly, falling back to config.Load's own default otherwise.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("SKYNET_CONFIG")); env != "" {
		return env
	}
	return ""
}
