package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/skynetai/skynet/internal/config"
)

// buildDoctorCmd validates a config file and reports on the deployment's
// readiness, reduced from the teacher's commands_doctor.go/handlers_doctor.go
// pair (which additionally migrates legacy YAML config shapes, audits
// plugin manifests, and probes live channel health) down to the checks
// that apply to a freshly-loaded skynet.toml: parseability, workspace/soul
// paths, provider credentials, and webhook secrets.
func buildDoctorCmd(log zerolog.Logger) *cobra.Command {
	var configPath string
	var repair bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath(configPath), repair)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to skynet.toml (default: $SKYNET_CONFIG or ~/.skynet/skynet.toml)")
	cmd.Flags().BoolVar(&repair, "repair", false, "create missing workspace and storage directories")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, repair bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("doctor: config invalid: %w", err)
	}
	fmt.Fprintln(out, "Config: OK")

	var warnings []string

	if _, err := os.Stat(cfg.Agent.WorkspacePath); err != nil {
		if repair {
			if err := os.MkdirAll(cfg.Agent.WorkspacePath, 0o755); err != nil {
				return fmt.Errorf("doctor: create workspace path: %w", err)
			}
			fmt.Fprintf(out, "Workspace path created: %s\n", cfg.Agent.WorkspacePath)
		} else {
			warnings = append(warnings, fmt.Sprintf("workspace path %s does not exist (run with --repair)", cfg.Agent.WorkspacePath))
		}
	}

	if _, err := os.Stat(cfg.Agent.SoulPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("soul path %s does not exist, default persona will be used", cfg.Agent.SoulPath))
	}

	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			if repair {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("doctor: create storage directory: %w", err)
				}
				fmt.Fprintf(out, "Storage directory created: %s\n", dir)
			} else {
				warnings = append(warnings, fmt.Sprintf("storage directory %s does not exist (run with --repair)", dir))
			}
		}
	}

	enabled := 0
	for name, cred := range cfg.Providers.Providers {
		if cred.Enabled {
			enabled++
			continue
		}
		warnings = append(warnings, fmt.Sprintf("provider %q is configured but disabled", name))
	}
	if enabled == 0 {
		warnings = append(warnings, "no providers are enabled, every turn will fail")
	}

	if cfg.Webhooks.Enabled {
		for _, src := range cfg.Webhooks.Sources {
			if src.AuthMode != "none" && src.Secret == "" {
				warnings = append(warnings, fmt.Sprintf("webhook source %q requires a secret for auth_mode %q", src.Name, src.AuthMode))
			}
		}
	}

	if len(warnings) == 0 {
		fmt.Fprintln(out, "No issues found.")
		return nil
	}

	fmt.Fprintln(out, "Warnings:")
	for _, w := range warnings {
		fmt.Fprintf(out, "  - %s\n", w)
	}
	return nil
}
