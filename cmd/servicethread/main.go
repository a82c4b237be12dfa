// Command servicethread runs a service thread daemon: the service thread, its
// maintenance subsystems, a synthetic collector and producers, and an admin
// HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Swind/go-service-thread/config"
	"github.com/Swind/go-service-thread/internal/daemon"
	stzerolog "github.com/Swind/go-service-thread/observability/zerolog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "servicethread:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "servicethread",
		Short:         "Runtime service thread daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml, .toml or .json)")

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the service thread until SIGINT or SIGTERM",
		Example: "  servicethread run --config servicethread.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	root.AddCommand(runCmd, configCmd)
	return root
}

// loadConfig applies, in order: defaults, the config file if any, environment
// overrides. The result is validated.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	level, err := stzerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := stzerolog.New(level, cfg.Logging.Format, os.Stderr)

	rt, err := daemon.New(cfg, logger.With("service_thread"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}
