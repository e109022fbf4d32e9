package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"netmaster/internal/agent"
	"netmaster/internal/app"
	"netmaster/internal/auth"
	"netmaster/internal/collector"
	"netmaster/internal/config"
	"netmaster/internal/logger"
	"netmaster/internal/web"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "netmaster",
	Short:         "Fleet host monitoring",
	Long:          `netmaster collects cpu, memory and disk samples from agents, alerts on thresholds and serves a dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collector server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := load()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		log.Info("starting netmaster", "addr", cfg.Addr, "db", cfg.DBPath, "https", cfg.UseHTTPS)

		a, err := app.New(cfg, log)
		if err != nil {
			return fmt.Errorf("init failed: %w", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Collect local metrics and report them to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := load()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if err := cfg.ValidateAgent(); err != nil {
			return err
		}
		log.Info("agent starting", "server", cfg.ServerURL, "interval", cfg.CollectionInterval.String(), "user", cfg.Username)

		reporter := agent.NewReporter(cfg.ServerURL, cfg.Username, cfg.Password, cfg.VerifySSL)
		runner, err := agent.NewRunner(collector.NewHostSource(cfg.DiskPath, cfg.AgentIP), reporter, cfg.CollectionInterval, log.With("module", "agent"))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err = runner.Run(ctx)
		log.Info("agent stopped")
		return err
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [PASSWORD]",
	Short: "Print a bcrypt hash for NETMASTER_PASSWORD_HASH",
	Long:  `Print a bcrypt hash for NETMASTER_PASSWORD_HASH. Without an argument the password is read from the first line of stdin.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) > 0 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given")
			}
			password = strings.TrimRight(line, "\r\n")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "netmaster", web.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding .env and legacy config.json")
	rootCmd.AddCommand(serveCmd, agentCmd, hashPasswordCmd, versionCmd)
}

func load() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
