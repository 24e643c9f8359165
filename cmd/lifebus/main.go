// Package main provides the lifebus binary entry point. Lifebus is the
// employee lifecycle event backbone: a webhook gateway and HRMS pollers
// normalizing provider events into canonical lifecycle envelopes on a
// Kafka bus, with dead-letter triage and correlation tracking.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lifebus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Employee lifecycle event backbone",
		Long: `Lifebus receives HRMS webhooks, polls provider APIs for changes the
webhooks missed, and normalizes everything into canonical employee
lifecycle events on a Kafka bus.

It runs three processors:
- webhook-gateway: HTTP ingress with signature verification and rate limits
- hrms-poller: scheduled provider API polling with persisted cursors
- dlq-handler: dead-letter triage (republish, quarantine, manual review)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML, default searches for lifebus.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(validateCmd(&configPath))
	cmd.AddCommand(topicsCmd())
	cmd.AddCommand(groupsCmd())

	return cmd
}

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader(nil).Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration valid: %d brokers, %d adapters, listening on %s\n",
				len(cfg.Kafka.Brokers), len(cfg.Adapters), cfg.Gateway.ListenAddr)
			return nil
		},
	}
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Print the topic topology",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tPARTITIONS\tREPLICAS\tRETENTION\tCOMPRESSION")
			for _, tc := range bus.FullTopology() {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
					tc.Name, tc.Partitions, tc.ReplicationFactor, tc.Retention, tc.Compression)
			}
			w.Flush()
		},
	}
}

func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Print the consumer group registry",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tSUBSCRIPTIONS")
			for _, gc := range bus.Groups() {
				fmt.Fprintf(w, "%s\t%s\n", gc.Name, strings.Join(gc.Subscriptions, ", "))
			}
			w.Flush()
		},
	}
}

func run(configPath, logLevel string) error {
	printBanner()

	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Lifebus v" + Version + "                     ║")
	fmt.Println("║      Employee Lifecycle Event Backbone        ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
