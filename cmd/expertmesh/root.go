package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/config"
)

var rootCmd = &cobra.Command{
	Use:   "expertmesh",
	Short: "Multi-agent expert network",
	Long: `expertmesh runs a small network of cooperating agents: a manager
endpoint that classifies each question and delegates it to exactly one
expert, worker endpoints that answer questions in their specialty, and
a terminal chat client.

Each endpoint speaks the same protocol: send a message, stream task
events back, terminal event last.`,
}

// Execute runs the root command.
func Execute() {
	cobra.OnInitialize(initViper)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(managerCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(envelopeCmd())
	rootCmd.AddCommand(versionCmd())
}

func initViper() {
	viper.SetEnvPrefix("EXPERTMESH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("api-key", "ANTHROPIC_API_KEY")
}

// loadConfig resolves the effective config: file if given, defaults
// otherwise, then flag/env overrides.
func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		cfg := config.Default()
		applyOverrides(&cfg)
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	applyOverrides(&cfg)
	return cfg, cfg.Validate()
}

func applyOverrides(cfg *config.Config) {
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if key := viper.GetString("api-key"); key != "" {
		cfg.APIKey = key
	}
}

// =============================================================================
// LOGGING
// =============================================================================

// slogLogger adapts log/slog to the agents.Logger contract.
type slogLogger struct {
	inner *slog.Logger
}

func newLogger(agentName, level string) agents.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{inner: slog.New(handler).With("agent", agentName)}
}

func (l *slogLogger) Debug(msg string, fields ...any) { l.inner.Debug(msg, fields...) }
func (l *slogLogger) Info(msg string, fields ...any)  { l.inner.Info(msg, fields...) }
func (l *slogLogger) Warn(msg string, fields ...any)  { l.inner.Warn(msg, fields...) }
func (l *slogLogger) Error(msg string, fields ...any) { l.inner.Error(msg, fields...) }
