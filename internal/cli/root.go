// Package cli implements the replybridge command line: an agent that serves
// the sample legacy SDK for one tenant, and server-side commands that call
// into agents.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/replybridge"
)

// Settings keys bound to the persistent flags. They can also be set through
// REPLYBRIDGE_CONFIG, REPLYBRIDGE_LOG_BACKEND and REPLYBRIDGE_LOG_LEVEL.
const (
	keyConfigFile = "config"
	keyLogBackend = "log_backend"
	keyLogLevel   = "log_level"
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "YAML config file (REPLYBRIDGE_* variables override it)")
	flags.String("log-backend", "slog", "Logger backend: slog, zap or logrus")
	flags.String("log-level", "info", "Log level: debug or info")
}

// settings returns a fresh viper instance carrying the config defaults, the
// REPLYBRIDGE_* environment and the persistent flags. Flags win over env.
func settings() (*viper.Viper, error) {
	v := replybridge.NewConfigViper()
	flags := rootCmd.PersistentFlags()
	for key, name := range map[string]string{
		keyConfigFile: "config",
		keyLogBackend: "log-backend",
		keyLogLevel:   "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return v, nil
}

var rootCmd = &cobra.Command{
	Use:           "replybridge",
	Short:         "Request/reply bridge between a cloud server and on-premise tenant agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config and applies tenant, which overrides tenant_id
// for agents and is added to tenants for the server side.
func loadConfig(tenant string) (*replybridge.Config, error) {
	v, err := settings()
	if err != nil {
		return nil, err
	}
	conf, err := replybridge.LoadConfigFrom(v, v.GetString(keyConfigFile))
	if err != nil {
		return nil, err
	}
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return conf, nil
	}
	conf.TenantID = tenant
	for _, t := range conf.Tenants {
		if t == tenant {
			return conf, nil
		}
	}
	conf.Tenants = append(conf.Tenants, tenant)
	return conf, nil
}

// flagLogger builds the logger selected by --log-backend and --log-level.
func flagLogger(w io.Writer) (replybridge.ServiceLogger, error) {
	v, err := settings()
	if err != nil {
		return nil, err
	}
	return newLogger(v.GetString(keyLogBackend), v.GetString(keyLogLevel), w)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
