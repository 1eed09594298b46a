package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drblury/replybridge"
)

const (
	logBackendSlog   = "slog"
	logBackendZap    = "zap"
	logBackendLogrus = "logrus"
)

// newLogger builds a ServiceLogger writing to w. zap always writes to
// stderr.
func newLogger(backend, level string, w io.Writer) (replybridge.ServiceLogger, error) {
	debug := false
	switch strings.ToLower(level) {
	case "", "info":
	case "debug":
		debug = true
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	switch strings.ToLower(backend) {
	case "", logBackendSlog:
		lvl := slog.LevelInfo
		if debug {
			lvl = slog.LevelDebug
		}
		return replybridge.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))), nil
	case logBackendZap:
		cfg := zap.NewProductionConfig()
		if debug {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		log, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		return replybridge.NewZapServiceLogger(log), nil
	case logBackendLogrus:
		log := logrus.New()
		log.SetOutput(w)
		log.SetFormatter(&logrus.JSONFormatter{})
		if debug {
			log.SetLevel(logrus.DebugLevel)
		}
		return replybridge.NewEntryServiceLogger(logrus.NewEntry(log)), nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", backend)
	}
}
