package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"anemometer-server/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger. When cfg.LogFile is set every line is also
// written to that file, rotated by size. The returned closer releases it.
func New(cfg config.Config, version string, appName string) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}
	return newLogger(out, cfg, version, appName), closer
}

func newLogger(out io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(out, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
			// escape codes would end up in the log file
			NoColor: cfg.LogFile != "",
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}
