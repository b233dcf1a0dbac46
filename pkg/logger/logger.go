package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Setup initializes the global logger.
// It outputs to stdout using a TextHandler, which is human-readable.
// An unknown level falls back to info.
func Setup(level string) {
	l, err := ParseLevel(level)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: l,
	})
	slog.SetDefault(slog.New(handler))
	if err != nil {
		slog.Warn("falling back to info logging", "error", err)
	}
}

// Fatal logs an error message and then exits the application.
// slog doesn't have a Fatal method by default.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// CronLogger adapts slog to the cron.Logger interface
type CronLogger struct {
	Logger *slog.Logger
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}

// PahoLogger adapts slog to paho's mqtt.Logger at a fixed level.
type PahoLogger struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (l PahoLogger) Println(v ...interface{}) {
	l.log(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l PahoLogger) Printf(format string, v ...interface{}) {
	l.log(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l PahoLogger) log(msg string) {
	l.Logger.Log(context.Background(), l.Level, msg, "component", "mqtt")
}

// RoutePaho sends paho's error and warning output through logger.
func RoutePaho(logger *slog.Logger) {
	mqtt.ERROR = PahoLogger{Logger: logger, Level: slog.LevelError}
	mqtt.CRITICAL = PahoLogger{Logger: logger, Level: slog.LevelError}
	mqtt.WARN = PahoLogger{Logger: logger, Level: slog.LevelWarn}
}
