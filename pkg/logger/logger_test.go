package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"info":   slog.LevelInfo,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	l, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, l)
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPahoLogger(t *testing.T) {
	var buf bytes.Buffer
	l := PahoLogger{Logger: bufferLogger(&buf), Level: slog.LevelWarn}

	l.Printf("[client] %s lost", "connection")
	assert.Contains(t, buf.String(), `level=WARN msg="[client] connection lost" component=mqtt`)

	buf.Reset()
	l.Println("ping", 3)
	assert.Contains(t, buf.String(), `msg="ping 3"`)
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &CronLogger{Logger: bufferLogger(&buf)}

	l.Error(errors.New("disk full"), "job failed", "entry", 1)
	assert.Contains(t, buf.String(), `level=ERROR msg="job failed" entry=1 error="disk full"`)
}
