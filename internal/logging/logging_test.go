package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("dev", slog.LevelError))
	assert.Equal(t, slog.LevelInfo, ParseLevel(" INFO ", slog.LevelError))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning", slog.LevelError))
	assert.Equal(t, slog.LevelError, ParseLevel("prod", slog.LevelDebug))
	assert.Equal(t, slog.LevelWarn, ParseLevel("loud", slog.LevelWarn))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)
	log.Debug("hidden")
	log.Info("room created", "room_id", "standup")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "room_id=standup")
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	l := PionFactory(New(&buf, slog.LevelDebug)).NewLogger("ice")

	l.Tracef("candidate %d", 1)
	l.Debugf("gathering %s", "host")
	l.Warn("srflx timeout")

	out := buf.String()
	assert.NotContains(t, out, "candidate 1")
	assert.Contains(t, out, "gathering host")
	assert.Contains(t, out, "scope=ice")
	assert.Contains(t, out, "level=WARN")
}
