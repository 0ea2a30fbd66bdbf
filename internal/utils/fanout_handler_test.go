package utils

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutHandler(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	debugSink := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoSink := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewFanoutHandler(debugSink, infoSink))
	logger.Debug("verbose detail")
	logger.Info("routine note")

	// Each sink filters by its own level.
	assert.Contains(t, debugBuf.String(), "verbose detail")
	assert.Contains(t, debugBuf.String(), "routine note")
	assert.NotContains(t, infoBuf.String(), "verbose detail")
	assert.Contains(t, infoBuf.String(), "routine note")
}
