package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	zl "github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-service-thread/core"
)

func TestLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(zl.DebugLevel, "json", &buf).With("service_thread")

	log.Info("dispatched",
		core.F("thread", "Service Thread"),
		core.F("iteration", uint64(7)),
		core.F("source", core.SourceGCNotification),
		core.F("duration", 3*time.Millisecond),
		core.F("error", errors.New("boom")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "dispatched", line["message"])
	assert.Equal(t, "service_thread", line["component"])
	assert.Equal(t, "Service Thread", line["thread"])
	assert.EqualValues(t, 7, line["iteration"])
	assert.Equal(t, "gc_notification", line["source"])
	assert.Equal(t, "boom", line["error"])
	assert.Contains(t, line, "time")
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(zl.WarnLevel, "json", &buf)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zl.Level{
		"":      zl.InfoLevel,
		"DEBUG": zl.DebugLevel,
		"warn":  zl.WarnLevel,
		"error": zl.ErrorLevel,
		"off":   zl.Disabled,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
