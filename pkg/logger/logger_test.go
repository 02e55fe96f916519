package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestNew_ParsesKnownLevels(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}

	for level, want := range cases {
		New(Config{Level: level})
		assert.Equal(t, want, zerolog.GlobalLevel(), "level %q", level)
	}
}

func TestNew_UnrecognizedLevelDefaultsToInfo(t *testing.T) {
	New(Config{Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetGlobalLogger_ReplacesPackageLogger(t *testing.T) {
	l := New(Config{Level: "debug"})
	SetGlobalLogger(l)
	assert.Equal(t, l, log.Logger)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestComponent_TagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	parent := zerolog.New(&buf)

	child := Component(parent, "traffic_controller")
	child.Info().Msg("dispatching")

	assert.Contains(t, buf.String(), `"component":"traffic_controller"`)
	assert.Contains(t, buf.String(), "dispatching")
}
