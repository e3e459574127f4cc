package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test"})

	logger := WithComponent("queue")
	logger.Debug().Str("job_id", "j1").Msg("admitted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "j1", entry["job_id"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "admitted", entry["message"])
}

func TestConfigureInvalidLevelFallsBackToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Configure(Config{Level: "chatty", Output: &buf})

	base := Base()
	base.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	base = Base()
	base.Info().Msg("shown")
	assert.Contains(t, buf.String(), `"service":"beatframe"`)
}
