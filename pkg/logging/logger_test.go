package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/medsearch/pkg/config"
)

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Format: "console"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLogger_RejectsBadFormat(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	require.NoError(t, err)

	logger.Debug("below level")
	logger.Named("sync").Info("page saved")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry), "expected exactly one JSON line, got %s", data)
	assert.Equal(t, "page saved", entry["msg"])
	assert.Equal(t, "sync", entry["logger"])
	assert.Equal(t, "info", entry["level"])
}
