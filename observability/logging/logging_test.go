package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("bountyd", "test", WithWriter(&buf), WithLevel(slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("bounty submitted", slog.String("operation", "SubmitBounty"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug lines must be filtered")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "INFO", entry["severity"])
	require.Equal(t, "bounty submitted", entry["message"])
	require.Equal(t, "bountyd", entry["service"])
	require.Equal(t, "test", entry["env"])
	require.Equal(t, "SubmitBounty", entry["operation"])
	require.Contains(t, entry, "timestamp")
}

func TestSetupWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "bountyd.log")
	logger := Setup("bountyd", "", WithWriter(&buf), WithFile(path, 1, 1, 1))
	logger.Warn("vault low")
	require.FileExists(t, path)
	require.Contains(t, buf.String(), "vault low")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)
	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
	_, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, RedactedValue, MaskField("auth_hmac_secret", "hunter2").Value.String())
	require.Equal(t, "0xabc", MaskField("caller", "0xabc").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.False(t, IsSensitive(""))
	require.True(t, IsSensitive("  Bearer_Token "))
}

func TestSetupRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("bountyd", "", WithWriter(&buf))
	logger.Info("config loaded",
		slog.String("hmac_secret", "do-not-print"),
		slog.Group("auth", slog.String("token", "eyJhbGciOi"), slog.String("issuer", "zkbounty")),
		slog.String("listen", ":8545"),
	)

	require.NotContains(t, buf.String(), "do-not-print")
	require.NotContains(t, buf.String(), "eyJhbGciOi")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, RedactedValue, entry["hmac_secret"])
	require.Equal(t, ":8545", entry["listen"])
	auth, ok := entry["auth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, RedactedValue, auth["token"])
	require.Equal(t, "zkbounty", auth["issuer"])
}
