package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Chat.DefaultModel)
	assert.Equal(t, 30*time.Second, cfg.APITimeout())
	assert.Equal(t, 10*time.Minute, cfg.TurnTimeout())
}

func TestLoadParsesYAML(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".chatline"), 0755))
	body := `
api:
  base_url: https://chat.example.com/api
  timeout: 5s
chat:
  default_model: gpt-4
  turn_timeout: 2m
logging:
  debug_mode: true
  level: debug
`
	require.NoError(t, os.WriteFile(Path(ws), []byte(body), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "gpt-4", cfg.Chat.DefaultModel)
	assert.Equal(t, 5*time.Second, cfg.APITimeout())
	assert.Equal(t, 2*time.Minute, cfg.TurnTimeout())
	assert.True(t, cfg.Logging.DebugMode)
}

func TestEnvOverridesWin(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".chatline"), 0755))
	require.NoError(t, os.WriteFile(Path(ws), []byte("api:\n  base_url: https://file.example.com\n"), 0644))

	t.Setenv("CHATLINE_API_URL", "https://env.example.com")
	t.Setenv("CHATLINE_MODEL", "claude-3")

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "claude-3", cfg.Chat.DefaultModel)
}

func TestBadTimeoutFallsBack(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".chatline"), 0755))
	require.NoError(t, os.WriteFile(Path(ws), []byte("api:\n  timeout: nonsense\n"), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.APITimeout())
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	require.NoError(t, err)
	cfg.API.AuthToken = "tok-123"

	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", loaded.API.AuthToken)
}
