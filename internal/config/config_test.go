package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "public", cfg.StaticDir)
	assert.Equal(t, "chat.json", cfg.GitHubFilePath)
	assert.Equal(t, "https://api.github.com", cfg.GitHubAPIURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("GITHUB_TOKEN", "secret")
	t.Setenv("GITHUB_REPO", "someone/elsewhere")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "secret", cfg.GitHubToken)
	assert.Equal(t, "someone/elsewhere", cfg.GitHubRepo)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}
