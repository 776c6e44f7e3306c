package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "docuchat", cfg.Chat.BotName)
	assert.Equal(t, "title", cfg.Search.SourceField)
	assert.Equal(t, "content", cfg.Search.ContentField)
	assert.Equal(t, 120*time.Second, cfg.OpenAI.RequestTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OPENAI_REQUEST_TIMEOUT", "45s")
	t.Setenv("CHAT_BOT_NAME", "helpdesk")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 45*time.Second, cfg.OpenAI.RequestTimeout)
	assert.Equal(t, "helpdesk", cfg.Chat.BotName)
}

func TestLoadDeploymentOverrides(t *testing.T) {
	t.Setenv("OPENAI_DEPLOYMENT_OVERRIDES", "gpt-4o=prod-gpt4o-eastus, gpt-35-turbo=chat-default,broken,=nope")

	cfg := Load()
	assert.Equal(t, map[string]string{
		"gpt-4o":       "prod-gpt4o-eastus",
		"gpt-35-turbo": "chat-default",
	}, cfg.OpenAI.DeploymentOverrides)
}

func TestLoadDeploymentOverridesUnset(t *testing.T) {
	cfg := Load()
	assert.Nil(t, cfg.OpenAI.DeploymentOverrides)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SEARCH_REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Search.RequestTimeout)
}
