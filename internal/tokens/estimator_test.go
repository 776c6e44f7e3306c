package tokens

import (
	"strings"
	"testing"

	"github.com/docuchat/docuchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileLookup(t *testing.T) {
	r := DefaultRegistry()

	p, err := r.Profile("gpt-4-32k")
	require.NoError(t, err)
	assert.Equal(t, 32768, p.ContextWindow)
	assert.Equal(t, TokenizerCL100K, p.TokenizerID)

	_, err = r.Profile("gpt-5-nano")
	require.Error(t, err)
	assert.Equal(t, models.CategoryInvalidRequest, models.CategoryOf(err))
}

func TestSetDeployment(t *testing.T) {
	r := DefaultRegistry()
	r.SetDeployment("gpt-4o", "prod-gpt4o-eastus")

	p, err := r.Profile("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "prod-gpt4o-eastus", p.Deployment)

	// Unknown models and empty handles are ignored.
	r.SetDeployment("no-such-model", "x")
	r.SetDeployment("gpt-4o", "")
	p, _ = r.Profile("gpt-4o")
	assert.Equal(t, "prod-gpt4o-eastus", p.Deployment)
}

func TestEstimate(t *testing.T) {
	r := DefaultRegistry()

	n, err := r.Estimate("", "gpt-4")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.Estimate("a", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Estimate(strings.Repeat("x", 400), "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = r.Estimate("hello", "unknown-model")
	assert.Error(t, err)
}

func TestEstimateMessagesGrowsWithHistory(t *testing.T) {
	r := DefaultRegistry()

	short := []models.Turn{
		{Role: models.RoleSystem, Content: "You are helpful."},
		{Role: models.RoleUser, Content: "Hi"},
	}
	long := append(append([]models.Turn{}, short...),
		models.Turn{Role: models.RoleAssistant, Content: strings.Repeat("word ", 50)},
		models.Turn{Role: models.RoleUser, Content: "And then?"},
	)

	a, err := r.EstimateMessages(short, "gpt-35-turbo")
	require.NoError(t, err)
	b, err := r.EstimateMessages(long, "gpt-35-turbo")
	require.NoError(t, err)

	assert.Greater(t, b, a)
	assert.Positive(t, a)
}
