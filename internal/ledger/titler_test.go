package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/tokens"
)

type fakeCompleter struct {
	lastRequest llm.Request
	response    *llm.Response
	err         error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.Fragment, error) {
	panic("not used")
}

func newTitlerUnderTest(client llm.Client) *CompletionTitler {
	registry := tokens.DefaultRegistry()
	return NewCompletionTitler(client, prompt.NewBuilder(registry), registry, "gpt-35-turbo", nil)
}

func TestCompletionTitlerGenerate(t *testing.T) {
	client := &fakeCompleter{response: &llm.Response{Content: "  Health plan question \n"}}
	titler := newTitlerUnderTest(client)

	title, err := titler.Generate(context.Background(), "does my plan cover cardio?")
	require.NoError(t, err)
	assert.Equal(t, "Health plan question", title)

	req := client.lastRequest
	assert.Equal(t, "gpt-35-turbo", req.Deployment)
	assert.InDelta(t, titleTemperature, req.Temperature, 0.001)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "does my plan cover cardio?", req.Messages[1].Content)
}

func TestCompletionTitlerEmptyContent(t *testing.T) {
	client := &fakeCompleter{response: &llm.Response{Content: "   "}}
	titler := newTitlerUnderTest(client)

	_, err := titler.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, models.CategoryRemoteService, models.CategoryOf(err))
}

func TestCompletionTitlerUnknownModel(t *testing.T) {
	registry := tokens.DefaultRegistry()
	titler := NewCompletionTitler(&fakeCompleter{}, prompt.NewBuilder(registry), registry, "no-such-model", nil)

	_, err := titler.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, models.CategoryInvalidRequest, models.CategoryOf(err))
}
