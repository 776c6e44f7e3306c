package ledger

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/tokens"
)

// DefaultTitle is used when title generation fails: first-turn creation
// degrades rather than aborting.
const DefaultTitle = "New Conversation"

const titleSystemPrompt = `Your assistant will come up with a title for your question.
Answer in the customer's language.
Titles should be easy to understand and no more than 20 characters.
Please use the words you have used as much as possible.
Don't end your sentences with a "?".`

const titleTemperature = 0.5

// TitleSource produces a short conversation title from the first input.
type TitleSource interface {
	Generate(ctx context.Context, input string) (string, error)
}

// CompletionTitler generates titles with one short completion call.
type CompletionTitler struct {
	client   llm.Client
	builder  *prompt.Builder
	registry *tokens.Registry
	model    string
	logger   *logrus.Logger
}

// NewCompletionTitler creates a titler bound to one model.
func NewCompletionTitler(client llm.Client, builder *prompt.Builder, registry *tokens.Registry, model string, logger *logrus.Logger) *CompletionTitler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CompletionTitler{
		client:   client,
		builder:  builder,
		registry: registry,
		model:    model,
		logger:   logger,
	}
}

// Generate builds the title prompt and returns the trimmed completion.
func (t *CompletionTitler) Generate(ctx context.Context, input string) (string, error) {
	profile, err := t.registry.Profile(t.model)
	if err != nil {
		return "", err
	}
	messages, err := t.builder.Build(titleSystemPrompt, nil, nil, input, t.model)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Complete(ctx, llm.Request{
		Deployment:  profile.Deployment,
		Messages:    messages,
		Temperature: titleTemperature,
	})
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return "", &models.Error{
			Category: models.CategoryRemoteService,
			Op:       "ledger.CompletionTitler.Generate",
			Message:  "completion returned empty title",
		}
	}
	return title, nil
}
