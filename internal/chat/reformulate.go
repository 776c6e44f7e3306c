package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/tokens"
)

const queryPromptTemplate = `Below is a history of the conversation so far, and a new question asked by the user that needs to be answered by searching in a knowledge base.
Generate a search query based on the conversation and the new question.
Do not include cited source filenames and document names e.g info.txt or doc.pdf in the search query terms.
Do not include any text inside [] or <<>> in the search query terms.
Do not include any special characters like '+'.
The language of the search query is generated in the language of the string described in the source question.
If you cannot generate a search query, return just the number 0.

source quesion: %s
`

// queryFewShots demonstrate query compression to the model.
var queryFewShots = []models.Turn{
	{Role: models.RoleUser, Content: "What are my health plans?"},
	{Role: models.RoleAssistant, Content: "Show available health plans"},
	{Role: models.RoleUser, Content: "does my plan cover cardio?"},
	{Role: models.RoleAssistant, Content: "Health plan cardio coverage"},
}

// Reformulator compresses (history, latest question) into a retrieval
// query with one deterministic completion call.
type Reformulator struct {
	client   llm.Client
	builder  *prompt.Builder
	registry *tokens.Registry
	logger   *logrus.Logger
}

// NewReformulator creates a query reformulator.
func NewReformulator(client llm.Client, builder *prompt.Builder, registry *tokens.Registry, logger *logrus.Logger) *Reformulator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reformulator{
		client:   client,
		builder:  builder,
		registry: registry,
		logger:   logger,
	}
}

// Reformulate returns the search query and the tokens the call consumed.
// A literal "0" reply means the model could not improve on the question;
// the latest question is returned verbatim then.
func (r *Reformulator) Reformulate(ctx context.Context, history []models.Turn, latestQuestion, model string) (string, int, error) {
	profile, err := r.registry.Profile(model)
	if err != nil {
		return "", 0, err
	}

	systemPrompt := fmt.Sprintf(queryPromptTemplate, latestQuestion)
	currentTurn := "Generate search query for: " + latestQuestion
	messages, err := r.builder.Build(systemPrompt, queryFewShots, history, currentTurn, model)
	if err != nil {
		return "", 0, err
	}
	maxTokens, err := r.builder.MaxGenerationTokens(messages, model)
	if err != nil {
		return "", 0, err
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		Deployment:  profile.Deployment,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, err
	}

	query := strings.TrimSpace(resp.Content)
	if query == "0" {
		r.logger.WithField("question", latestQuestion).Debug("Reformulation declined, falling back to the question")
		query = latestQuestion
	}
	return query, resp.Usage.TotalTokens, nil
}
