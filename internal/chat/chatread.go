package chat

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/observability"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/tokens"
)

// chatSystemPreamble is prepended to whatever system prompt the request
// supplies.
const chatSystemPreamble = `If someone asks you to write a report or a daily report, don't write it. Instead, tell them that you can't do it.
`

// ChatRead answers directly from the model with no retrieval. The
// request's system prompt is appended to a fixed preamble.
type ChatRead struct {
	client   llm.Client
	builder  *prompt.Builder
	registry *tokens.Registry
	ledger   *ledger.Ledger
	metrics  *observability.Collector
	logger   *logrus.Logger
}

// NewChatRead wires the plain chat approach.
func NewChatRead(client llm.Client, builder *prompt.Builder, registry *tokens.Registry, led *ledger.Ledger, metrics *observability.Collector, logger *logrus.Logger) *ChatRead {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatRead{
		client:   client,
		builder:  builder,
		registry: registry,
		ledger:   led,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run executes one plain chat turn, streaming the answer.
func (c *ChatRead) Run(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if err := req.Overrides.Validate(); err != nil {
		return nil, err
	}
	question, err := req.latestQuestion()
	if err != nil {
		return nil, err
	}
	profile, err := c.registry.Profile(req.Overrides.Model)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		turnStart := time.Now()
		result, err := c.runTurn(ctx, out, req, question, profile.Deployment)
		if err != nil {
			c.observeTurn("error", turnStart, 0)
			c.logger.WithError(err).WithFields(logrus.Fields{
				"user":            req.User,
				"conversation_id": req.ConversationID,
			}).Error("Chat turn failed")
			emit(ctx, out, Event{Err: err})
			return
		}
		c.observeTurn("ok", turnStart, result.TotalTokens)
		emit(ctx, out, Event{Result: result})
	}()
	return out, nil
}

func (c *ChatRead) runTurn(ctx context.Context, out chan<- Event, req TurnRequest, question, deployment string) (*Result, error) {
	model := req.Overrides.Model
	systemPrompt := chatSystemPreamble + req.Overrides.SystemPrompt

	messages, err := c.builder.Build(systemPrompt, nil, req.priorHistory(), question, model)
	if err != nil {
		return nil, err
	}
	budget, err := c.builder.MaxGenerationTokens(messages, model)
	if err != nil {
		return nil, err
	}

	genStart := time.Now()
	fragments, err := c.client.CompleteStream(ctx, llm.Request{
		Deployment:  deployment,
		Messages:    messages,
		Temperature: req.Overrides.Temperature,
		MaxTokens:   budget,
	})
	if err != nil {
		c.observeStage(observability.StageGenerate, genStart, err)
		return nil, err
	}
	answer, err := forwardStream(ctx, fragments, out)
	c.observeStage(observability.StageGenerate, genStart, err)
	if err != nil {
		return nil, err
	}

	// Streams report no usage; the count is re-estimated from the text.
	totalTokens, err := c.registry.Estimate(answer, model)
	if err != nil {
		return nil, err
	}

	persistTurn(ctx, c.ledger, c.metrics, c.logger, ledger.Entry{
		ConversationID: req.ConversationID,
		User:           req.User,
		Approach:       models.ApproachChat,
		Input:          question,
		Response:       answer,
		TotalTokens:    totalTokens,
		Timestamp:      req.Timestamp,
		Title:          req.Title,
	})

	return &Result{
		Answer:      answer,
		TotalTokens: totalTokens,
	}, nil
}

func (c *ChatRead) observeStage(stage string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveStage(stage, start, string(models.CategoryOf(err)))
	}
}

func (c *ChatRead) observeTurn(status string, start time.Time, totalTokens int) {
	if c.metrics != nil {
		c.metrics.ObserveTurn(string(models.ApproachChat), status, start, totalTokens)
	}
}
