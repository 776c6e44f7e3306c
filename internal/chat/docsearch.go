package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/embedding"
	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/observability"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/search"
	"github.com/docuchat/docuchat/internal/tokens"
)

// maxSourcesChars caps the Sources block appended to the final user turn,
// counted in characters so multibyte content is never split mid-rune.
// Passages past the cap are silently dropped, retrieval order preserved.
const maxSourcesChars = 1024

// maxAnswerTokens caps the generation budget for grounded answers.
const maxAnswerTokens = 1024

const answerSystemPrompt = `Assistant helps the customer questions. Keep your answers concise.
Answer ONLY with the facts listed in the list of sources below. If there isn't enough information below, say you don't know. Do not generate answers that don't use the sources below. If asking a clarifying question to the user would help, ask the question.
For tabular information return it as an html table. Do not return markdown format.
If a word with multiple meanings is used, ask which meaning the word should be, if necessary.
Each source has a name followed by colon and the actual information, always include the source name for each fact you use in the response. Use square brackets to reference the source, e.g. [info1.txt]. Don't combine sources, list each source separately, e.g. [info1.txt][info2.pdf].
`

// DocSearch answers each turn from the document index: reformulate the
// question into a search query, retrieve passages, then generate a
// grounded answer constrained to cite them.
type DocSearch struct {
	reformulator *Reformulator
	embedder     embedding.Embedder
	retriever    search.Retriever
	client       llm.Client
	builder      *prompt.Builder
	registry     *tokens.Registry
	ledger       *ledger.Ledger
	metrics      *observability.Collector
	logger       *logrus.Logger
}

// NewDocSearch wires the retrieval-grounded approach.
func NewDocSearch(
	reformulator *Reformulator,
	embedder embedding.Embedder,
	retriever search.Retriever,
	client llm.Client,
	builder *prompt.Builder,
	registry *tokens.Registry,
	led *ledger.Ledger,
	metrics *observability.Collector,
	logger *logrus.Logger,
) *DocSearch {
	if logger == nil {
		logger = logrus.New()
	}
	return &DocSearch{
		reformulator: reformulator,
		embedder:     embedder,
		retriever:    retriever,
		client:       client,
		builder:      builder,
		registry:     registry,
		ledger:       led,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run executes one document-search turn. Validation failures surface
// immediately; pipeline failures stream as a terminal Err event. The
// ledger is only invoked after the stream completed.
func (d *DocSearch) Run(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if err := req.Overrides.Validate(); err != nil {
		return nil, err
	}
	question, err := req.latestQuestion()
	if err != nil {
		return nil, err
	}
	profile, err := d.registry.Profile(req.Overrides.Model)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		turnStart := time.Now()
		result, err := d.runTurn(ctx, out, req, question, profile.Deployment)
		if err != nil {
			d.observeTurn("error", turnStart, 0)
			d.logger.WithError(err).WithFields(logrus.Fields{
				"user":            req.User,
				"conversation_id": req.ConversationID,
			}).Error("Document search turn failed")
			emit(ctx, out, Event{Err: err})
			return
		}
		d.observeTurn("ok", turnStart, result.TotalTokens)
		emit(ctx, out, Event{Result: result})
	}()
	return out, nil
}

func (d *DocSearch) runTurn(ctx context.Context, out chan<- Event, req TurnRequest, question, deployment string) (*Result, error) {
	model := req.Overrides.Model
	history := req.priorHistory()

	// The reformulation and embedding calls are independent until the
	// search call needs both results. The vector is only needed for
	// hybrid search, so plain mode skips the embedding call entirely.
	var (
		wg          sync.WaitGroup
		query       string
		queryTokens int
		queryErr    error
		vector      []float32
		vectorErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		query, queryTokens, queryErr = d.reformulator.Reformulate(ctx, history, question, model)
		d.observeStage(observability.StageReformulate, start, queryErr)
	}()
	if req.Overrides.SemanticRanker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			vector, vectorErr = d.embedder.EmbedQuery(ctx, question)
			d.observeStage(observability.StageEmbed, start, vectorErr)
		}()
	}
	wg.Wait()
	if queryErr != nil {
		return nil, queryErr
	}
	if vectorErr != nil {
		return nil, vectorErr
	}

	searchStart := time.Now()
	passages, err := d.retriever.Search(ctx, search.Options{
		Query:               query,
		Vector:              vector,
		ExcludeCategory:     req.Overrides.ExcludeCategory,
		Top:                 req.Overrides.Top,
		UseSemanticRanking:  req.Overrides.SemanticRanker,
		UseSemanticCaptions: req.Overrides.SemanticCaptions,
	})
	d.observeStage(observability.StageSearch, searchStart, err)
	if err != nil {
		return nil, err
	}

	dataPoints := make([]string, 0, len(passages))
	for _, p := range passages {
		dataPoints = append(dataPoints, p.String())
	}
	sources := strings.Join(dataPoints, "\n")
	if runes := []rune(sources); len(runes) > maxSourcesChars {
		sources = string(runes[:maxSourcesChars])
	}

	currentTurn := question + "\n\nSources:\n" + sources
	messages, err := d.builder.Build(answerSystemPrompt, nil, history, currentTurn, model)
	if err != nil {
		return nil, err
	}
	budget, err := d.builder.MaxGenerationTokens(messages, model)
	if err != nil {
		return nil, err
	}
	if budget > maxAnswerTokens {
		budget = maxAnswerTokens
	}

	genStart := time.Now()
	fragments, err := d.client.CompleteStream(ctx, llm.Request{
		Deployment:  deployment,
		Messages:    messages,
		Temperature: req.Overrides.Temperature,
		MaxTokens:   budget,
	})
	if err != nil {
		d.observeStage(observability.StageGenerate, genStart, err)
		return nil, err
	}
	answer, err := forwardStream(ctx, fragments, out)
	d.observeStage(observability.StageGenerate, genStart, err)
	if err != nil {
		return nil, err
	}

	// Provider usage is not reported on streams; re-estimate from the
	// accumulated text.
	answerTokens, err := d.registry.Estimate(answer, model)
	if err != nil {
		return nil, err
	}
	totalTokens := queryTokens + answerTokens

	persistTurn(ctx, d.ledger, d.metrics, d.logger, ledger.Entry{
		ConversationID: req.ConversationID,
		User:           req.User,
		Approach:       models.ApproachDocSearch,
		Input:          question,
		Response:       answer,
		TotalTokens:    totalTokens,
		Timestamp:      req.Timestamp,
		Title:          req.Title,
		Query:          query,
	})

	return &Result{
		Answer:      answer,
		DataPoints:  dataPoints,
		Thoughts:    renderThoughts(query, messages),
		TotalTokens: totalTokens,
	}, nil
}

func (d *DocSearch) observeStage(stage string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.ObserveStage(stage, start, string(models.CategoryOf(err)))
	}
}

func (d *DocSearch) observeTurn(status string, start time.Time, totalTokens int) {
	if d.metrics != nil {
		d.metrics.ObserveTurn(string(models.ApproachDocSearch), status, start, totalTokens)
	}
}
