// Package search retrieves passages from the indexed knowledge base via
// the document index's search endpoint: plain lexical search, or hybrid
// lexical+vector search with a semantic re-ranking pass and optional
// query-focused captions.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/models"
)

// vectorCandidates caps the vector-similarity candidates fed into hybrid
// ranking, independent of the caller's top.
const vectorCandidates = 5

// Retriever is the retrieval contract the orchestration depends on.
type Retriever interface {
	Search(ctx context.Context, opts Options) ([]models.RetrievedPassage, error)
}

// Options selects the retrieval mode for one query.
type Options struct {
	Query               string
	Vector              []float32
	ExcludeCategory     string
	Top                 int
	UseSemanticRanking  bool
	UseSemanticCaptions bool
}

// Client is an HTTP client for the search index.
type Client struct {
	endpoint         string
	indexName        string
	apiVersion       string
	semanticConfig   string
	sourceLabelField string
	contentField     string
	credentials      auth.TokenProvider
	httpClient       *http.Client
	logger           *logrus.Logger
}

// Config configures the search client. SourceLabelField and ContentField
// name the index fields holding the citation label and the passage body.
type Config struct {
	Endpoint         string
	IndexName        string
	APIVersion       string
	SemanticConfig   string
	SourceLabelField string
	ContentField     string
	Timeout          time.Duration
	Credentials      auth.TokenProvider
	Logger           *logrus.Logger
}

// NewClient creates a search client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SourceLabelField == "" {
		cfg.SourceLabelField = "title"
	}
	if cfg.ContentField == "" {
		cfg.ContentField = "content"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Client{
		endpoint:         strings.TrimRight(cfg.Endpoint, "/"),
		indexName:        cfg.IndexName,
		apiVersion:       cfg.APIVersion,
		semanticConfig:   cfg.SemanticConfig,
		sourceLabelField: cfg.SourceLabelField,
		contentField:     cfg.ContentField,
		credentials:      cfg.Credentials,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		logger:           cfg.Logger,
	}
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
}

type wireRequest struct {
	Search                string        `json:"search"`
	Filter                string        `json:"filter,omitempty"`
	Top                   int           `json:"top"`
	QueryType             string        `json:"queryType,omitempty"`
	QueryLanguage         string        `json:"queryLanguage,omitempty"`
	Speller               string        `json:"speller,omitempty"`
	SemanticConfiguration string        `json:"semanticConfiguration,omitempty"`
	Answers               string        `json:"answers,omitempty"`
	Captions              string        `json:"captions,omitempty"`
	VectorQueries         []vectorQuery `json:"vectorQueries,omitempty"`
}

type wireCaption struct {
	Text string `json:"text"`
}

type wireResponse struct {
	Value []json.RawMessage `json:"value"`
}

// Search runs one retrieval call. Plain mode (UseSemanticRanking=false) is
// lexical only and ignores the vector. Semantic mode issues a hybrid
// query with extractive answers and, when requested, extractive captions.
func (c *Client) Search(ctx context.Context, opts Options) ([]models.RetrievedPassage, error) {
	if opts.Top < 1 {
		return nil, &models.Error{
			Category: models.CategoryInvalidRequest,
			Op:       "search.Client.Search",
			Message:  fmt.Sprintf("top must be >= 1, got %d", opts.Top),
		}
	}

	req := wireRequest{
		Search: opts.Query,
		Filter: buildFilter(opts.ExcludeCategory, c.sourceLabelField),
		Top:    opts.Top,
	}
	if opts.UseSemanticRanking {
		req.QueryType = "semantic"
		req.QueryLanguage = "en-us"
		req.Speller = "lexicon"
		req.SemanticConfiguration = c.semanticConfig
		req.Answers = "extractive"
		if opts.UseSemanticCaptions {
			req.Captions = "extractive|highlight-false"
		}
		if len(opts.Vector) > 0 {
			req.VectorQueries = []vectorQuery{{
				Kind:   "vector",
				Vector: opts.Vector,
				K:      vectorCandidates,
				Fields: c.contentField,
			}}
		}
	}

	raw, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	passages := make([]models.RetrievedPassage, 0, len(raw.Value))
	for _, hitRaw := range raw.Value {
		passage, ok := c.toPassage(hitRaw, opts.UseSemanticCaptions)
		if ok {
			passages = append(passages, passage)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"query":    truncate(opts.Query, 50),
		"semantic": opts.UseSemanticRanking,
		"captions": opts.UseSemanticCaptions,
		"results":  len(passages),
	}).Debug("Index search completed")

	return passages, nil
}

func (c *Client) post(ctx context.Context, req wireRequest) (*wireResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, models.WrapRemote("search.Client.Search", fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/search", c.endpoint, c.indexName)
	if c.apiVersion != "" {
		url += "?api-version=" + c.apiVersion
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapRemote("search.Client.Search", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.credentials != nil {
		tok, err := c.credentials.Token(ctx)
		if err != nil {
			return nil, models.WrapRemote("search.Client.Search", fmt.Errorf("failed to obtain credential: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.WrapRemote("search.Client.Search", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapRemote("search.Client.Search", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.WrapRemote("search.Client.Search",
			fmt.Errorf("search service error: %d - %s", resp.StatusCode, string(respBody)))
	}

	var apiResp wireResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, models.WrapRemote("search.Client.Search", fmt.Errorf("failed to parse response: %w", err))
	}
	return &apiResp, nil
}

// toPassage extracts a passage from one raw hit. Caption fragments are
// newline-stripped and joined with " . "; plain content is newline-
// stripped as is. Hits without the label field are skipped.
func (c *Client) toPassage(hitRaw json.RawMessage, useCaptions bool) (models.RetrievedPassage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(hitRaw, &fields); err != nil {
		return models.RetrievedPassage{}, false
	}

	label, ok := stringField(fields, c.sourceLabelField)
	if !ok {
		return models.RetrievedPassage{}, false
	}

	var text string
	if useCaptions {
		var hit struct {
			Captions []wireCaption `json:"@search.captions"`
		}
		if err := json.Unmarshal(hitRaw, &hit); err == nil {
			parts := make([]string, 0, len(hit.Captions))
			for _, caption := range hit.Captions {
				parts = append(parts, caption.Text)
			}
			text = nonewlines(strings.Join(parts, " . "))
		}
	} else {
		content, _ := stringField(fields, c.contentField)
		text = nonewlines(content)
	}

	return models.RetrievedPassage{SourceLabel: label, Text: text}, true
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// buildFilter compiles an exclude-category override into a not-equal
// predicate on the label field. Single quotes in the value are doubled.
func buildFilter(excludeCategory, field string) string {
	if excludeCategory == "" {
		return ""
	}
	escaped := strings.ReplaceAll(excludeCategory, "'", "''")
	return fmt.Sprintf("%s ne '%s'", field, escaped)
}

func nonewlines(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
