// Package tokens provides approximate token counting and the static
// model-profile table the pipeline sizes prompts against.
//
// Estimation is a characters-per-token heuristic tuned per tokenizer
// family. The count is approximate and only feeds budget decisions, never
// billing; the budget calculator carries the slack for the error.
package tokens

import (
	"fmt"

	"github.com/docuchat/docuchat/internal/models"
)

// Tokenizer families used by the supported model profiles.
const (
	TokenizerCL100K = "cl100k_base"
	TokenizerO200K  = "o200k_base"
)

// Approximation constants. English text averages ~4 characters per token
// on both supported tokenizer families; each chat message adds a fixed
// overhead for role and separators.
const (
	charsPerToken      = 4
	perMessageOverhead = 4
	replyPrimingTokens = 3
)

// Profile describes one deployable model: the remote deployment handle,
// its context window and its tokenizer family. The table is read-only and
// process-wide, loaded at startup.
type Profile struct {
	Deployment    string
	ContextWindow int
	TokenizerID   string
}

// Registry maps model names to profiles. Lookup fails closed: an unknown
// model is a configuration error the caller must reject before generation.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry from an explicit profile table.
func NewRegistry(profiles map[string]Profile) *Registry {
	table := make(map[string]Profile, len(profiles))
	for name, p := range profiles {
		table[name] = p
	}
	return &Registry{profiles: table}
}

// DefaultRegistry returns the built-in model table. Deployment handles
// default to the model name and are overridden from configuration.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Profile{
		"gpt-35-turbo":     {Deployment: "gpt-35-turbo", ContextWindow: 4096, TokenizerID: TokenizerCL100K},
		"gpt-35-turbo-16k": {Deployment: "gpt-35-turbo-16k", ContextWindow: 16384, TokenizerID: TokenizerCL100K},
		"gpt-4":            {Deployment: "gpt-4", ContextWindow: 8192, TokenizerID: TokenizerCL100K},
		"gpt-4-32k":        {Deployment: "gpt-4-32k", ContextWindow: 32768, TokenizerID: TokenizerCL100K},
		"gpt-4o":           {Deployment: "gpt-4o", ContextWindow: 128000, TokenizerID: TokenizerO200K},
		"gpt-4o-mini":      {Deployment: "gpt-4o-mini", ContextWindow: 128000, TokenizerID: TokenizerO200K},
	})
}

// Profile resolves a model name, failing closed on unknown models.
func (r *Registry) Profile(model string) (Profile, error) {
	p, ok := r.profiles[model]
	if !ok {
		return Profile{}, &models.Error{
			Category: models.CategoryInvalidRequest,
			Op:       "tokens.Registry.Profile",
			Message:  fmt.Sprintf("unknown model %q", model),
		}
	}
	return p, nil
}

// SetDeployment overrides the deployment handle for a known model.
func (r *Registry) SetDeployment(model, deployment string) {
	if p, ok := r.profiles[model]; ok && deployment != "" {
		p.Deployment = deployment
		r.profiles[model] = p
	}
}

// Estimate returns the approximate token count of text under the model's
// tokenizer family. Always >= 0; empty text is 0 tokens.
func (r *Registry) Estimate(text, model string) (int, error) {
	if _, err := r.Profile(model); err != nil {
		return 0, err
	}
	return estimateText(text), nil
}

// EstimateMessages returns the approximate token count of a serialized
// message sequence, including per-message overhead and reply priming.
func (r *Registry) EstimateMessages(messages []models.Turn, model string) (int, error) {
	if _, err := r.Profile(model); err != nil {
		return 0, err
	}
	total := replyPrimingTokens
	for _, m := range messages {
		total += perMessageOverhead
		total += estimateText(m.Content)
		total += estimateText(m.Role)
	}
	return total, nil
}

func estimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	// Round up: a one-character message still costs a token.
	return (len(text) + charsPerToken - 1) / charsPerToken
}
