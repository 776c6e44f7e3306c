// Package prompt assembles context-window-aware message sequences and
// computes the generation budget left after the prompt is accounted for.
package prompt

import (
	"fmt"

	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/tokens"
)

// MinGenerationTokens is the floor of the generation budget. Generation is
// always permitted at least this minimal reply, configurable in principle
// but fixed here to the smallest useful value.
const MinGenerationTokens = 1

// budgetTolerance is how far past the window the estimated prompt may run
// before the turn is rejected instead of floored. It absorbs the slack of
// the character-based estimator.
const budgetTolerance = 32

// Builder assembles ordered message sequences that fit a model's context
// window, trimming oldest history pairs first.
type Builder struct {
	registry *tokens.Registry
}

// NewBuilder creates a prompt builder over the given profile registry.
func NewBuilder(registry *tokens.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build returns system + fewShots + history (oldest first) + the current
// user turn, trimmed to the model's context window. The system message and
// the current turn are the irreducible minimum and are never dropped; when
// the sequence exceeds the window the oldest non-system turn pair goes
// first, re-checking until it fits.
func (b *Builder) Build(systemPrompt string, fewShots, history []models.Turn, currentUserText, model string) ([]models.Turn, error) {
	profile, err := b.registry.Profile(model)
	if err != nil {
		return nil, err
	}

	kept := append([]models.Turn{}, history...)
	for {
		messages := assemble(systemPrompt, fewShots, kept, currentUserText)
		estimated, err := b.registry.EstimateMessages(messages, model)
		if err != nil {
			return nil, err
		}
		if estimated <= profile.ContextWindow || len(kept) == 0 {
			return messages, nil
		}
		// Drop the oldest pair. A dangling single turn at the head counts
		// as a pair of one.
		if len(kept) >= 2 && kept[0].Role != kept[1].Role {
			kept = kept[2:]
		} else {
			kept = kept[1:]
		}
	}
}

func assemble(systemPrompt string, fewShots, history []models.Turn, currentUserText string) []models.Turn {
	messages := make([]models.Turn, 0, len(fewShots)+len(history)+2)
	messages = append(messages, models.Turn{Role: models.RoleSystem, Content: systemPrompt})
	messages = append(messages, fewShots...)
	messages = append(messages, history...)
	messages = append(messages, models.Turn{Role: models.RoleUser, Content: currentUserText})
	return messages
}

// MaxGenerationTokens computes the budget left for generation: the model's
// context window minus the estimated prompt, floored at
// MinGenerationTokens. A deficit beyond budgetTolerance is a
// BudgetExhausted failure signaling the caller to trim further or reject
// the turn.
func (b *Builder) MaxGenerationTokens(messages []models.Turn, model string) (int, error) {
	profile, err := b.registry.Profile(model)
	if err != nil {
		return 0, err
	}
	used, err := b.registry.EstimateMessages(messages, model)
	if err != nil {
		return 0, err
	}

	remaining := profile.ContextWindow - used
	if remaining >= MinGenerationTokens {
		return remaining, nil
	}
	if remaining >= -budgetTolerance {
		return MinGenerationTokens, nil
	}
	return 0, &models.Error{
		Category: models.CategoryBudgetExhausted,
		Op:       "prompt.Builder.MaxGenerationTokens",
		Message: fmt.Sprintf("prompt estimated at %d tokens exceeds %d-token window for %s",
			used, profile.ContextWindow, model),
	}
}
