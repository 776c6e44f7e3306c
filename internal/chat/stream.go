package chat

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/observability"
)

// forwardStream forwards completion fragments to out in arrival order
// while accumulating them. When the caller disconnects, forwarding stops
// but accumulation continues so the partial answer can still be
// persisted. The accumulated text is returned even alongside an error.
func forwardStream(ctx context.Context, fragments <-chan llm.Fragment, out chan<- Event) (string, error) {
	var acc strings.Builder
	forwarding := true
	for frag := range fragments {
		if frag.Err != nil {
			return acc.String(), frag.Err
		}
		if frag.Done {
			break
		}
		acc.WriteString(frag.Text)
		if !forwarding {
			continue
		}
		select {
		case out <- Event{Fragment: frag.Text}:
		case <-ctx.Done():
			forwarding = false
		}
	}
	return acc.String(), nil
}

// emit delivers one event unless the caller has gone away.
func emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// persistTurn records the completed turn. Persistence is best effort
// after the answer was delivered: failures are logged, never surfaced,
// and the write is detached from the request context so a disconnected
// caller does not abort it.
func persistTurn(ctx context.Context, led *ledger.Ledger, metrics *observability.Collector, logger *logrus.Logger, entry ledger.Entry) {
	start := time.Now()
	err := led.Record(context.WithoutCancel(ctx), entry)
	if metrics != nil {
		metrics.ObserveStage(observability.StagePersist, start, string(models.CategoryOf(err)))
	}
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"conversation_id": entry.ConversationID,
			"user":            entry.User,
		}).Error("Turn persistence failed, answer already delivered")
	}
}

// renderThoughts produces the operator-facing trace of a retrieval turn.
func renderThoughts(query string, messages []models.Turn) string {
	rendered := make([]string, 0, len(messages))
	for _, m := range messages {
		rendered = append(rendered, m.Role+": "+m.Content)
	}
	trace := strings.Join(rendered, "\n\n")
	return "Searched for:<br>" + query + "<br><br>Conversations:<br>" + strings.ReplaceAll(trace, "\n", "<br>")
}
