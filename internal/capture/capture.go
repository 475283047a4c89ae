// Package capture lifts the finished user/assistant pair off the page and
// forwards it to the remote store.
package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/session"
)

const (
	// maxAttempts bounds the empty-text retry loop. The DOM node often
	// exists a tick before its text is populated.
	maxAttempts = 3

	// bannerScanLimit caps how large a div may be to count as the
	// injected user message during the loose banner scan.
	bannerScanLimit = 10000

	// ancestorWalkLimit bounds the last-resort sibling search upward
	// from the assistant message.
	ancestorWalkLimit = 4
)

// Storer persists a captured turn. Implemented by memoryapi.Client.
type Storer interface {
	Store(ctx context.Context, token, projectID, text string) error
}

// Extractor reads the last completed turn from a document.
type Extractor struct {
	client     Storer
	session    *session.Manager
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewExtractor creates an extractor. retryDelay separates empty-text
// retries.
func NewExtractor(client Storer, sess *session.Manager, retryDelay time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:     client,
		session:    sess,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Capture extracts the last user/assistant pair and issues one store call.
// Transient empty reads retry up to maxAttempts with a fixed delay, then
// abandon silently. The store call is fire-and-forget: failure is logged
// and never propagates. Blocks between retries; run it off the hot path.
func (x *Extractor) Capture(ctx context.Context, doc dom.Document, desc *adapter.Descriptor) {
	snap := x.session.Snapshot()
	if !snap.Ready() {
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		users, assistants := x.messages(doc, desc)
		if len(users) == 0 || len(assistants) == 0 {
			x.logger.Debug("Capture found no message elements", "users", len(users), "assistants", len(assistants))
			return
		}

		turn := domain.CapturedTurn{
			UserText:      dom.CleanText(users[len(users)-1].Text()),
			AssistantText: dom.CleanText(assistants[len(assistants)-1].Text()),
		}

		if turn.UserText != "" && turn.AssistantText != "" {
			x.store(ctx, snap, turn)
			return
		}

		if attempt < maxAttempts {
			x.logger.Debug("Empty text read, retrying capture",
				"attempt", attempt,
				"delay", x.retryDelay,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(x.retryDelay):
			}
			continue
		}

		x.logger.Warn("Capture abandoned, text still empty", "attempts", maxAttempts)
	}
}

func (x *Extractor) store(ctx context.Context, snap session.Snapshot, turn domain.CapturedTurn) {
	if err := x.client.Store(ctx, snap.AuthToken, snap.ProjectID, turn.StoreText()); err != nil {
		x.logger.Warn("Store turn failed", "error", err)
		return
	}
	x.logger.Info("Turn captured",
		"user_len", len(turn.UserText),
		"assistant_len", len(turn.AssistantText),
	)
}

// messages resolves the user and assistant message lists via the
// descriptor's fallback selectors, applying the loose-capture heuristics
// for sites whose structure is unstable.
func (x *Extractor) messages(doc dom.Document, desc *adapter.Descriptor) (users, assistants []dom.Element) {
	users = dom.FirstMatchAll(doc, desc.UserMsg)
	assistants = dom.FirstMatchAll(doc, desc.AssistantMsg)

	if !desc.LooseCapture {
		return users, assistants
	}

	if len(assistants) == 0 && desc.AssistantRecovery != "" {
		assistants = doc.QueryAll(desc.AssistantRecovery)
	}

	if len(users) == 0 && len(assistants) > 0 {
		users = findInjectedUserMessage(doc, assistants[len(assistants)-1])
	}

	return users, assistants
}

// findInjectedUserMessage applies the ordered loose heuristics: first scan
// divs for the loop-guard banner under a length bound, then walk up from
// the assistant message looking for a preceding sibling. The sibling walk
// is a best-effort guess, kept strictly as the last resort.
func findInjectedUserMessage(doc dom.Document, lastAssistant dom.Element) []dom.Element {
	for _, div := range doc.QueryAll("div") {
		text := div.Text()
		if len(text) < bannerScanLimit && domain.MachineInjected(text) {
			return []dom.Element{div}
		}
	}

	cur := lastAssistant
	for i := 0; i < ancestorWalkLimit && cur != nil; i++ {
		if sibling := cur.PrevSibling(); sibling != nil {
			return []dom.Element{sibling}
		}
		cur = cur.Parent()
	}
	return nil
}
