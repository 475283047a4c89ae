// Package inject rewrites a chat composer with a memory-enriched prompt.
//
// Writing into a composer must look like a real user paste or keystroke to
// the host page's framework, not just a DOM mutation, so each element kind
// gets its own write strategy.
package inject

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/memoryapi"
	"github.com/umemo/agent/internal/session"
)

// twoPhasePlaceholder forces the framework to acknowledge a non-empty
// state before the real payload lands on editors that ignore large
// same-tick replacements.
const twoPhasePlaceholder = "."

// Retriever fetches memories for a query. Implemented by memoryapi.Client.
type Retriever interface {
	Retrieve(ctx context.Context, token, projectID, query string) ([]domain.Memory, error)
}

// MissRecorder remembers queries that retrieved nothing so the classifier
// lets an identical resubmission through. Implemented by the classifier.
type MissRecorder interface {
	RememberMiss(text string)
	ClearMiss()
}

// Result is the outcome of one injection attempt.
type Result int

const (
	// ResultAborted: the attempt failed (unauthorized, network, parse)
	// and degraded silently; the composer is untouched.
	ResultAborted Result = iota

	// ResultNoMatch: no stored memories matched; the composer is
	// untouched and the query was remembered for the repeat rule.
	ResultNoMatch

	// ResultInjected: the enriched prompt was written into the composer
	// and now awaits the user's approving submit.
	ResultInjected
)

// Engine performs retrieve-and-rewrite against a composer element.
type Engine struct {
	client  Retriever
	session *session.Manager
	misses  MissRecorder
	settle  time.Duration
	logger  *slog.Logger
}

// NewEngine creates an injection engine. settle is the delay between the
// two phases of the placeholder-swap strategy.
func NewEngine(client Retriever, sess *session.Manager, misses MissRecorder, settle time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  client,
		session: sess,
		misses:  misses,
		settle:  settle,
		logger:  logger,
	}
}

// Inject retrieves memories for query and, on a hit, rewrites target with
// the enriched prompt. Failures degrade silently: the busy affordance is
// restored and the host page keeps working. Overlapping calls are not
// deduplicated; the last response to arrive wins the composer write.
func (e *Engine) Inject(ctx context.Context, target dom.Element, desc *adapter.Descriptor, query string) Result {
	snap := e.session.Snapshot()
	if !snap.Ready() {
		return ResultAborted
	}

	target.SetBusy(true)
	defer target.SetBusy(false)

	memories, err := e.client.Retrieve(ctx, snap.AuthToken, snap.ProjectID, query)
	if err != nil {
		if errors.Is(err, memoryapi.ErrUnauthorized) {
			e.logger.Debug("Retrieve unauthorized, aborting injection")
		} else {
			e.logger.Warn("Retrieve failed, aborting injection", "error", err)
		}
		return ResultAborted
	}

	snippets := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.RawText != "" {
			snippets = append(snippets, m.RawText)
		}
	}
	if len(snippets) == 0 {
		e.misses.RememberMiss(query)
		e.logger.Info("No memories matched, letting the next identical submit through", "query_len", len(query))
		return ResultNoMatch
	}

	prompt := domain.BuildInjectedPrompt(snippets, query)
	e.write(target, desc, prompt)
	e.misses.ClearMiss()

	e.logger.Info("Memory injected, awaiting user approval",
		"snippets", len(snippets),
		"prompt_len", len(prompt),
	)
	return ResultInjected
}

func (e *Engine) write(target dom.Element, desc *adapter.Descriptor, prompt string) {
	target.Focus()

	switch {
	case dom.ValueBearing(target):
		target.SetValueNative(prompt)
	case desc != nil && desc.TwoPhasePaste:
		e.writeTwoPhase(target, prompt)
	default:
		writeRich(target, prompt)
	}
}

// writeRich replaces a contenteditable region's content through the
// text-insertion command, falling back to a synthesized paste when the
// command is rejected.
func writeRich(target dom.Element, prompt string) {
	target.SelectAll()
	if !target.InsertText(prompt) {
		target.Paste(prompt)
	}
	target.DispatchInput()
}

// writeTwoPhase first swaps the content for a placeholder so the editor
// commits a non-empty state, then delivers the payload via paste after a
// short delay. Same-tick full replacements are ignored by these editors.
func (e *Engine) writeTwoPhase(target dom.Element, prompt string) {
	target.SelectAll()
	if !target.InsertText(twoPhasePlaceholder) {
		target.Paste(twoPhasePlaceholder)
		target.DispatchInput()
	}

	time.AfterFunc(e.settle, func() {
		target.SelectAll()
		target.Paste(prompt)
		target.DispatchInput()
	})
}
