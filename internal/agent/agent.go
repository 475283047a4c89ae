// Package agent orchestrates the per-page pipeline: classify a submit
// keystroke, then fan out to injection, command handling, or turn polling.
package agent

import (
	"context"
	"log/slog"

	"github.com/umemo/agent/internal/classify"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/inject"
	"github.com/umemo/agent/internal/memoryapi"
	"github.com/umemo/agent/internal/poll"
	"github.com/umemo/agent/internal/session"
)

// Deleter removes a stored memory by description. Implemented by
// memoryapi.Client.
type Deleter interface {
	Delete(ctx context.Context, token, projectID, targetText string) (*memoryapi.DeleteResult, error)
}

// Notifier receives pipeline events for the UI event stream. Implemented
// by control.EventHub; nil disables notifications.
type Notifier interface {
	Broadcast(event string, payload any)
}

// Agent wires one page's keystroke stream into the memory pipeline.
type Agent struct {
	classifier *classify.Classifier
	engine     *inject.Engine
	poller     *poll.Poller
	deleter    Deleter
	session    *session.Manager
	events     Notifier
	logger     *slog.Logger
}

// New creates an agent over an already-wired pipeline.
func New(classifier *classify.Classifier, engine *inject.Engine, poller *poll.Poller, deleter Deleter, sess *session.Manager, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		classifier: classifier,
		engine:     engine,
		poller:     poller,
		deleter:    deleter,
		session:    sess,
		logger:     logger,
	}
}

// SetNotifier attaches the UI event stream. Call before the first key event.
func (a *Agent) SetNotifier(n Notifier) { a.events = n }

func (a *Agent) notify(event string, payload any) {
	if a.events != nil {
		a.events.Broadcast(event, payload)
	}
}

// HandleKey processes one keyboard event and reports whether the native
// keystroke may reach the page. False means the submit was intercepted and
// the follow-up action runs asynchronously.
func (a *Agent) HandleKey(ctx context.Context, doc dom.Document, ev classify.KeyEvent) bool {
	decision := a.classifier.Classify(doc, ev)

	switch decision.Verdict {
	case classify.VerdictApprove, classify.VerdictRepeat:
		a.logger.Info("Submit approved, watching for completion",
			"verdict", decision.Verdict,
			"host", doc.Hostname(),
		)
		a.poller.Start(ctx, doc, decision.Descriptor)
		a.notify("poll_started", map[string]string{"host": doc.Hostname()})
		return true

	case classify.VerdictPassthrough:
		a.logger.Debug("No active session, passing submit through")
		return true

	case classify.VerdictCommand:
		go a.handleCommand(ctx, doc, decision.Target, decision.Text)
		return false

	case classify.VerdictInject:
		go func() {
			res := a.engine.Inject(ctx, decision.Target, decision.Descriptor, decision.Text)
			a.notify("injection", map[string]any{
				"host":     doc.Hostname(),
				"injected": res == inject.ResultInjected,
			})
		}()
		return false
	}

	return true
}

// handleCommand runs a delete-command against the backend and surfaces the
// outcome through a page alert, mirroring how the result reads in the chat
// product itself.
func (a *Agent) handleCommand(ctx context.Context, doc dom.Document, target dom.Element, text string) {
	targetText := classify.CommandTarget(text)
	snap := a.session.Snapshot()

	res, err := a.deleter.Delete(ctx, snap.AuthToken, snap.ProjectID, targetText)
	if err != nil {
		a.logger.Warn("Delete command failed", "error", err)
		doc.Alert("❌ Server Error")
		return
	}
	if !res.Success {
		doc.Alert("⚠️ Error: " + res.Message)
		return
	}

	clearComposer(target)
	doc.Alert("✅ Deleted: \"" + res.DeletedText + "\"")
	a.notify("memory_deleted", map[string]string{"deleted_text": res.DeletedText})
	a.logger.Info("Memory deleted", "deleted_len", len(res.DeletedText))
}

// clearComposer empties the composer after a consumed command so the raw
// command text never reaches the chat product.
func clearComposer(target dom.Element) {
	target.Focus()
	if dom.ValueBearing(target) {
		target.SetValueNative("")
		return
	}
	target.SelectAll()
	if !target.InsertText("") {
		target.Paste("")
	}
	target.DispatchInput()
}
