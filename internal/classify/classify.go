// Package classify decides what a submit keystroke means before the host
// page is allowed to see it.
package classify

import (
	"strings"
	"sync"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/session"
)

// minInputLength filters accidental submits; anything shorter is noise.
const minInputLength = 2

// commandPrefixes route to the delete-command handler.
var commandPrefixes = []string{"/delete", "/unut"}

// Verdict is the classified intent of one submit keystroke.
type Verdict int

const (
	// VerdictIgnore: not a candidate event (untrusted, shifted, no
	// adapter, no editable target, or too short). Let the page be.
	VerdictIgnore Verdict = iota

	// VerdictApprove: the user is submitting an already-injected prompt.
	// Allow the native submit and start polling.
	VerdictApprove

	// VerdictRepeat: same text a previous call found no memories for.
	// Allow the native submit and start polling.
	VerdictRepeat

	// VerdictPassthrough: credentials or project missing; the feature is
	// disabled for this event. Allow the native submit untouched.
	VerdictPassthrough

	// VerdictCommand: a delete-command. Suppress the native submit and
	// run the command handler.
	VerdictCommand

	// VerdictInject: a fresh query. Suppress the native submit and run
	// the injection engine.
	VerdictInject
)

// Suppress reports whether the native submit must be prevented.
func (v Verdict) Suppress() bool {
	return v == VerdictCommand || v == VerdictInject
}

// StartsPoll reports whether a poll session follows this verdict.
func (v Verdict) StartsPoll() bool {
	return v == VerdictApprove || v == VerdictRepeat
}

// KeyEvent is the subset of a keyboard event the classifier needs.
type KeyEvent struct {
	Key     string
	Shift   bool
	Trusted bool
}

// Decision is the classification outcome with the resolved context the
// follow-up actions need.
type Decision struct {
	Verdict    Verdict
	Text       string
	Target     dom.Element
	Descriptor *adapter.Descriptor
}

// Classifier applies the intent rules for submit keystrokes. It remembers
// the last query that retrieved zero memories so an identical resubmission
// passes through natively instead of being blocked forever.
type Classifier struct {
	registry *adapter.Registry
	session  *session.Manager

	mu       sync.Mutex
	lastMiss string
}

// New creates a classifier bound to the adapter registry and session state.
func New(registry *adapter.Registry, sess *session.Manager) *Classifier {
	return &Classifier{registry: registry, session: sess}
}

// Classify maps one keystroke to a verdict. The rule order is load-bearing:
// loop-guard before repeat, repeat before the credential check, so an
// approved injected prompt is never re-intercepted.
func (c *Classifier) Classify(doc dom.Document, ev KeyEvent) Decision {
	if !ev.Trusted || ev.Key != "Enter" || ev.Shift {
		return Decision{Verdict: VerdictIgnore}
	}

	desc := c.registry.Resolve(doc.Hostname())
	if desc == nil {
		return Decision{Verdict: VerdictIgnore}
	}

	target := dom.ResolveEditable(doc.Active())
	if target == nil {
		return Decision{Verdict: VerdictIgnore}
	}

	text := strings.TrimSpace(dom.InputText(target))
	if len(text) < minInputLength {
		return Decision{Verdict: VerdictIgnore}
	}

	decision := Decision{Text: text, Target: target, Descriptor: desc}

	if domain.MachineInjected(text) {
		c.ClearMiss()
		decision.Verdict = VerdictApprove
		return decision
	}

	c.mu.Lock()
	repeat := c.lastMiss != "" && text == c.lastMiss
	c.mu.Unlock()
	if repeat {
		decision.Verdict = VerdictRepeat
		return decision
	}

	if !c.session.Snapshot().Ready() {
		decision.Verdict = VerdictPassthrough
		return decision
	}

	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			decision.Verdict = VerdictCommand
			return decision
		}
	}

	decision.Verdict = VerdictInject
	return decision
}

// CommandTarget extracts the memory description following a delete-command
// prefix. Empty when text carries no prefix or names nothing.
func CommandTarget(text string) string {
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return ""
}

// RememberMiss records a query that retrieved no memories, so the repeat
// rule lets the next identical submission through.
func (c *Classifier) RememberMiss(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMiss = text
}

// ClearMiss forgets the remembered no-match query.
func (c *Classifier) ClearMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMiss = ""
}
