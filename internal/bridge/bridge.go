// Package bridge connects the live browser to the keystroke pipeline.
//
// The DevTools protocol offers no synchronous veto over a keystroke, so
// submits are suppressed in the page and replayed from here: a hook
// installed before any page script runs cancels candidate Enters on
// supported hosts and forwards them over a binding. When the pipeline
// allows the submit, the bridge arms a one-shot pass flag and redelivers
// the key through the protocol's input domain, which the hook lets through
// untouched. Pages on unknown hosts are never hooked, so their keystrokes
// never depend on this process being alive.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/classify"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/dom/rodom"
)

const keyBinding = "__umemoKey"

// hookScript renders the in-page hook for the given site keys. It runs
// before any page script, cancels candidate submits at the top of the
// capture phase, and forwards them over the binding. The hostname guard
// runs per document: a hooked page can navigate anywhere, and documents
// on unsupported hosts must stay untouched. The pass flag is consumed on
// first use so each approval releases exactly one key.
func hookScript(siteKeys []string) string {
	keys, _ := json.Marshal(siteKeys)
	return `(() => {
	const sites = ` + string(keys) + `;
	if (!sites.some(s => location.hostname.includes(s))) return;
	if (window.__umemoHooked) return;
	window.__umemoHooked = true;
	window.addEventListener('keydown', ev => {
		if (window.__umemoPass) {
			window.__umemoPass = false;
			return;
		}
		if (ev.key !== 'Enter' || ev.shiftKey || !ev.isTrusted) return;
		ev.preventDefault();
		ev.stopImmediatePropagation();
		window.` + keyBinding + `({ key: ev.key, shift: ev.shiftKey, trusted: ev.isTrusted });
	}, true);
})()`
}

// rescanInterval bounds how long a freshly opened tab goes unhooked.
const rescanInterval = 2 * time.Second

// KeyHandler decides whether a suppressed keystroke may be redelivered.
// Implemented by agent.Agent.
type KeyHandler interface {
	HandleKey(ctx context.Context, doc dom.Document, ev classify.KeyEvent) bool
}

// Bridge attaches the keystroke hook to every supported page in the
// browser. The registry decides which hosts are supported.
type Bridge struct {
	browser  *rod.Browser
	handler  KeyHandler
	registry *adapter.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	attached map[proto.TargetTargetID]bool
}

// New creates a bridge over a connected browser.
func New(browser *rod.Browser, handler KeyHandler, registry *adapter.Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		browser:  browser,
		handler:  handler,
		registry: registry,
		logger:   logger,
		attached: make(map[proto.TargetTargetID]bool),
	}
}

// supported reports whether hostname resolves to an adapter.
func (b *Bridge) supported(hostname string) bool {
	return b.registry.Resolve(hostname) != nil
}

// Run attaches to all current pages and keeps scanning for new ones until
// ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.scan(ctx)

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bridge shutting down", "reason", ctx.Err())
			return
		case <-ticker.C:
			b.scan(ctx)
		}
	}
}

func (b *Bridge) scan(ctx context.Context) {
	pages, err := b.browser.Pages()
	if err != nil {
		b.logger.Warn("Page enumeration failed", "error", err)
		return
	}
	for _, page := range pages {
		b.attach(ctx, page)
	}
}

func (b *Bridge) attach(ctx context.Context, page *rod.Page) {
	id := page.TargetID

	b.mu.Lock()
	done := b.attached[id]
	b.mu.Unlock()
	if done {
		return
	}

	doc := rodom.NewDocument(page, b.logger)

	// Pages on unknown hosts stay unhooked; the rescan re-checks them in
	// case they navigate to a supported site later.
	if !b.supported(doc.Hostname()) {
		return
	}

	b.mu.Lock()
	b.attached[id] = true
	b.mu.Unlock()

	_, err := page.Expose(keyBinding, func(payload gson.JSON) (interface{}, error) {
		ev := classify.KeyEvent{
			Key:     payload.Get("key").Str(),
			Shift:   payload.Get("shift").Bool(),
			Trusted: payload.Get("trusted").Bool(),
		}
		if b.handler.HandleKey(ctx, doc, ev) {
			b.replay(page)
		}
		return nil, nil
	})
	if err != nil {
		b.logger.Warn("Keystroke binding failed", "target_id", id, "error", err)
		b.forget(id)
		return
	}

	hook := hookScript(b.registry.Sites())
	if _, err := page.EvalOnNewDocument(hook); err != nil {
		b.logger.Warn("Hook install failed", "target_id", id, "error", err)
		b.forget(id)
		return
	}
	// The current document predates the hook; install there too.
	if _, err := page.Eval(hook); err != nil {
		b.logger.Debug("Hook install on live document failed", "target_id", id, "error", err)
	}

	b.logger.Info("Page attached", "target_id", id)
}

func (b *Bridge) forget(id proto.TargetTargetID) {
	b.mu.Lock()
	delete(b.attached, id)
	b.mu.Unlock()
}

// replay arms the pass flag and redelivers one Enter through the input
// domain so the page receives a trusted keystroke.
func (b *Bridge) replay(page *rod.Page) {
	if _, err := page.Eval("() => { window.__umemoPass = true; }"); err != nil {
		b.logger.Warn("Pass flag arm failed", "error", err)
		return
	}

	down := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeKeyDown,
		Key:                   "Enter",
		Code:                  "Enter",
		Text:                  "\r",
		WindowsVirtualKeyCode: 13,
		NativeVirtualKeyCode:  13,
	}
	if err := down.Call(page); err != nil {
		b.logger.Warn("Key replay failed", "error", err)
		return
	}
	up := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeKeyUp,
		Key:                   "Enter",
		Code:                  "Enter",
		WindowsVirtualKeyCode: 13,
		NativeVirtualKeyCode:  13,
	}
	if err := up.Call(page); err != nil {
		b.logger.Warn("Key replay failed", "error", err)
	}
}
