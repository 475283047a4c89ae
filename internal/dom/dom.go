// Package dom abstracts the host page's document for the memory pipeline.
//
// The page is externally owned and mutates underneath us at any time, so
// everything here is snapshot-oriented: a query result is valid only at the
// moment it was read and callers must re-query rather than hold on to
// element handles across polling ticks.
package dom

import (
	"strings"
)

// Document is a read/write view of one live page.
type Document interface {
	// Hostname returns the page's location hostname.
	Hostname() string

	// Query returns the first element matching the CSS selector, or nil.
	Query(selector string) Element

	// QueryAll returns all elements matching the CSS selector.
	QueryAll(selector string) []Element

	// Active returns the element that currently has focus, or nil.
	Active() Element

	// Alert shows a user-visible alert on the page.
	Alert(message string)
}

// Element is a handle to a single DOM node. Handles are snapshots: a handle
// may go stale whenever the host page re-renders.
type Element interface {
	// Tag returns the lowercase tag name ("textarea", "div", ...).
	Tag() string

	// Attr returns an attribute value, or "" when absent.
	Attr(name string) string

	// Text returns the rendered text of the element (innerText where
	// available, falling back to raw text content).
	Text() string

	// Value returns the value property for value-bearing inputs.
	Value() string

	// Visible reports whether the element has non-zero rendered size or
	// client rectangles. Nodes that exist but render nothing are not
	// visible.
	Visible() bool

	// ContentEditable reports whether the element is an editable rich
	// region.
	ContentEditable() bool

	// Parent returns the parent element, or nil at the document root.
	Parent() Element

	// PrevSibling returns the preceding sibling element, or nil.
	PrevSibling() Element

	// Focus gives the element input focus.
	Focus()

	// SetValueNative overwrites the value property through the platform's
	// native setter, bypassing page-level property overrides, then
	// dispatches "input" and "change" events.
	SetValueNative(value string)

	// SelectAll selects the element's entire content.
	SelectAll()

	// InsertText replaces the current selection via the platform
	// text-insertion command. Returns false when the command is rejected.
	InsertText(text string) bool

	// Paste dispatches a synthesized clipboard paste event carrying text.
	Paste(text string)

	// DispatchInput dispatches a bubbling "input" event.
	DispatchInput()

	// SetBusy toggles the visual busy affordance (dimmed while a remote
	// round trip is in flight).
	SetBusy(busy bool)
}

// FirstMatch resolves an ordered fallback selector list against doc and
// returns the first element found, trying each selector in order.
func FirstMatch(doc Document, selectors []string) Element {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		if el := doc.Query(sel); el != nil {
			return el
		}
	}
	return nil
}

// FirstMatchAll resolves an ordered fallback selector list and returns the
// matches of the first selector that yields any, per-tick semantics.
func FirstMatchAll(doc Document, selectors []string) []Element {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		if found := doc.QueryAll(sel); len(found) > 0 {
			return found
		}
	}
	return nil
}

// ResolveEditable walks up from el looking for the true editable target:
// a textarea, a text-bearing input, a contenteditable region, or an ARIA
// textbox. Returns nil when nothing editable encloses el.
func ResolveEditable(el Element) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if IsEditable(cur) {
			return cur
		}
	}
	return nil
}

// IsEditable reports whether a single element accepts user text input.
func IsEditable(el Element) bool {
	switch el.Tag() {
	case "textarea":
		return true
	case "input":
		t := el.Attr("type")
		return t != "password" && t != "hidden"
	}
	if el.ContentEditable() {
		return true
	}
	return el.Attr("role") == "textbox"
}

// ValueBearing reports whether the element carries its content in the value
// property rather than child text nodes.
func ValueBearing(el Element) bool {
	tag := el.Tag()
	return tag == "textarea" || tag == "input"
}

// InputText reads the element's current content regardless of its kind.
func InputText(el Element) string {
	if ValueBearing(el) {
		return el.Value()
	}
	if text := el.Text(); text != "" {
		return text
	}
	return el.Value()
}

// CleanText strips zero-width format characters (which several chat
// frontends leave inside rendered message text) and surrounding whitespace.
func CleanText(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}
