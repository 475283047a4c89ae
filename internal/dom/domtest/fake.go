// Package domtest provides an in-memory dom.Document for tests.
//
// Fixtures register the selectors each node should answer to instead of
// implementing CSS matching; a node also answers to its own tag name. All
// mutators are safe to call while a poller goroutine is reading the
// document, which is how the live page behaves.
package domtest

import (
	"slices"
	"sync"

	"github.com/umemo/agent/internal/dom"
)

// Doc is a fake dom.Document backed by a flat node list in document order.
type Doc struct {
	mu     sync.Mutex
	host   string
	nodes  []*Node
	active *Node
	alerts []string
}

// NewDoc creates an empty fake document for the given hostname.
func NewDoc(host string) *Doc {
	return &Doc{host: host}
}

// Node is a fake dom.Element. Exported fields configure the fixture;
// recorded operation fields are inspected through accessor methods.
type Node struct {
	doc *Doc

	TagName  string
	Attrs    map[string]string
	Content  string // rendered text
	Val      string // value property
	Hidden   bool   // zero rendered size
	Editable bool   // contenteditable
	Matches  []string

	ParentNode *Node
	Prev       *Node

	// InsertFails makes InsertText report command failure.
	InsertFails bool

	focused      bool
	selected     bool
	inserts      []string
	pastes       []string
	inputEvents  int
	changeEvents int
	busy         bool
}

// Add appends a node to the document and returns it.
func (d *Doc) Add(n *Node) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.doc = d
	d.nodes = append(d.nodes, n)
	return n
}

// Remove detaches a node; it stops matching queries and loses visibility.
func (d *Doc) Remove(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.nodes {
		if cur == n {
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			return
		}
	}
}

// SetActive marks the node holding input focus.
func (d *Doc) SetActive(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = n
}

// Hostname implements dom.Document.
func (d *Doc) Hostname() string { return d.host }

// Query implements dom.Document.
func (d *Doc) Query(selector string) dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.matches(selector) {
			return n
		}
	}
	return nil
}

// QueryAll implements dom.Document.
func (d *Doc) QueryAll(selector string) []dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.Element
	for _, n := range d.nodes {
		if n.matches(selector) {
			out = append(out, n)
		}
	}
	return out
}

// Active implements dom.Document.
func (d *Doc) Active() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	return d.active
}

// Alert implements dom.Document.
func (d *Doc) Alert(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, message)
}

// Alerts returns the alert messages raised so far.
func (d *Doc) Alerts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.alerts)
}

func (n *Node) matches(selector string) bool {
	return selector == n.TagName || slices.Contains(n.Matches, selector)
}

func (n *Node) attached() bool {
	if n.doc == nil {
		return false
	}
	return slices.Contains(n.doc.nodes, n)
}

// Tag implements dom.Element.
func (n *Node) Tag() string { return n.TagName }

// Attr implements dom.Element.
func (n *Node) Attr(name string) string {
	n.lock()
	defer n.unlock()
	return n.Attrs[name]
}

// Text implements dom.Element.
func (n *Node) Text() string {
	n.lock()
	defer n.unlock()
	return n.Content
}

// Value implements dom.Element.
func (n *Node) Value() string {
	n.lock()
	defer n.unlock()
	return n.Val
}

// Visible implements dom.Element: attached and with rendered size.
func (n *Node) Visible() bool {
	n.lock()
	defer n.unlock()
	return n.attached() && !n.Hidden
}

// ContentEditable implements dom.Element.
func (n *Node) ContentEditable() bool {
	n.lock()
	defer n.unlock()
	return n.Editable
}

// Parent implements dom.Element.
func (n *Node) Parent() dom.Element {
	n.lock()
	defer n.unlock()
	if n.ParentNode == nil {
		return nil
	}
	return n.ParentNode
}

// PrevSibling implements dom.Element.
func (n *Node) PrevSibling() dom.Element {
	n.lock()
	defer n.unlock()
	if n.Prev == nil {
		return nil
	}
	return n.Prev
}

// Focus implements dom.Element.
func (n *Node) Focus() {
	n.lock()
	defer n.unlock()
	n.focused = true
	if n.doc != nil {
		n.doc.active = n
	}
}

// SetValueNative implements dom.Element.
func (n *Node) SetValueNative(value string) {
	n.lock()
	defer n.unlock()
	n.Val = value
	n.inputEvents++
	n.changeEvents++
}

// SelectAll implements dom.Element.
func (n *Node) SelectAll() {
	n.lock()
	defer n.unlock()
	n.selected = true
}

// InsertText implements dom.Element. With an active select-all the text
// replaces the content, otherwise it appends, matching execCommand.
func (n *Node) InsertText(text string) bool {
	n.lock()
	defer n.unlock()
	if n.InsertFails {
		return false
	}
	n.inserts = append(n.inserts, text)
	n.applyText(text)
	n.inputEvents++
	return true
}

// Paste implements dom.Element.
func (n *Node) Paste(text string) {
	n.lock()
	defer n.unlock()
	n.pastes = append(n.pastes, text)
	n.applyText(text)
}

func (n *Node) applyText(text string) {
	if n.selected {
		n.selected = false
		if n.TagName == "textarea" || n.TagName == "input" {
			n.Val = text
		} else {
			n.Content = text
		}
		return
	}
	if n.TagName == "textarea" || n.TagName == "input" {
		n.Val += text
	} else {
		n.Content += text
	}
}

// SetContent replaces the rendered text, as a streaming page does while a
// reader polls.
func (n *Node) SetContent(text string) {
	n.lock()
	defer n.unlock()
	n.Content = text
}

// DispatchInput implements dom.Element.
func (n *Node) DispatchInput() {
	n.lock()
	defer n.unlock()
	n.inputEvents++
}

// SetBusy implements dom.Element.
func (n *Node) SetBusy(busy bool) {
	n.lock()
	defer n.unlock()
	n.busy = busy
}

// Focused reports whether Focus was called.
func (n *Node) Focused() bool {
	n.lock()
	defer n.unlock()
	return n.focused
}

// Busy reports the current busy affordance state.
func (n *Node) Busy() bool {
	n.lock()
	defer n.unlock()
	return n.busy
}

// Inserts returns the texts delivered through InsertText.
func (n *Node) Inserts() []string {
	n.lock()
	defer n.unlock()
	return slices.Clone(n.inserts)
}

// Pastes returns the texts delivered through synthesized paste events.
func (n *Node) Pastes() []string {
	n.lock()
	defer n.unlock()
	return slices.Clone(n.pastes)
}

// InputEvents returns the number of "input" events dispatched.
func (n *Node) InputEvents() int {
	n.lock()
	defer n.unlock()
	return n.inputEvents
}

// ChangeEvents returns the number of "change" events dispatched.
func (n *Node) ChangeEvents() int {
	n.lock()
	defer n.unlock()
	return n.changeEvents
}

// CurrentText mirrors dom.InputText for fixture assertions.
func (n *Node) CurrentText() string {
	n.lock()
	defer n.unlock()
	if n.TagName == "textarea" || n.TagName == "input" {
		return n.Val
	}
	return n.Content
}

func (n *Node) lock() {
	if n.doc != nil {
		n.doc.mu.Lock()
	}
}

func (n *Node) unlock() {
	if n.doc != nil {
		n.doc.mu.Unlock()
	}
}
