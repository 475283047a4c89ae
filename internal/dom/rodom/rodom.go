// Package rodom implements the dom interfaces over a live Chrome page
// driven through the DevTools protocol.
//
// Every method is a fresh protocol round trip; handles are never cached
// because the host pages rebuild their DOM continuously. Protocol errors
// degrade to zero values: a vanished element reads as empty, an invisible
// one as not visible, and the pipeline's retry loops absorb the rest.
package rodom

import (
	"log/slog"
	"net/url"

	"github.com/go-rod/rod"

	"github.com/umemo/agent/internal/dom"
)

// Document wraps a rod page.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewDocument wraps page as a dom.Document.
func NewDocument(page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page, logger: logger}
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// Hostname implements dom.Document.
func (d *Document) Hostname() string {
	info, err := d.page.Info()
	if err != nil {
		d.logger.Debug("Page info failed", "error", err)
		return ""
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Query implements dom.Document. It does not wait for the element.
func (d *Document) Query(selector string) dom.Element {
	has, el, err := d.page.Has(selector)
	if err != nil || !has {
		return nil
	}
	return &Element{el: el, logger: d.logger}
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) []dom.Element {
	els, err := d.page.Elements(selector)
	if err != nil {
		d.logger.Debug("QueryAll failed", "selector", selector, "error", err)
		return nil
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el, logger: d.logger})
	}
	return out
}

// activeElementJS resolves the focused element. document.activeElement
// stops at a shadow host, so the walk descends through open shadow roots
// until it reaches the element that actually holds focus.
const activeElementJS = `() => {
	let el = document.activeElement;
	while (el && el.shadowRoot && el.shadowRoot.activeElement) {
		el = el.shadowRoot.activeElement;
	}
	return el;
}`

// Active implements dom.Document.
func (d *Document) Active() dom.Element {
	el, err := d.page.ElementByJS(rod.Eval(activeElementJS))
	if err != nil {
		return nil
	}
	return &Element{el: el, logger: d.logger}
}

// Alert implements dom.Document. The dialog blocks the page's JS event
// loop until dismissed, so the eval runs detached.
func (d *Document) Alert(message string) {
	go func() {
		if _, err := d.page.Eval("msg => window.alert(msg)", message); err != nil {
			d.logger.Debug("Alert failed", "error", err)
		}
	}()
}

// Element wraps a rod element handle.
type Element struct {
	el     *rod.Element
	logger *slog.Logger
}

// Tag implements dom.Element.
func (e *Element) Tag() string {
	res, err := e.el.Eval("() => this.tagName.toLowerCase()")
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) string {
	val, err := e.el.Attribute(name)
	if err != nil || val == nil {
		return ""
	}
	return *val
}

// Text implements dom.Element.
func (e *Element) Text() string {
	text, err := e.el.Text()
	if err != nil {
		return ""
	}
	return text
}

// Value implements dom.Element.
func (e *Element) Value() string {
	res, err := e.el.Eval("() => this.value ?? ''")
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Visible implements dom.Element.
func (e *Element) Visible() bool {
	visible, err := e.el.Visible()
	if err != nil {
		return false
	}
	return visible
}

// ContentEditable implements dom.Element.
func (e *Element) ContentEditable() bool {
	res, err := e.el.Eval("() => this.isContentEditable === true")
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// Parent implements dom.Element.
func (e *Element) Parent() dom.Element {
	parent, err := e.el.Parent()
	if err != nil {
		return nil
	}
	return &Element{el: parent, logger: e.logger}
}

// PrevSibling implements dom.Element.
func (e *Element) PrevSibling() dom.Element {
	prev, err := e.el.Previous()
	if err != nil {
		return nil
	}
	return &Element{el: prev, logger: e.logger}
}

// Focus implements dom.Element.
func (e *Element) Focus() {
	if err := e.el.Focus(); err != nil {
		e.logger.Debug("Focus failed", "error", err)
	}
}

// SetValueNative implements dom.Element. It writes through the prototype's
// value setter so framework-patched accessors never see a stale value, then
// dispatches the events a real keystroke would.
func (e *Element) SetValueNative(value string) {
	_, err := e.el.Eval(`value => {
		const proto = this.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
		setter.call(this, value);
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	if err != nil {
		e.logger.Warn("Native value write failed", "error", err)
	}
}

// SelectAll implements dom.Element.
func (e *Element) SelectAll() {
	_, err := e.el.Eval(`() => {
		this.focus();
		document.execCommand('selectAll', false, null);
	}`)
	if err != nil {
		e.logger.Debug("Select-all failed", "error", err)
	}
}

// InsertText implements dom.Element. Returns whether the editing command
// was accepted; editors that reject it get the paste fallback.
func (e *Element) InsertText(text string) bool {
	res, err := e.el.Eval("text => document.execCommand('insertText', false, text)", text)
	if err != nil {
		e.logger.Debug("Insert-text failed", "error", err)
		return false
	}
	return res.Value.Bool()
}

// Paste implements dom.Element by synthesizing a clipboard paste event.
func (e *Element) Paste(text string) {
	_, err := e.el.Eval(`text => {
		const dt = new DataTransfer();
		dt.setData('text/plain', text);
		this.dispatchEvent(new ClipboardEvent('paste', {
			clipboardData: dt,
			bubbles: true,
			cancelable: true,
		}));
	}`, text)
	if err != nil {
		e.logger.Warn("Paste synthesis failed", "error", err)
	}
}

// DispatchInput implements dom.Element.
func (e *Element) DispatchInput() {
	_, err := e.el.Eval("() => this.dispatchEvent(new Event('input', { bubbles: true }))")
	if err != nil {
		e.logger.Debug("Input dispatch failed", "error", err)
	}
}

// SetBusy implements dom.Element by dimming the composer while a retrieve
// is in flight.
func (e *Element) SetBusy(busy bool) {
	_, err := e.el.Eval(`busy => {
		if (busy) {
			this.dataset.prevOpacity = this.style.opacity;
			this.style.transition = 'opacity 0.1s';
			this.style.opacity = '0.5';
		} else {
			this.style.opacity = this.dataset.prevOpacity || '1';
			delete this.dataset.prevOpacity;
		}
	}`, busy)
	if err != nil {
		e.logger.Debug("Busy toggle failed", "error", err)
	}
}
