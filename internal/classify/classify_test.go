package classify

import (
	"context"
	"testing"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom/domtest"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/session"
	"github.com/umemo/agent/internal/store"
)

type memRepo struct {
	values map[string]string
}

func (m *memRepo) Get(_ context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memRepo) Set(_ context.Context, key, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

func readySession(t *testing.T) *session.Manager {
	t.Helper()
	repo := &memRepo{values: map[string]string{
		store.KeyAuthToken:         "tok",
		store.KeySelectedProjectID: "1",
	}}
	sm := session.NewManager(repo, nil)
	if err := sm.Load(context.Background()); err != nil {
		t.Fatalf("load session: %v", err)
	}
	return sm
}

func emptySession(t *testing.T) *session.Manager {
	t.Helper()
	sm := session.NewManager(&memRepo{}, nil)
	if err := sm.Load(context.Background()); err != nil {
		t.Fatalf("load session: %v", err)
	}
	return sm
}

func fixtureDoc(text string) (*domtest.Doc, *domtest.Node) {
	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: text})
	doc.SetActive(composer)
	return doc, composer
}

func enterKey() KeyEvent {
	return KeyEvent{Key: "Enter", Trusted: true}
}

func TestClassifyIgnoresNonCandidates(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), readySession(t))

	tests := []struct {
		name string
		doc  func() *domtest.Doc
		ev   KeyEvent
	}{
		{"untrusted", func() *domtest.Doc { d, _ := fixtureDoc("hello"); return d }, KeyEvent{Key: "Enter"}},
		{"shifted", func() *domtest.Doc { d, _ := fixtureDoc("hello"); return d }, KeyEvent{Key: "Enter", Shift: true, Trusted: true}},
		{"wrong key", func() *domtest.Doc { d, _ := fixtureDoc("hello"); return d }, KeyEvent{Key: "a", Trusted: true}},
		{"unknown site", func() *domtest.Doc {
			d := domtest.NewDoc("example.com")
			n := d.Add(&domtest.Node{TagName: "textarea", Val: "hello"})
			d.SetActive(n)
			return d
		}, enterKey()},
		{"no editable", func() *domtest.Doc {
			d := domtest.NewDoc("chatgpt.com")
			n := d.Add(&domtest.Node{TagName: "div"})
			d.SetActive(n)
			return d
		}, enterKey()},
		{"too short", func() *domtest.Doc { d, _ := fixtureDoc("x"); return d }, enterKey()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.doc(), tt.ev)
			if got.Verdict != VerdictIgnore {
				t.Errorf("verdict = %v, want VerdictIgnore", got.Verdict)
			}
		})
	}
}

func TestClassifyLoopGuardApprovesBeforeEverything(t *testing.T) {
	// Even with no credentials the injected prompt must go through and
	// start polling, never re-enter injection.
	c := New(adapter.NewRegistry(adapter.Defaults()), emptySession(t))
	prompt := domain.BuildInjectedPrompt([]string{"tea: green"}, "what tea do I drink")
	doc, _ := fixtureDoc(prompt)

	got := c.Classify(doc, enterKey())
	if got.Verdict != VerdictApprove {
		t.Fatalf("verdict = %v, want VerdictApprove", got.Verdict)
	}
	if got.Verdict.Suppress() {
		t.Error("approved prompt must not suppress the native submit")
	}
	if !got.Verdict.StartsPoll() {
		t.Error("approved prompt must start a poll session")
	}
}

func TestClassifyRepeatAfterMiss(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), readySession(t))
	doc, _ := fixtureDoc("what is my wifi password")

	first := c.Classify(doc, enterKey())
	if first.Verdict != VerdictInject {
		t.Fatalf("first verdict = %v, want VerdictInject", first.Verdict)
	}

	// Injection found nothing; the engine remembers the miss.
	c.RememberMiss("what is my wifi password")

	second := c.Classify(doc, enterKey())
	if second.Verdict != VerdictRepeat {
		t.Fatalf("second verdict = %v, want VerdictRepeat", second.Verdict)
	}
	if !second.Verdict.StartsPoll() {
		t.Error("repeat must start a poll session")
	}

	// A successful injection clears the miss; identical text intercepts
	// again.
	c.ClearMiss()
	third := c.Classify(doc, enterKey())
	if third.Verdict != VerdictInject {
		t.Fatalf("third verdict = %v, want VerdictInject", third.Verdict)
	}
}

func TestClassifyPassthroughWithoutCredentials(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), emptySession(t))
	doc, _ := fixtureDoc("what is my wifi password")

	got := c.Classify(doc, enterKey())
	if got.Verdict != VerdictPassthrough {
		t.Fatalf("verdict = %v, want VerdictPassthrough", got.Verdict)
	}
	if got.Verdict.Suppress() {
		t.Error("passthrough must not suppress the native submit")
	}
}

func TestClassifyDeleteCommand(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), readySession(t))

	for _, text := range []string{"/delete the wifi password", "/unut kahve"} {
		doc, _ := fixtureDoc(text)
		got := c.Classify(doc, enterKey())
		if got.Verdict != VerdictCommand {
			t.Errorf("Classify(%q) = %v, want VerdictCommand", text, got.Verdict)
		}
		if !got.Verdict.Suppress() {
			t.Errorf("Classify(%q) must suppress the native submit", text)
		}
	}
}

func TestClassifyResolvesEditableAncestor(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), readySession(t))

	doc := domtest.NewDoc("chatgpt.com")
	editor := doc.Add(&domtest.Node{TagName: "div", Editable: true, Content: "tell me a story"})
	span := doc.Add(&domtest.Node{TagName: "span", ParentNode: editor})
	doc.SetActive(span)

	got := c.Classify(doc, enterKey())
	if got.Verdict != VerdictInject {
		t.Fatalf("verdict = %v, want VerdictInject", got.Verdict)
	}
	if got.Target == nil || got.Target.Tag() != "div" {
		t.Errorf("target should resolve to the contenteditable ancestor")
	}
	if got.Text != "tell me a story" {
		t.Errorf("text = %q", got.Text)
	}
}

func TestClassifyPasswordInputIgnored(t *testing.T) {
	c := New(adapter.NewRegistry(adapter.Defaults()), readySession(t))

	doc := domtest.NewDoc("chatgpt.com")
	pw := doc.Add(&domtest.Node{TagName: "input", Attrs: map[string]string{"type": "password"}, Val: "hunter2"})
	doc.SetActive(pw)

	got := c.Classify(doc, enterKey())
	if got.Verdict != VerdictIgnore {
		t.Fatalf("verdict = %v, want VerdictIgnore for password input", got.Verdict)
	}
}

func TestCommandTarget(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/delete last tea memory", "last tea memory"},
		{"/unut çay", "çay"},
		{"/delete", ""},
		{"plain question", ""},
	}
	for _, tt := range tests {
		if got := CommandTarget(tt.text); got != tt.want {
			t.Errorf("CommandTarget(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
