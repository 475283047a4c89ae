package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/capture"
	"github.com/umemo/agent/internal/classify"
	"github.com/umemo/agent/internal/dom/domtest"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/inject"
	"github.com/umemo/agent/internal/memoryapi"
	"github.com/umemo/agent/internal/poll"
	"github.com/umemo/agent/internal/session"
)

type memRepo struct {
	values map[string]string
}

func (m *memRepo) Get(_ context.Context, key string) (string, error) { return m.values[key], nil }
func (m *memRepo) Set(_ context.Context, key, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}
func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

type stubBackend struct {
	mu        sync.Mutex
	memories  []domain.Memory
	stored    []string
	deleteRes *memoryapi.DeleteResult
	deleteErr error
	deleted   []string
}

func (s *stubBackend) Retrieve(context.Context, string, string, string) ([]domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memories, nil
}

func (s *stubBackend) Store(_ context.Context, _, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, text)
	return nil
}

func (s *stubBackend) Delete(_ context.Context, _, _, targetText string) (*memoryapi.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, targetText)
	return s.deleteRes, s.deleteErr
}

func (s *stubBackend) storeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stored...)
}

func (s *stubBackend) deleteCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func testRegistry() *adapter.Registry {
	return adapter.NewRegistry(map[string]*adapter.Descriptor{
		"chatgpt.com": {
			Composer:     adapter.SelectorList{"#composer"},
			Stop:         adapter.SelectorList{"#stop"},
			UserMsg:      adapter.SelectorList{".user"},
			AssistantMsg: adapter.SelectorList{".ai"},
		},
	})
}

func newFixture(t *testing.T, backend *stubBackend, values map[string]string) *Agent {
	t.Helper()
	sess := session.NewManager(&memRepo{values: values}, nil)
	if err := sess.Load(context.Background()); err != nil {
		t.Fatalf("load session: %v", err)
	}

	classifier := classify.New(testRegistry(), sess)
	engine := inject.NewEngine(backend, sess, classifier, time.Millisecond, nil)
	extractor := capture.NewExtractor(backend, sess, time.Millisecond, nil)
	poller := poll.New(2*time.Millisecond, time.Second, extractor.Capture, nil)

	return New(classifier, engine, poller, backend, sess, nil)
}

func readyValues() map[string]string {
	return map[string]string{
		"auth_token":          "tok",
		"selected_project_id": "1",
	}
}

func submit() classify.KeyEvent {
	return classify.KeyEvent{Key: "Enter", Trusted: true}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestFullTurnLifecycle(t *testing.T) {
	backend := &stubBackend{memories: []domain.Memory{{RawText: "drinks green tea"}}}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Matches: []string{"#composer"}, Val: "what tea do I drink"})
	doc.SetActive(composer)

	// First Enter: intercepted, prompt rewritten asynchronously.
	if allow := a.HandleKey(context.Background(), doc, submit()); allow {
		t.Fatal("fresh query must be suppressed")
	}
	waitFor(t, "injected prompt", func() bool {
		return domain.MachineInjected(composer.CurrentText())
	})

	// Second Enter on the injected prompt: approved, polling starts.
	stop := doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})
	if allow := a.HandleKey(context.Background(), doc, submit()); !allow {
		t.Fatal("injected prompt submit must pass through")
	}

	// The page streams a response, then the stop control disappears.
	doc.Add(&domtest.Node{TagName: "div", Matches: []string{".user"}, Content: "what tea do I drink"})
	doc.Add(&domtest.Node{TagName: "div", Matches: []string{".ai"}, Content: "Green tea."})
	time.Sleep(10 * time.Millisecond)
	doc.Remove(stop)

	waitFor(t, "turn capture", func() bool { return len(backend.storeCalls()) > 0 })

	want := "User: what tea do I drink\n\nAI: Green tea."
	if got := backend.storeCalls(); len(got) != 1 || got[0] != want {
		t.Errorf("stored = %q, want [%q]", got, want)
	}
}

func TestHandleKeyIgnoresNonCandidates(t *testing.T) {
	backend := &stubBackend{}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "hello there"})
	doc.SetActive(composer)

	events := []classify.KeyEvent{
		{Key: "Enter", Shift: true, Trusted: true},
		{Key: "a", Trusted: true},
		{Key: "Enter", Trusted: false},
	}
	for _, ev := range events {
		if !a.HandleKey(context.Background(), doc, ev) {
			t.Errorf("event %+v suppressed, want passthrough", ev)
		}
	}
	if composer.CurrentText() != "hello there" {
		t.Error("composer modified by non-candidate events")
	}
}

func TestHandleKeyPassthroughWithoutSession(t *testing.T) {
	backend := &stubBackend{memories: []domain.Memory{{RawText: "fact"}}}
	a := newFixture(t, backend, nil)

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "what tea do I drink"})
	doc.SetActive(composer)

	if !a.HandleKey(context.Background(), doc, submit()) {
		t.Fatal("submit without credentials must pass through")
	}
	if composer.CurrentText() != "what tea do I drink" {
		t.Error("composer modified without a session")
	}
}

func TestDeleteCommandClearsComposer(t *testing.T) {
	backend := &stubBackend{deleteRes: &memoryapi.DeleteResult{Success: true, DeletedText: "drinks green tea"}}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "/delete tea"})
	doc.SetActive(composer)

	if a.HandleKey(context.Background(), doc, submit()) {
		t.Fatal("command must be suppressed")
	}

	waitFor(t, "delete alert", func() bool { return len(doc.Alerts()) > 0 })

	if got := backend.deleteCalls(); len(got) != 1 || got[0] != "tea" {
		t.Errorf("delete calls = %q, want [%q]", got, "tea")
	}
	if alerts := doc.Alerts(); !strings.Contains(alerts[0], "Deleted") {
		t.Errorf("alert = %q, want deletion confirmation", alerts[0])
	}
	if composer.CurrentText() != "" {
		t.Errorf("composer = %q, want cleared after command", composer.CurrentText())
	}
}

func TestDeleteCommandBackendRejection(t *testing.T) {
	backend := &stubBackend{deleteRes: &memoryapi.DeleteResult{Success: false, Message: "no matching memory"}}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "/unut tea"})
	doc.SetActive(composer)

	a.HandleKey(context.Background(), doc, submit())
	waitFor(t, "rejection alert", func() bool { return len(doc.Alerts()) > 0 })

	if alerts := doc.Alerts(); !strings.Contains(alerts[0], "no matching memory") {
		t.Errorf("alert = %q, want the backend message", alerts[0])
	}
	if composer.CurrentText() != "/unut tea" {
		t.Error("composer must keep its text when the delete is rejected")
	}
}

func TestDeleteCommandServerError(t *testing.T) {
	backend := &stubBackend{deleteErr: errors.New("connection refused")}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("chatgpt.com")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "/delete tea"})
	doc.SetActive(composer)

	a.HandleKey(context.Background(), doc, submit())
	waitFor(t, "error alert", func() bool { return len(doc.Alerts()) > 0 })

	if alerts := doc.Alerts(); !strings.Contains(alerts[0], "Server Error") {
		t.Errorf("alert = %q, want server error notice", alerts[0])
	}
	if composer.CurrentText() != "/delete tea" {
		t.Error("composer must keep its text on a server error")
	}
}

func TestUnsupportedHostIgnored(t *testing.T) {
	backend := &stubBackend{}
	a := newFixture(t, backend, readyValues())

	doc := domtest.NewDoc("example.org")
	composer := doc.Add(&domtest.Node{TagName: "textarea", Val: "what tea do I drink"})
	doc.SetActive(composer)

	if !a.HandleKey(context.Background(), doc, submit()) {
		t.Fatal("unsupported host must never be intercepted")
	}
}
