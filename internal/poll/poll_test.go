package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/dom/domtest"
)

func testDescriptor() *adapter.Descriptor {
	return &adapter.Descriptor{
		Stop:         adapter.SelectorList{"#stop"},
		Streaming:    ".streaming",
		UserMsg:      adapter.SelectorList{".user"},
		AssistantMsg: adapter.SelectorList{".ai"},
	}
}

func completedDoc() *domtest.Doc {
	doc := domtest.NewDoc("chatgpt.com")
	doc.Add(&domtest.Node{TagName: "div", Matches: []string{".user"}, Content: "question"})
	doc.Add(&domtest.Node{TagName: "div", Matches: []string{".ai"}, Content: "answer"})
	return doc
}

func TestFinishedPredicate(t *testing.T) {
	desc := testDescriptor()

	tests := []struct {
		name string
		doc  func() *domtest.Doc
		want bool
	}{
		{"complete", completedDoc, true},
		{"visible stop control", func() *domtest.Doc {
			doc := completedDoc()
			doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})
			return doc
		}, false},
		{"hidden stop control does not block", func() *domtest.Doc {
			doc := completedDoc()
			doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}, Hidden: true})
			return doc
		}, true},
		{"streaming indicator present", func() *domtest.Doc {
			doc := completedDoc()
			doc.Add(&domtest.Node{TagName: "div", Matches: []string{".streaming"}})
			return doc
		}, false},
		{"no user message", func() *domtest.Doc {
			doc := domtest.NewDoc("chatgpt.com")
			doc.Add(&domtest.Node{TagName: "div", Matches: []string{".ai"}, Content: "answer"})
			return doc
		}, false},
		{"no assistant message", func() *domtest.Doc {
			doc := domtest.NewDoc("chatgpt.com")
			doc.Add(&domtest.Node{TagName: "div", Matches: []string{".user"}, Content: "question"})
			return doc
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Finished(tt.doc(), desc); got != tt.want {
				t.Errorf("Finished() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinishedStopFallbackList(t *testing.T) {
	desc := testDescriptor()
	desc.Stop = adapter.SelectorList{"#primary-stop", "#secondary-stop"}

	doc := completedDoc()
	doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#secondary-stop"}})

	if Finished(doc, desc) {
		t.Error("fallback stop selector should keep the predicate false")
	}
}

func TestPollWaitsForStopRemoval(t *testing.T) {
	desc := testDescriptor()
	doc := completedDoc()
	stop := doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})

	var captures atomic.Int32
	p := New(2*time.Millisecond, time.Second, func(context.Context, dom.Document, *adapter.Descriptor) {
		captures.Add(1)
	}, nil)

	p.Start(context.Background(), doc, desc)

	// Several ticks with the stop control visible: polling must stay
	// alive and capture nothing.
	time.Sleep(30 * time.Millisecond)
	if n := captures.Load(); n != 0 {
		t.Fatalf("captured %d times while stop control visible", n)
	}
	if !p.Active() {
		t.Fatal("session ended while stop control visible")
	}

	doc.Remove(stop)

	deadline := time.After(time.Second)
	for captures.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("completion not detected after stop control removal")
		case <-time.After(2 * time.Millisecond):
		}
	}

	// Terminal: no further captures, session back to idle.
	time.Sleep(20 * time.Millisecond)
	if n := captures.Load(); n != 1 {
		t.Errorf("captures = %d, want exactly 1", n)
	}
	if p.Active() {
		t.Error("session still active after capture")
	}
}

func TestStartSupersedesPreviousSession(t *testing.T) {
	desc := testDescriptor()

	// First doc never completes; second completes immediately.
	stuck := completedDoc()
	stuck.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})
	finished := completedDoc()

	type capturedWith struct{ doc dom.Document }
	got := make(chan capturedWith, 4)

	p := New(2*time.Millisecond, time.Second, func(_ context.Context, d dom.Document, _ *adapter.Descriptor) {
		got <- capturedWith{doc: d}
	}, nil)

	p.Start(context.Background(), stuck, desc)
	p.Start(context.Background(), finished, desc)

	select {
	case c := <-got:
		if c.doc != dom.Document(finished) {
			t.Error("capture fired for the superseded session")
		}
	case <-time.After(time.Second):
		t.Fatal("second session never completed")
	}

	select {
	case <-got:
		t.Error("more than one capture fired")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPollTimesOutWithoutCapture(t *testing.T) {
	desc := testDescriptor()
	doc := completedDoc()
	doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})

	var captures atomic.Int32
	p := New(2*time.Millisecond, 20*time.Millisecond, func(context.Context, dom.Document, *adapter.Descriptor) {
		captures.Add(1)
	}, nil)

	p.Start(context.Background(), doc, desc)

	deadline := time.After(time.Second)
	for p.Active() {
		select {
		case <-deadline:
			t.Fatal("session never timed out")
		case <-time.After(2 * time.Millisecond):
		}
	}

	if n := captures.Load(); n != 0 {
		t.Errorf("captures = %d, want 0 on timeout", n)
	}
}

func TestStopCancelsSession(t *testing.T) {
	desc := testDescriptor()
	doc := completedDoc()
	doc.Add(&domtest.Node{TagName: "button", Matches: []string{"#stop"}})

	p := New(2*time.Millisecond, time.Second, func(context.Context, dom.Document, *adapter.Descriptor) {}, nil)

	p.Start(context.Background(), doc, desc)
	if !p.Active() {
		t.Fatal("session not active after Start")
	}

	p.Stop()
	if p.Active() {
		t.Error("session still active after Stop")
	}
}
