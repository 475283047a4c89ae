package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestResolveKnownDefaults(t *testing.T) {
	reg := NewRegistry(Defaults())

	tests := []struct {
		hostname string
		want     bool
	}{
		{"chatgpt.com", true},
		{"www.chatgpt.com", true},
		{"gemini.google.com", true},
		{"chat.deepseek.com", true},
		{"www.perplexity.ai", true},
		{"example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		got := reg.Resolve(tt.hostname)
		if (got != nil) != tt.want {
			t.Errorf("Resolve(%q) = %v, want match=%v", tt.hostname, got, tt.want)
		}
	}
}

func TestResolveLongestKeyWins(t *testing.T) {
	reg := NewRegistry(map[string]*Descriptor{
		"google.com":        {Streaming: "generic"},
		"gemini.google.com": {Streaming: "specific"},
	})

	got := reg.Resolve("gemini.google.com")
	if got == nil || got.Streaming != "specific" {
		t.Fatalf("expected most specific key to win, got %+v", got)
	}

	// A host matching only the shorter key still resolves.
	got = reg.Resolve("mail.google.com")
	if got == nil || got.Streaming != "generic" {
		t.Fatalf("expected generic key, got %+v", got)
	}
}

func TestResolveOrderDeterministicOnTies(t *testing.T) {
	reg := NewRegistry(map[string]*Descriptor{
		"aaa.chat": {Streaming: "first"},
		"bbb.chat": {Streaming: "second"},
	})

	// Both keys have equal length; neither matches this host twice, but a
	// host containing both must always pick the lexicographically smaller.
	for i := 0; i < 20; i++ {
		got := reg.Resolve("aaa.chat.bbb.chat")
		if got == nil || got.Streaming != "first" {
			t.Fatalf("iteration %d: want lexicographic tiebreak, got %+v", i, got)
		}
	}
}

func TestSelectorListDecodesStringOrArray(t *testing.T) {
	var d Descriptor
	raw := `{
		"button": "button.send",
		"stopButtonSelector": ["#stop", ".stop"],
		"userMsg": ".user",
		"aiMsg": [".ai"]
	}`
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal descriptor: %v", err)
	}

	if len(d.Submit) != 1 || d.Submit[0] != "button.send" {
		t.Errorf("Submit = %v", d.Submit)
	}
	if len(d.Stop) != 2 || d.Stop[1] != ".stop" {
		t.Errorf("Stop = %v", d.Stop)
	}
	if len(d.UserMsg) != 1 || d.UserMsg[0] != ".user" {
		t.Errorf("UserMsg = %v", d.UserMsg)
	}
}

func TestSelectorListRejectsGarbage(t *testing.T) {
	var d Descriptor
	if err := json.Unmarshal([]byte(`{"button": 42}`), &d); err == nil {
		t.Fatal("expected decode error for numeric selector")
	}
}

type stubSource struct {
	raw []byte
	err error
}

func (s *stubSource) SiteConfig(context.Context) ([]byte, error) {
	return s.raw, s.err
}

func TestLoadRemoteOverrideReplacesWholesale(t *testing.T) {
	reg := NewRegistry(Defaults())
	raw := []byte(`{"example.chat": {"button": "#send", "stopButtonSelector": "#stop", "userMsg": ".u", "aiMsg": ".a"}}`)

	LoadRemoteOverride(context.Background(), &stubSource{raw: raw}, reg, nil)

	if reg.Resolve("chatgpt.com") != nil {
		t.Error("defaults survived a wholesale replacement")
	}
	if reg.Resolve("example.chat") == nil {
		t.Error("override site not resolvable")
	}
}

func TestLoadRemoteOverrideKeepsDefaultsOnFailure(t *testing.T) {
	tests := []struct {
		name string
		src  *stubSource
	}{
		{"network error", &stubSource{err: errors.New("boom")}},
		{"empty object", &stubSource{raw: []byte(`{}`)}},
		{"garbage body", &stubSource{raw: []byte(`<html>`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(Defaults())
			LoadRemoteOverride(context.Background(), tt.src, reg, nil)
			if reg.Resolve("chatgpt.com") == nil {
				t.Error("defaults lost after failed override")
			}
		})
	}
}
