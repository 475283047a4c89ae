package bridge

import (
	"strings"
	"testing"

	"github.com/umemo/agent/internal/adapter"
)

func testRegistry() *adapter.Registry {
	return adapter.NewRegistry(map[string]*adapter.Descriptor{
		"chatgpt.com":       {Composer: adapter.SelectorList{"#composer"}},
		"gemini.google.com": {Composer: adapter.SelectorList{".ql-editor"}},
	})
}

func TestSupportedGatesOnAdapterTable(t *testing.T) {
	b := New(nil, nil, testRegistry(), nil)

	tests := []struct {
		hostname string
		want     bool
	}{
		{"chatgpt.com", true},
		{"gemini.google.com", true},
		{"example.org", false},
		{"mail.google.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := b.supported(tt.hostname); got != tt.want {
			t.Errorf("supported(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestHookScriptGuardsByHostname(t *testing.T) {
	script := hookScript([]string{"chatgpt.com", "gemini.google.com"})

	// The guard must run before the listener is installed so documents on
	// unknown hosts are left untouched.
	guard := strings.Index(script, "location.hostname")
	listen := strings.Index(script, "addEventListener")
	if guard < 0 || listen < 0 || guard > listen {
		t.Fatalf("hostname guard must precede the listener install:\n%s", script)
	}

	for _, key := range []string{`"chatgpt.com"`, `"gemini.google.com"`} {
		if !strings.Contains(script, key) {
			t.Errorf("hook script missing site key %s", key)
		}
	}
	if !strings.Contains(script, keyBinding) {
		t.Errorf("hook script missing binding %q", keyBinding)
	}
}

func TestHookScriptEscapesSiteKeys(t *testing.T) {
	script := hookScript([]string{`bad".com`})
	if !strings.Contains(script, `"bad\".com"`) {
		t.Errorf("site key not JSON-escaped:\n%s", script)
	}
}
