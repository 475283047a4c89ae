// Package adapter holds per-site selector descriptors for supported chat
// products. Sites are data, not code: adding support for a product means
// adding a descriptor, never a branch.
package adapter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SelectorList is an ordered fallback list of CSS selectors. The remote
// config and the built-in defaults encode these either as a single string
// or as a JSON array, so decoding accepts both.
type SelectorList []string

// UnmarshalJSON accepts "sel" or ["sel1", "sel2"].
func (l *SelectorList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = SelectorList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("selector list must be a string or array of strings: %w", err)
	}
	*l = SelectorList(many)
	return nil
}

// MarshalJSON always emits the array form.
func (l SelectorList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l))
}

// Descriptor declares everything the pipeline needs to know about one chat
// site. Descriptors are immutable once resolved for a poll session.
type Descriptor struct {
	// Composer locates the message input element.
	Composer SelectorList `json:"composerSelector,omitempty"`

	// Submit locates the send control.
	Submit SelectorList `json:"button,omitempty"`

	// Stop locates the stop-generating control; its visibility means a
	// response is still streaming.
	Stop SelectorList `json:"stopButtonSelector,omitempty"`

	// Streaming optionally locates an in-progress streaming indicator.
	Streaming string `json:"streamingSelector,omitempty"`

	// UserMsg locates user message containers.
	UserMsg SelectorList `json:"userMsg,omitempty"`

	// AssistantMsg locates assistant message containers.
	AssistantMsg SelectorList `json:"aiMsg,omitempty"`

	// TwoPhasePaste marks editors that ignore large same-tick
	// replacements; injection goes placeholder-first, payload after a
	// short delay.
	TwoPhasePaste bool `json:"twoPhasePaste,omitempty"`

	// LooseCapture enables the extra capture heuristics for sites whose
	// message structure is unstable.
	LooseCapture bool `json:"looseCapture,omitempty"`

	// AssistantRecovery is a known-stable assistant selector re-queried
	// when LooseCapture is set and the fallback lists found nothing.
	AssistantRecovery string `json:"assistantRecoverySelector,omitempty"`
}

// Registry maps hostname fragments to descriptors. The active registry is
// process-wide and replaced wholesale on a successful remote override,
// never merged field by field.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]*Descriptor
}

// NewRegistry creates a registry seeded with the given sites.
func NewRegistry(sites map[string]*Descriptor) *Registry {
	return &Registry{sites: sites}
}

// Resolve returns the descriptor whose site key is a substring of hostname.
// When several keys match, the longest key wins, ties broken
// lexicographically, so resolution is deterministic and the most specific
// entry takes precedence.
func (r *Registry) Resolve(hostname string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.sites))
	for key := range r.sites {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		if strings.Contains(hostname, key) {
			return r.sites[key]
		}
	}
	return nil
}

// Replace swaps the whole site table. No-op on an empty table so a bogus
// override can never wipe the defaults.
func (r *Registry) Replace(sites map[string]*Descriptor) {
	if len(sites) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites = sites
}

// Sites returns the known site keys, sorted.
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.sites))
	for key := range r.sites {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
