package adapter

// Defaults returns the built-in site table. Selectors track the live
// products and are expected to rot; the remote override exists so they can
// be refreshed without shipping a new build.
func Defaults() map[string]*Descriptor {
	return map[string]*Descriptor{
		"chatgpt.com": {
			Composer:     SelectorList{"#prompt-textarea", `div[contenteditable="true"]`},
			Submit:       SelectorList{`button[data-testid="send-button"]`, `button[data-testid="fruitjuice-send-button"]`, "#composer-submit-button"},
			Stop:         SelectorList{`button[aria-label="Stop generating"]`, `button[data-testid="stop-button"]`},
			Streaming:    ".result-streaming",
			UserMsg:      SelectorList{`div[data-message-author-role="user"]`},
			AssistantMsg: SelectorList{`div[data-message-author-role="assistant"]`},
		},
		"gemini.google.com": {
			Composer:     SelectorList{".ql-editor", `div[contenteditable="true"]`},
			Submit:       SelectorList{".send-button", `button:has(mat-icon[data-mat-icon-name="send"])`, `button:has(mat-icon[fonticon="send"])`},
			Stop:         SelectorList{`button[aria-label="Stop response"]`},
			Streaming:    ".streaming",
			UserMsg:      SelectorList{".query-text", ".user-query", `div[data-message-author-role="user"]`},
			AssistantMsg: SelectorList{".markdown", ".model-response", "message-content"},
		},
		"chat.deepseek.com": {
			Composer:          SelectorList{"#chat-input", "textarea"},
			Submit:            SelectorList{`div[role="button"]:has(svg)`},
			Stop:              SelectorList{`div[role="button"]:has(svg rect)`, ".ds-stop-button", `[aria-label="Stop"]`},
			Streaming:         ".ds-markdown--assistant.streaming",
			UserMsg:           SelectorList{"div.fbb737a4", ".ds-markdown--user"},
			AssistantMsg:      SelectorList{".ds-markdown"},
			LooseCapture:      true,
			AssistantRecovery: ".ds-markdown",
		},
		"chat.mistral.ai": {
			Composer:     SelectorList{`div[contenteditable="true"]`, "textarea"},
			Submit:       SelectorList{`button[aria-label="Send query"]`, "button:has(svg)"},
			Stop:         SelectorList{`button[aria-label="Stop generating"]`},
			Streaming:    ".animate-pulse",
			UserMsg:      SelectorList{".bg-basic-gray-alpha-4 .select-text", "div.ms-auto .select-text", ".select-text"},
			AssistantMsg: SelectorList{`div[data-message-part-type="answer"]`, ".markdown-container-style", ".prose"},
		},
		"perplexity.ai": {
			Composer:      SelectorList{`div[contenteditable="true"]`, "textarea"},
			Submit:        SelectorList{`button[aria-label="Submit"]`, `button[aria-label="Ask"]`},
			Stop:          SelectorList{`button[aria-label="Stop"]`},
			Streaming:     ".animate-pulse",
			UserMsg:       SelectorList{"h1 .select-text", `div[class*="group/query"] .select-text`, ".font-display"},
			AssistantMsg:  SelectorList{".prose", `div[dir="auto"]`},
			TwoPhasePaste: true,
		},
	}
}
