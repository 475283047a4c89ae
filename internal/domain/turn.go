package domain

// CapturedTurn is one completed user/assistant exchange lifted from a chat
// page. It is never persisted locally; it exists only long enough to be
// forwarded to the remote store.
type CapturedTurn struct {
	UserText      string
	AssistantText string
}

// StoreText renders the turn in the wire shape the memory service expects.
func (t CapturedTurn) StoreText() string {
	return "User: " + t.UserText + "\n\nAI: " + t.AssistantText
}
