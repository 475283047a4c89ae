// Package domain defines the records shared across the agent's packages.
package domain

// Memory is one stored snippet returned by the retrieve endpoint. Only
// RawText is consumed; CreatedAt stays a raw string because the backend's
// datetime formatting must never break retrieval.
type Memory struct {
	ID        int64  `json:"id"`
	RawText   string `json:"raw_text"`
	CreatedAt string `json:"created_at"`
}

// Project is a remote memory project the user can scope the agent to.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
