package server

import "github.com/mohammad-safakhou/newsbrief/models"

// HTTPError is the error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// BriefRequest is the payload of POST /api/briefs.
type BriefRequest struct {
	Query string `json:"query"`
}

// BriefResponse carries the artifact and its markdown rendering.
type BriefResponse struct {
	Artifact models.Artifact `json:"artifact"`
	Rendered string          `json:"rendered"`
}

// TokenRequest exchanges an API key for a bearer token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// TopicMemory lists the keys remembered for one topic, most recent first.
type TopicMemory struct {
	Topic models.Topic `json:"topic"`
	Keys  []string     `json:"keys"`
}
