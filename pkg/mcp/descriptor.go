// Package mcp is the tool mediation layer. It discovers tools from
// configured tool servers, validates invocation arguments against the
// cached parameter schemas, and forwards calls on behalf of agents. No
// agent talks to a tool server directly; every invocation is attributed
// to a (run, agent, tool) triple in the event log.
package mcp

import "encoding/json"

// Descriptor describes one tool offered by a tool server. Descriptors
// are fetched at discovery time and cached for the duration of a run;
// they are never persisted across runs.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters"`
	ServerID    string          `json:"server_id"`
}

// ServerConfig identifies one configured tool server.
type ServerConfig struct {
	ID       string
	BaseURL  string
	Protocol string // "http" (GET /tools + POST /tools/{name}/execute) or "mcp"
}
