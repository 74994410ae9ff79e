package mcp

import "context"

// Transport abstracts the wire protocol of a tool server.
type Transport interface {
	// ListTools fetches the server's tool definitions.
	ListTools(ctx context.Context) ([]Descriptor, error)
	// CallTool executes a tool and returns its textual result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	// Close releases the underlying connection, if any.
	Close() error
}
