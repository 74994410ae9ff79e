package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultMCPTimeout = 10 * time.Second
	defaultRetries    = 2
	defaultBackoff    = 200 * time.Millisecond
)

// mcpTransport speaks the Model Context Protocol over streamable HTTP.
// Calls retry with exponential backoff; context cancellation is never
// retried.
type mcpTransport struct {
	serverID   string
	mcpClient  client.MCPClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewMCPTransport connects to an MCP server at baseURL over streamable
// HTTP and completes the initialize handshake.
func NewMCPTransport(ctx context.Context, serverID, baseURL string) (Transport, error) {
	httpClient, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, err
	}
	if err := httpClient.Start(ctx); err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultMCPTimeout)
	defer cancel()

	initRequest := mcpgo.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcpgo.Implementation{
		Name:    "taxis-client",
		Version: "0.1.0",
	}
	if _, err := httpClient.Initialize(initCtx, initRequest); err != nil {
		httpClient.Close()
		return nil, err
	}

	return NewMCPTransportWithClient(serverID, httpClient), nil
}

// NewMCPTransportWithClient wraps an already initialized MCP client.
func NewMCPTransportWithClient(serverID string, c client.MCPClient) Transport {
	return &mcpTransport{
		serverID:   serverID,
		mcpClient:  c,
		timeout:    defaultMCPTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
	}
}

func (t *mcpTransport) ListTools(ctx context.Context) ([]Descriptor, error) {
	var result *mcpgo.ListToolsResult
	err := t.withRetry(ctx, func(reqCtx context.Context) error {
		var callErr error
		result, callErr = t.mcpClient.ListTools(reqCtx, mcpgo.ListToolsRequest{})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema for tool %q: %w", tool.Name, err)
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schema,
			ServerID:    t.serverID,
		})
	}
	return descriptors, nil
}

func (t *mcpTransport) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcpgo.CallToolResult
	err := t.withRetry(ctx, func(reqCtx context.Context) error {
		var callErr error
		result, callErr = t.mcpClient.CallTool(reqCtx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", errors.New("tool result is nil")
	}
	if result.IsError {
		return "", fmt.Errorf("tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		encoded, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("failed to encode structured content: %w", err)
		}
		return string(encoded), nil
	}
	return extractTextContent(result.Content), nil
}

func (t *mcpTransport) Close() error {
	return t.mcpClient.Close()
}

func (t *mcpTransport) withRetry(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	attempts := t.maxRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
		err := call(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := t.backoff * time.Duration(1<<i)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func extractTextContent(items []mcpgo.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, content.Text)
		case *mcpgo.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
