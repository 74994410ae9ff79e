package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// httpTransport speaks the plain tool server protocol:
// GET {base}/tools for discovery, POST {base}/tools/{name}/execute for
// invocation, JSON bodies both ways.
type httpTransport struct {
	serverID string
	baseURL  string
	client   *http.Client
}

// NewHTTPTransport creates a Transport for a plain HTTP tool server.
func NewHTTPTransport(serverID, baseURL string) Transport {
	return &httpTransport{
		serverID: serverID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type toolListResponse struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"tools"`
}

func (t *httpTransport) ListTools(ctx context.Context) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned status %d", resp.StatusCode)
	}

	var listed toolListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.Parameters,
			ServerID:    t.serverID,
		})
	}
	return descriptors, nil
}

type toolExecuteResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (t *httpTransport) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool arguments: %w", err)
	}

	url := fmt.Sprintf("%s/tools/%s/execute", t.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool execution request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tool server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var executed toolExecuteResponse
	if err := json.Unmarshal(raw, &executed); err != nil {
		return "", fmt.Errorf("failed to decode tool response: %w", err)
	}
	if executed.Error != "" {
		return "", fmt.Errorf("tool returned error: %s", executed.Error)
	}

	// Result may be a JSON string or an arbitrary JSON value.
	var asString string
	if err := json.Unmarshal(executed.Result, &asString); err == nil {
		return asString, nil
	}
	return string(executed.Result), nil
}

func (t *httpTransport) Close() error { return nil }
