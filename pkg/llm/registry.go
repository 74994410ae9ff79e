package llm

import (
	"context"

	"github.com/taxis-ai/taxis/pkg/errors"
)

// Handle is a resolved model binding: a provider plus the generation
// parameters declared for it. Handles are resolved once at load time so
// the executor never does string-keyed provider lookup during a run.
type Handle struct {
	Binding     string
	Model       string
	Temperature float64
	MaxTokens   int
	provider    Provider
}

// Chat invokes the underlying provider with the handle's parameters.
// The messages and tools come from the caller; model and sampling
// parameters are fixed by the binding.
func (h *Handle) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	resp, err := h.provider.Chat(ctx, ChatRequest{
		Model:       h.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: h.Temperature,
		MaxTokens:   h.MaxTokens,
	})
	if err != nil {
		return nil, errors.New(errors.CodeLLM, "chat completion failed", err).
			WithContext("binding", h.Binding).
			WithContext("model", h.Model)
	}
	return resp, nil
}

// Binding describes one named model binding from the workflow document.
type Binding struct {
	Name        string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Registry is a closed table of resolved handles, built once at load time.
type Registry struct {
	handles map[string]*Handle
}

// ProviderFactory creates a concrete provider for a provider name.
type ProviderFactory func(provider string) (Provider, error)

// NewRegistry resolves every binding into a handle. An unknown provider
// fails the whole load with CONFIG_ERROR; no partial registry is returned.
func NewRegistry(bindings []Binding, factory ProviderFactory) (*Registry, error) {
	handles := make(map[string]*Handle, len(bindings))
	for _, b := range bindings {
		p, err := factory(b.Provider)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "unresolvable model binding", err).
				WithContext("binding", b.Name).
				WithContext("provider", b.Provider)
		}
		handles[b.Name] = &Handle{
			Binding:     b.Name,
			Model:       b.Model,
			Temperature: b.Temperature,
			MaxTokens:   b.MaxTokens,
			provider:    p,
		}
	}
	return &Registry{handles: handles}, nil
}

// NewRegistryWithProviders builds a registry from pre-constructed
// providers keyed by binding name. Used mostly by tests.
func NewRegistryWithProviders(bindings []Binding, providers map[string]Provider) (*Registry, error) {
	handles := make(map[string]*Handle, len(bindings))
	for _, b := range bindings {
		p, ok := providers[b.Name]
		if !ok {
			return nil, errors.New(errors.CodeConfig, "no provider for binding", nil).
				WithContext("binding", b.Name)
		}
		handles[b.Name] = &Handle{
			Binding:     b.Name,
			Model:       b.Model,
			Temperature: b.Temperature,
			MaxTokens:   b.MaxTokens,
			provider:    p,
		}
	}
	return &Registry{handles: handles}, nil
}

// Resolve returns the handle for a binding name.
func (r *Registry) Resolve(binding string) (*Handle, error) {
	h, ok := r.handles[binding]
	if !ok {
		return nil, errors.New(errors.CodeConfig, "unknown model binding", nil).
			WithContext("binding", binding)
	}
	return h, nil
}

// Bindings returns the names of all resolved bindings.
func (r *Registry) Bindings() []string {
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}
