package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/anders-planck/parseur/internal/core"
)

// Known provider tags.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Registry lazily constructs and caches provider clients. Construction is
// cheap but the clients hold rate limiters and HTTP transports, so each
// provider is built exactly once and shared.
type Registry struct {
	mu      sync.Mutex
	configs map[string]Config
	clients map[string]Provider
	logger  *slog.Logger
}

// NewRegistry creates a registry over the configured providers.
func NewRegistry(configs map[string]Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		configs: configs,
		clients: make(map[string]Provider),
		logger:  logger,
	}
}

// Get returns the cached provider with the given tag, constructing it on
// first use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.clients[name]; ok {
		return p, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, core.NewError(core.KindValidation,
			fmt.Sprintf("unknown LLM provider %q", name), nil)
	}

	var p Provider
	switch name {
	case ProviderAnthropic:
		p = NewAnthropicProvider(cfg, r.logger)
	case ProviderOpenAI:
		p = NewOpenAIProvider(cfg, r.logger)
	default:
		return nil, core.NewError(core.KindValidation,
			fmt.Sprintf("no adapter implemented for provider %q", name), nil)
	}

	r.clients[name] = p
	r.logger.Info("LLM provider initialized", "provider", name, "model", p.Model())
	return p, nil
}

// All returns every configured provider, constructing missing ones.
// Order is deterministic (sorted by tag) so selection tie-breaks are stable.
func (r *Registry) All() ([]Provider, error) {
	names := make([]string, 0, len(r.configs))
	r.mu.Lock()
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
