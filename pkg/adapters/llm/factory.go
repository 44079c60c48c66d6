package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/adapters/llm/anthropic"
	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string
	APIKey   string
	// Tier to model mapping; empty entries use the adapter's defaults.
	FastModel     string
	BalancedModel string
	DeepModel     string
	Logger        *zap.Logger
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg *Config) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(cfg.APIKey, map[domain.LLMTier]string{
			domain.TierFast:     cfg.FastModel,
			domain.TierBalanced: cfg.BalancedModel,
			domain.TierDeep:     cfg.DeepModel,
		}, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
