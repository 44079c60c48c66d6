package ports

import (
	"context"

	"github.com/musterd/muster/pkg/domain"
)

// LLMClient is the language-model collaborator used for task decomposition.
type LLMClient interface {
	Complete(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error)
}
