package domain

// LLMTier selects a model class. Adapters map tiers to concrete models so
// the engine never names one.
type LLMTier string

const (
	TierFast     LLMTier = "fast"
	TierBalanced LLMTier = "balanced"
	TierDeep     LLMTier = "deep"
)

// LLMMessage is one turn of a model conversation.
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMRequest is a completion request against the model collaborator.
type LLMRequest struct {
	Tier      LLMTier
	MaxTokens int
	System    string
	Messages  []LLMMessage
}

// LLMResponse carries the model reply. Content is untrusted text; callers
// validate structure themselves.
type LLMResponse struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}
