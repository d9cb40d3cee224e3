package ai

import "context"

// Finish reasons that mean the model stopped because it ran out of output budget.
const (
	FinishReasonMaxTokens = "MAX_TOKENS"
	FinishReasonLength    = "length"
)

// Generation is one raw model reply.
type Generation struct {
	Text         string
	FinishReason string
	Model        string
}

// Truncated reports whether the reply was cut off by the output token budget.
func (g Generation) Truncated() bool {
	return g.FinishReason == FinishReasonMaxTokens || g.FinishReason == FinishReasonLength
}

// Generator produces text from a system prompt and user prompt.
// Gemini and OpenAI-compatible providers implement this interface.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (Generation, error)
}
