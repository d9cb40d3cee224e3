package ai

import "context"

// GeminiGenerator binds a GeminiClient to one model and generation config.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
	config GenerationConfig
}

// NewGeminiGenerator builds a Gemini-based Generator.
func NewGeminiGenerator(client *GeminiClient, model string, cfg GenerationConfig) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model, config: cfg}
}

// Generate implements Generator using Gemini.
func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	return g.client.GenerateContent(ctx, g.model, systemPrompt, userPrompt, g.config)
}

// ListModels exposes the client's model listing.
func (g *GeminiGenerator) ListModels(ctx context.Context) ([]string, error) {
	return g.client.ListModels(ctx)
}
