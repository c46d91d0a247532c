package llm

import "context"

// BoundEmbedder fixes the embedding model so call sites do not carry
// model names around.
type BoundEmbedder struct {
	client *Client
	model  string
}

// BoundEmbedder returns an embedder locked to model.
func (c *Client) BoundEmbedder(model string) *BoundEmbedder {
	return &BoundEmbedder{client: c, model: model}
}

func (b *BoundEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.client.Embed(ctx, b.model, text)
}

func (b *BoundEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.client.EmbedBatch(ctx, b.model, texts)
}
