// Package mock provides a deterministic [embeddings.Provider] for tests.
// Vectors are derived from the input text so identical texts always embed to
// identical vectors and different texts rarely collide.
package mock

import (
	"context"
	"hash/fnv"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings"
)

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text into small deterministic vectors.
type Provider struct {
	Dim int   // vector length; defaults to 8
	Err error // returned by every call when non-nil
}

// New returns a Provider producing 8-dimensional vectors.
func New() *Provider { return &Provider{Dim: 8} }

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	vec := make([]float32, p.dim())
	h := fnv.New32a()
	for i := range vec {
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%1000) / 1000
	}
	return vec, nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.dim() }
