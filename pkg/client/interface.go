package client

import (
	"context"
)

// VisionClient sends one image plus a prompt to a vision-language model and
// returns the raw text reply. Implementations cover OpenAI-compatible servers
// and Ollama.
type VisionClient interface {
	Describe(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
