package ai

import (
	"context"
)

// Classifier represents a single stance classification provider.
// Classify sends the resolved prompt plus input text and returns the
// raw model output; the adapter owns JSON parsing so that a malformed
// response counts as that provider's failure.
type Classifier interface {
	// Name returns provider name
	Name() string

	// Model returns the model identifier used for requests
	Model() string

	// Enabled returns whether provider is configured
	Enabled() bool

	// Classify runs one classification request and returns raw content
	Classify(ctx context.Context, prompt, text string) (string, error)
}
