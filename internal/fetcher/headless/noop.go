package headless

import (
	"context"
	"errors"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Noop implements crawler.Renderer but always returns an error to indicate
// that headless rendering is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render returns an error since this is a stub implementation.
func (Noop) Render(_ context.Context, _ string, _ map[string]string) (crawler.FetchResult, error) {
	return crawler.FetchResult{}, errors.New("headless renderer not configured")
}
