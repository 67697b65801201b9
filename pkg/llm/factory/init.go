// Package factory provides the provider factory and initialization
package factory

import (
	"context"
	"fmt"

	"github.com/gliderlab/wagem/pkg/llm"
	"github.com/gliderlab/wagem/pkg/llm/providers/google"
	"github.com/gliderlab/wagem/pkg/llm/providers/openai"
)

// NewProvider builds the provider selected by cfg.Type and registers it
func NewProvider(ctx context.Context, cfg llm.Config) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch cfg.Type {
	case llm.ProviderGoogle, "":
		cfg.Type = llm.ProviderGoogle
		p, err = google.New(ctx, cfg)
	case llm.ProviderOpenAI:
		p, err = openai.New(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", cfg.Type, err)
	}

	llm.RegisterProvider(p)
	return p, nil
}
