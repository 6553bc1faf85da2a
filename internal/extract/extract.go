package extract

import (
	"context"
	"fmt"
	"strings"

	"docbatch/internal/config"
	"docbatch/internal/source"
)

// Extraction is the content recovered from one item.
type Extraction struct {
	Content    string
	Confidence float64
	Attributes map[string]string
}

// Extractor turns one item into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, item source.Item) (Extraction, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, item source.Item) (Extraction, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, item source.Item) (Extraction, error) {
	return f(ctx, item)
}

// Named is implemented by extractors that report a backend name for provenance.
type Named interface {
	Name() string
}

// BackendName returns the extractor's reported name, or "custom".
func BackendName(e Extractor) string {
	if named, ok := e.(Named); ok {
		if name := strings.TrimSpace(named.Name()); name != "" {
			return name
		}
	}
	return "custom"
}

// FromConfig builds the extractor selected by extractor.backend.
func FromConfig(cfg *config.Config) (Extractor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("extractor: config is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Extractor.Backend)) {
	case "", "text":
		return NewTextExtractor(), nil
	case "http":
		return NewHTTPExtractor(HTTPConfig{
			URL:     cfg.Extractor.URL,
			APIKey:  cfg.Extractor.APIKey,
			Timeout: cfg.ExtractorTimeout(),
		})
	default:
		return nil, fmt.Errorf("extractor: unknown backend %q", cfg.Extractor.Backend)
	}
}
