package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ModelInfo describes one model offered by a backend.
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// ListModels returns the models available on the configured OpenRouter
// endpoint, sorted by ID.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL + "/"),
		option.WithHTTPClient(p.client),
	}
	if p.appURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", p.appURL))
	}
	if p.appTitle != "" {
		opts = append(opts, option.WithHeader("X-Title", p.appTitle))
	}
	client := openai.NewClient(opts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenRouter models request failed: %w", err)
	}

	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// FilterModels keeps the models whose ID starts with prefix.
func FilterModels(models []ModelInfo, prefix string) []ModelInfo {
	if prefix == "" {
		return models
	}

	var filtered []ModelInfo
	for _, m := range models {
		if strings.HasPrefix(m.ID, prefix) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
