package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultModel is used in OpenAI-compatible mode when no model is configured.
	DefaultModel = "qwen/qwen3-coder-plus"
	// DefaultBaseURL is the OpenAI-compatible endpoint assumed when only a key is configured.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// SupportedModels lists the models known to work with the Qwen CLI in OpenAI-compatible mode.
func SupportedModels() []string {
	return []string{
		"qwen/qwen3-coder-plus",
		"qwen/qwen3-coder",
		"qwen/qwen3-coder:free",
		"qwen/qwen-2.5-coder-32b-instruct",
	}
}

// Lister lists model IDs from a remote endpoint.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Catalog lists models from an OpenAI-compatible endpoint.
type Catalog struct {
	client openai.Client
}

// NewCatalog constructs a catalog for the endpoint at baseURL.
func NewCatalog(apiKey, baseURL, referer, title string) (*Catalog, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required to list models")
	}
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient.StandardClient()),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", referer))
	}
	if title != "" {
		opts = append(opts, option.WithHeader("X-Title", title))
	}
	return &Catalog{client: openai.NewClient(opts...)}, nil
}

// List returns sorted, de-duplicated model IDs.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, m := range page.Data {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Filter keeps IDs containing substr, case-insensitively.
func Filter(ids []string, substr string) []string {
	substr = strings.ToLower(strings.TrimSpace(substr))
	if substr == "" {
		return ids
	}
	var out []string
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id), substr) {
			out = append(out, id)
		}
	}
	return out
}
