// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextstore wraps semantic search over the Weaviate vector
// store: ranked snippet retrieval for query augmentation, pattern
// publication from the extraction worker, and a readiness check.
//
// Retrieval results are optionally cached in a BadgerDB TTL cache
// (see the embedcache subpackage); the cache is consulted before the
// vector store and repopulated after every live search.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/contextstore/embedcache"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ErrUnavailable is returned when the vector store cannot be reached.
// The router treats it as a degrade-to-no-context signal, never a
// request failure.
var ErrUnavailable = errors.New("context store unavailable")

// Config holds client construction options.
type Config struct {
	// DefaultTopK is used when a search does not specify one.
	// Default: 4.
	DefaultTopK int

	// MinScore is the similarity cutoff; hits below it are discarded.
	// Default: 0.5.
	MinScore float64

	// DefaultCollections are searched when a request names none.
	DefaultCollections []string

	// Cache, if non-nil, is consulted before the vector store.
	Cache *embedcache.Cache
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 4
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.5
	}
	if len(cfg.DefaultCollections) == 0 {
		cfg.DefaultCollections = []string{datatypes.ContextSnippetClass, datatypes.LearnedPatternClass}
	}
	return cfg
}

// Client performs semantic search and pattern publication against
// Weaviate. Safe for concurrent use.
type Client struct {
	weaviate *weaviate.Client
	config   Config
}

// NewClient creates a Client for the Weaviate instance at rawURL.
func NewClient(rawURL string, cfg Config) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid context store URL: %s", rawURL)
	}

	wc, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Client{weaviate: wc, config: applyConfigDefaults(cfg)}, nil
}

// NewClientWith wraps an existing Weaviate client. Used when the
// coordinator shares one client across components and by tests.
func NewClientWith(wc *weaviate.Client, cfg Config) *Client {
	return &Client{weaviate: wc, config: applyConfigDefaults(cfg)}
}

// Weaviate exposes the underlying client for schema management.
func (c *Client) Weaviate() *weaviate.Client {
	return c.weaviate
}

// Search returns the top-K snippets across the given collections whose
// similarity clears the cutoff, best first. An empty result is a valid
// outcome, not an error.
func (c *Client) Search(ctx context.Context, query string, collections []string, topK int) ([]datatypes.Snippet, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if topK <= 0 {
		topK = c.config.DefaultTopK
	}
	if len(collections) == 0 {
		collections = c.config.DefaultCollections
	}

	cacheKey := embedcache.Key(query, collections, topK)
	if c.config.Cache != nil {
		if cached, found, err := c.config.Cache.Get(cacheKey); err == nil && found {
			var snippets []datatypes.Snippet
			if err := json.Unmarshal(cached, &snippets); err == nil {
				return snippets, nil
			}
			// Corrupt entry: fall through to a live search.
		}
	}

	var merged []datatypes.Snippet
	for _, collection := range collections {
		snippets, err := c.searchCollection(ctx, query, collection, topK)
		if err != nil {
			return nil, err
		}
		merged = append(merged, snippets...)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	if c.config.Cache != nil {
		if data, err := json.Marshal(merged); err == nil {
			if err := c.config.Cache.Set(cacheKey, data); err != nil {
				slog.Warn("Failed to cache search results", "error", err)
			}
		}
	}

	return merged, nil
}

func (c *Client) searchCollection(ctx context.Context, query, collection string, topK int) ([]datatypes.Snippet, error) {
	nearText := c.weaviate.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { id certainty distance }"},
	}

	result, err := c.weaviate.GraphQL().Get().
		WithClassName(collection).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrUnavailable, collection, err)
	}
	if msg := firstGraphQLError(result.Errors); msg != "" {
		return nil, fmt.Errorf("search %s: %s", collection, msg)
	}

	return parseSnippets(result, collection, c.config.MinScore), nil
}

// firstGraphQLError returns the first usable error message in a
// GraphQL error list. Elements can be nil in malformed responses.
func firstGraphQLError(errs []*models.GraphQLError) string {
	for _, e := range errs {
		if e == nil {
			continue
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if len(errs) > 0 {
		return "unknown graphql error"
	}
	return ""
}

// parseSnippets extracts snippets from a GraphQL response, dropping
// hits below the similarity cutoff.
func parseSnippets(result *models.GraphQLResponse, collection string, minScore float64) []datatypes.Snippet {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[collection].([]interface{})
	if !ok {
		return nil
	}

	snippets := make([]datatypes.Snippet, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}

		snippet := datatypes.Snippet{
			Text:       getString(m, "content"),
			Collection: collection,
		}
		if source := getString(m, "source"); source != "" {
			snippet.Metadata = map[string]any{"source": source}
		}

		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				snippet.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				snippet.Score = certainty
			}
		}

		if snippet.Score < minScore {
			continue
		}
		snippets = append(snippets, snippet)
	}
	return snippets
}

// PublishPattern writes a promoted pattern into the LearnedPattern
// collection so future searches can retrieve it.
func (c *Client) PublishPattern(ctx context.Context, pattern datatypes.Pattern) error {
	_, err := c.weaviate.Data().Creator().
		WithClassName(datatypes.LearnedPatternClass).
		WithID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(pattern.ID)).String()).
		WithProperties(map[string]interface{}{
			"content":     pattern.CanonicalText,
			"pattern_id":  pattern.ID,
			"category":    string(pattern.Category),
			"value_score": pattern.ValueScore,
			"promoted_at": time.Now().UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: publish pattern %s: %v", ErrUnavailable, pattern.ID, err)
	}

	slog.Info("Published pattern to context store",
		"pattern_id", pattern.ID, "category", pattern.Category)
	return nil
}

// Ready reports whether the vector store answers its readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	ready, err := c.weaviate.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ready {
		return ErrUnavailable
	}
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
