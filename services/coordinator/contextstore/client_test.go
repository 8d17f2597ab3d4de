// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/contextstore/embedcache"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestNewClientRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not-a-url", "localhost:8080"} {
		_, err := NewClient(raw, Config{})
		assert.Error(t, err, "url %q", raw)
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 4, cfg.DefaultTopK)
	assert.InDelta(t, 0.5, cfg.MinScore, 1e-9)
	assert.Equal(t, []string{datatypes.ContextSnippetClass, datatypes.LearnedPatternClass},
		cfg.DefaultCollections)

	custom := applyConfigDefaults(Config{DefaultTopK: 7, MinScore: 0.3})
	assert.Equal(t, 7, custom.DefaultTopK)
	assert.InDelta(t, 0.3, custom.MinScore, 1e-9)
}

func graphqlResponse(collection string, objects ...map[string]interface{}) *models.GraphQLResponse {
	raw := make([]interface{}, len(objects))
	for i, o := range objects {
		raw[i] = interface{}(o)
	}
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				collection: raw,
			},
		},
	}
}

func TestParseSnippetsFiltersAndExtracts(t *testing.T) {
	resp := graphqlResponse("ContextSnippet",
		map[string]interface{}{
			"content": "add :z or :Z suffix to volume mount to fix SELinux relabeling",
			"source":  "runbooks/podman.md",
			"_additional": map[string]interface{}{
				"id":        "snip-1",
				"certainty": 0.83,
			},
		},
		map[string]interface{}{
			"content": "irrelevant low-confidence snippet",
			"_additional": map[string]interface{}{
				"id":        "snip-2",
				"certainty": 0.31,
			},
		},
		map[string]interface{}{
			// Malformed: no _additional at all, defaults to score 0.
			"content": "orphan",
		},
	)

	snippets := parseSnippets(resp, "ContextSnippet", 0.5)
	require.Len(t, snippets, 1)
	assert.Equal(t, "snip-1", snippets[0].ID)
	assert.InDelta(t, 0.83, snippets[0].Score, 1e-9)
	assert.Equal(t, "ContextSnippet", snippets[0].Collection)
	assert.Equal(t, "runbooks/podman.md", snippets[0].Metadata["source"])
}

func TestFirstGraphQLError(t *testing.T) {
	assert.Empty(t, firstGraphQLError(nil))
	assert.Equal(t, "vectorizer down",
		firstGraphQLError([]*models.GraphQLError{nil, {Message: "vectorizer down"}}))
	assert.Equal(t, "unknown graphql error",
		firstGraphQLError([]*models.GraphQLError{nil}),
		"a nil element must not panic the search path")
}

func TestParseSnippetsEmptyResponse(t *testing.T) {
	assert.Empty(t, parseSnippets(&models.GraphQLResponse{}, "ContextSnippet", 0.5))
}

// A cache hit must be served without touching the vector store at all.
// The client here has no usable Weaviate connection, so reaching it
// would fail the test.
func TestSearchServedFromCache(t *testing.T) {
	cache, err := embedcache.Open(embedcache.Config{InMemory: true, TTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()

	cached := []datatypes.Snippet{
		{ID: "snip-1", Text: "cached snippet", Score: 0.9, Collection: "ContextSnippet"},
	}
	data, err := json.Marshal(cached)
	require.NoError(t, err)

	collections := []string{"ContextSnippet"}
	require.NoError(t, cache.Set(embedcache.Key("hello", collections, 4), data))

	client := NewClientWith(nil, Config{Cache: cache})
	got, err := client.Search(context.Background(), "hello", collections, 4)
	require.NoError(t, err)
	assert.Equal(t, cached, got)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	client := NewClientWith(nil, Config{})
	_, err := client.Search(context.Background(), "", nil, 0)
	assert.Error(t, err)
}
