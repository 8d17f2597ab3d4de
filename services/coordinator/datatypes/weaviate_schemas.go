// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names used by the coordinator.
const (
	// ContextSnippetClass holds retrievable knowledge snippets. The
	// coordinator reads it during augmentation but never writes it.
	ContextSnippetClass = "ContextSnippet"

	// LearnedPatternClass receives patterns promoted by the extraction
	// worker, so future queries can retrieve them like any other
	// snippet.
	LearnedPatternClass = "LearnedPattern"
)

// GetContextSnippetSchema returns the class definition for retrievable
// context snippets.
func GetContextSnippetSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ContextSnippetClass,
		Description: "A retrievable knowledge snippet used to augment queries.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The snippet text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Origin of the snippet (file path, URL, or ingest job id).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "collection",
				DataType:        []string{"text"},
				Description:     "Logical collection name for scoped retrieval.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the snippet was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetLearnedPatternSchema returns the class definition for patterns
// published by the extraction worker.
func GetLearnedPatternSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LearnedPatternClass,
		Description: "A high-value pattern distilled from interaction telemetry.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Canonical pattern text.",
				Tokenization: "word",
			},
			{
				Name:            "pattern_id",
				DataType:        []string{"text"},
				Description:     "Pattern id in the telemetry store.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Pattern category: skill, error-solution, or best-practice.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "value_score",
				DataType:        []string{"number"},
				Description:     "Value score at promotion time.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "promoted_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the pattern was published.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the coordinator's classes if they do not
// already exist. Missing classes are created; existing classes are left
// untouched. Failures are logged and skipped so the service can start
// in a degraded mode when the vector store is unavailable.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemas := []func() *models.Class{
		GetContextSnippetSchema,
		GetLearnedPatternSchema,
	}

	for _, getSchema := range schemas {
		class := getSchema()

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err == nil {
			continue
		}

		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			slog.Warn("Failed to create Weaviate class, continuing without it",
				"class", class.Class, "error", err)
			continue
		}
		slog.Info("Created Weaviate class", "class", class.Class)
	}
}
