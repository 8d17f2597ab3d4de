// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// ExportRecord is one line of the fine-tuning dataset.
type ExportRecord struct {
	PatternID      string                    `json:"pattern_id"`
	Category       datatypes.PatternCategory `json:"category"`
	CanonicalText  string                    `json:"canonical_text"`
	ValueScore     float64                   `json:"value_score"`
	SourceEventIDs []string                  `json:"source_event_ids"`
	ExportedAt     time.Time                 `json:"exported_at"`
}

// JSONLExporter appends pattern records to the fine-tuning dataset,
// one JSON object per line. Rotation and versioning of the file are
// an external concern; the exporter only appends.
//
// Safe for concurrent use, though in practice only the single-flight
// extraction run writes to it.
type JSONLExporter struct {
	path string
	mu   sync.Mutex
}

// NewJSONLExporter creates an exporter writing to path. The parent
// directory is created if missing.
func NewJSONLExporter(path string) (*JSONLExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("export path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create export directory %s: %w", dir, err)
		}
	}
	return &JSONLExporter{path: path}, nil
}

// Append writes one record. The file is opened per call so an
// operator can rotate it between runs without coordination.
func (e *JSONLExporter) Append(record ExportRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode export record %s: %w", record.PatternID, err)
	}

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open export file %s: %w", e.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append export record %s: %w", record.PatternID, err)
	}
	return nil
}
