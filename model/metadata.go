package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncMetadata is the bookkeeping the backend keeps for every record.
type SyncMetadata struct {
	ID            string `json:"id"`
	Version       int    `json:"_version"`
	Deleted       bool   `json:"_deleted"`
	LastChangedAt int64  `json:"_lastChangedAt"` // epoch milliseconds
}

// LastChanged returns LastChangedAt as a time.
func (m SyncMetadata) LastChanged() time.Time {
	return time.UnixMilli(m.LastChangedAt)
}

// ModelWithMetadata pairs a model value with its sync metadata. On the wire
// the metadata fields sit next to the model fields in the same object.
type ModelWithMetadata[T Model] struct {
	Model    T
	Metadata SyncMetadata
}

// UnmarshalJSON decodes the flattened record into both halves.
func (m *ModelWithMetadata[T]) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.Model); err != nil {
		return fmt.Errorf("failed to decode model %T: %w", m.Model, err)
	}
	if err := json.Unmarshal(data, &m.Metadata); err != nil {
		return fmt.Errorf("failed to decode sync metadata: %w", err)
	}
	return nil
}

// MarshalJSON writes the model fields with the metadata merged in.
func (m ModelWithMetadata[T]) MarshalJSON() ([]byte, error) {
	modelJSON, err := json.Marshal(m.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(modelJSON, &fields); err != nil {
		return nil, fmt.Errorf("model %T does not encode as a JSON object: %w", m.Model, err)
	}

	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync metadata: %w", err)
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, err
	}

	for k, v := range meta {
		if k == "id" {
			if _, ok := fields[k]; ok {
				continue
			}
		}
		fields[k] = v
	}

	return json.Marshal(fields)
}

// PaginatedResult is one page of records plus continuation state.
type PaginatedResult[T any] struct {
	Items     []T     `json:"items"`
	NextToken *string `json:"nextToken,omitempty"`
	StartedAt int64   `json:"startedAt,omitempty"`
}

// HasNextResult reports whether the backend has more pages.
func (p PaginatedResult[T]) HasNextResult() bool {
	return p.NextToken != nil && *p.NextToken != ""
}
