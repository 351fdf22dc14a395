package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"wwnotes-sync/internal/domain"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const snapshotSchemaURL = "wwnotes://schema/snapshot.json"

// The envelope is checked loosely: records themselves are normalized on
// ingestion, so only the container shape is enforced here.
const snapshotSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "documents": {
      "type": "array",
      "items": { "type": ["object", "null"] }
    },
    "record": {
      "type": "object",
      "properties": {
        "documents": {
          "type": "array",
          "items": { "type": ["object", "null"] }
        }
      }
    },
    "lastUpdated": { "type": ["string", "null"] },
    "totalCount": { "type": ["integer", "null"] }
  }
}`

type snapshotValidator struct {
	schema *jsonschema.Schema
}

func newSnapshotValidator() (*snapshotValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to register snapshot schema: %w", err)
	}
	schema, err := c.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile snapshot schema: %w", err)
	}

	return &snapshotValidator{schema: schema}, nil
}

func (v *snapshotValidator) Validate(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid snapshot json: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("snapshot does not match schema: %w", err)
	}
	return nil
}

// decodeSnapshot accepts a bare envelope, one nested under "record", and the
// plain document array older pages wrote. Records that do not decode are
// logged and skipped.
func decodeSnapshot(v *snapshotValidator, data []byte) (domain.Snapshot, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return domain.Snapshot{}, fmt.Errorf("invalid snapshot json: %w", err)
		}
		return decodeRecords(raw, ""), nil
	}

	if v != nil {
		if err := v.Validate(data); err != nil {
			return domain.Snapshot{}, err
		}
	}

	var body struct {
		Documents   []json.RawMessage `json:"documents"`
		LastUpdated string            `json:"lastUpdated"`
		Record      *struct {
			Documents   []json.RawMessage `json:"documents"`
			LastUpdated string            `json:"lastUpdated"`
		} `json:"record"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return domain.Snapshot{}, fmt.Errorf("invalid snapshot json: %w", err)
	}

	raw, lastUpdated := body.Documents, body.LastUpdated
	if body.Record != nil && body.Record.Documents != nil {
		raw, lastUpdated = body.Record.Documents, body.Record.LastUpdated
	}

	return decodeRecords(raw, lastUpdated), nil
}

func decodeRecords(raw []json.RawMessage, lastUpdated string) domain.Snapshot {
	docs := make([]domain.Document, 0, len(raw))
	for i, r := range raw {
		if bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
			continue
		}
		var doc domain.Document
		if err := json.Unmarshal(r, &doc); err != nil {
			log.Printf("[Snapshot] skipping record %d: %v", i, err)
			continue
		}
		docs = append(docs, doc)
	}

	return domain.Snapshot{
		Documents:   docs,
		LastUpdated: domain.ParseTimestamp(lastUpdated),
		TotalCount:  len(docs),
	}
}
