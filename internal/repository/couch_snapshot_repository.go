package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wwnotes-sync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type couchSnapshotRepository struct {
	db        *kivik.DB
	docID     string
	validator *snapshotValidator
	now       func() time.Time
}

type snapshotDoc struct {
	ID          string            `json:"_id"`
	Rev         string            `json:"_rev,omitempty"`
	DocType     string            `json:"doc_type"`
	Documents   []domain.Document `json:"documents"`
	LastUpdated time.Time         `json:"lastUpdated"`
	TotalCount  int               `json:"totalCount"`
}

// NewCouchSnapshotRepository keeps the shared catalog as one CouchDB
// document, snapshot:<storeID>.
func NewCouchSnapshotRepository(client *kivik.Client, dbName, storeID string) (RemoteStore, error) {
	validator, err := newSnapshotValidator()
	if err != nil {
		return nil, err
	}
	return &couchSnapshotRepository{
		db:        client.DB(dbName),
		docID:     fmt.Sprintf("snapshot:%s", storeID),
		validator: validator,
		now:       time.Now,
	}, nil
}

func (r *couchSnapshotRepository) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	const op = "fetch snapshot"

	row := r.db.Get(ctx, r.docID)
	var raw json.RawMessage
	if err := row.ScanDoc(&raw); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.Snapshot{}, notFound(op)
		}
		return domain.Snapshot{}, transient(op, kivik.HTTPStatus(err), err)
	}

	snap, err := decodeSnapshot(r.validator, raw)
	if err != nil {
		return domain.Snapshot{}, transient(op, 0, err)
	}
	return snap, nil
}

// ReplaceSnapshot overwrites whatever revision is current. A conflict from a
// concurrent writer is retried once against the new revision.
func (r *couchSnapshotRepository) ReplaceSnapshot(ctx context.Context, docs []domain.Document) error {
	const op = "replace snapshot"
	snap := domain.NewSnapshot(docs, r.now())

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var rev string
		rev, err = r.currentRev(ctx)
		if err != nil {
			return transient(op, kivik.HTTPStatus(err), err)
		}

		doc := snapshotDoc{
			ID:          r.docID,
			Rev:         rev,
			DocType:     "snapshot",
			Documents:   snap.Documents,
			LastUpdated: snap.LastUpdated,
			TotalCount:  snap.TotalCount,
		}
		if _, err = r.db.Put(ctx, r.docID, doc); err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			break
		}
	}
	return transient(op, kivik.HTTPStatus(err), fmt.Errorf("failed to put snapshot: %w", err))
}

func (r *couchSnapshotRepository) currentRev(ctx context.Context) (string, error) {
	row := r.db.Get(ctx, r.docID)
	var existing struct {
		Rev string `json:"_rev"`
	}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return existing.Rev, nil
}
