package repository

import (
	"context"

	"wwnotes-sync/internal/domain"
)

// RemoteStore is the single shared blob every node reads and overwrites.
// Implementations return domain.ErrNotFound when the blob was never
// initialized and a *domain.RemoteError for everything else.
type RemoteStore interface {
	FetchSnapshot(ctx context.Context) (domain.Snapshot, error)
	ReplaceSnapshot(ctx context.Context, docs []domain.Document) error
}

func notFound(op string) error {
	return &domain.RemoteError{Op: op, Err: domain.ErrNotFound}
}

func transient(op string, status int, err error) error {
	if err == nil {
		err = domain.ErrTransient
	}
	return &domain.RemoteError{Op: op, StatusCode: status, Err: err}
}
