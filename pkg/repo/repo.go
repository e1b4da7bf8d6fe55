// Package repo defines the generic graph Repository interface and list options.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node has the id.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic keyed node store with idempotent writes.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	// Upsert creates the node or overwrites its properties.
	Upsert(ctx context.Context, entity T) error
	// Link merges a relationship from the node id to a node of another label.
	Link(ctx context.Context, from ID, rel, toLabel string, to any) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}
