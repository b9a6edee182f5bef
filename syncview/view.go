// Package syncview mirrors store collections into memory and issues writes back to them.
//
// A View subscribes to one path and replaces its local array with every snapshot the
// store pushes. Writes are never applied locally: their effect shows up only once the
// store echoes the new snapshot.
package syncview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"attendance-console-go/db"
)

var (
	// ErrClosed is returned by Open on a view that was already closed.
	ErrClosed = errors.New("view closed")
	// ErrNotFound is returned for updates addressed to a missing id.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidInput is returned for malformed commands.
	ErrInvalidInput = errors.New("invalid input")
)

// ExpandFunc turns one child of the subscribed path into zero or more items.
type ExpandFunc[T any] func(key string, child db.Snapshot) ([]T, error)

// View is a live mirror of one store path.
type View[T any] struct {
	store  db.Store
	path   string
	expand ExpandFunc[T]
	fields map[string]bool // updatable fields; nil allows any
	log    *zap.Logger

	mu      sync.RWMutex
	items   []T
	loading bool
	err     error
	sub     *db.Subscription
	closed  bool
	done    chan struct{}
}

// NewView creates a view of path. It stays empty and loading until Open.
func NewView[T any](store db.Store, path string, expand ExpandFunc[T], log *zap.Logger) *View[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &View[T]{
		store:   store,
		path:    path,
		expand:  expand,
		log:     log.With(zap.String("path", path)),
		loading: true,
		done:    make(chan struct{}),
	}
}

// Path returns the mirrored path.
func (v *View[T]) Path() string {
	return v.path
}

// Open subscribes to the path and keeps the mirror current until Close or ctx ends.
func (v *View[T]) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed || v.sub != nil {
		v.mu.Unlock()
		return ErrClosed
	}
	sub, err := v.store.Subscribe(ctx, v.path)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.sub = sub
	v.mu.Unlock()

	go v.run(sub)
	return nil
}

func (v *View[T]) run(sub *db.Subscription) {
	defer close(v.done)
	for snap := range sub.C() {
		items := v.Decode(snap)
		v.mu.Lock()
		v.items = items
		v.loading = false
		v.mu.Unlock()
	}
	if err := sub.Err(); err != nil {
		v.log.Error("subscription ended", zap.Error(err))
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
	}
}

// Decode expands a snapshot of the view's path into items without touching the mirror.
func (v *View[T]) Decode(snap db.Snapshot) []T {
	keys := snap.Keys()
	items := make([]T, 0, len(keys))
	for _, key := range keys {
		expanded, err := v.expand(key, snap.Child(key))
		if err != nil {
			v.log.Warn("skipping undecodable child", zap.String("key", key), zap.Error(err))
			continue
		}
		items = append(items, expanded...)
	}
	return items
}

// Close releases the subscription. The last mirrored items stay readable.
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-v.done
	}
}

// Items returns a copy of the most recently delivered snapshot, in arrival order.
func (v *View[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]T, len(v.items))
	copy(out, v.items)
	return out
}

// Loading reports whether no snapshot has arrived yet.
func (v *View[T]) Loading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading
}

// Err returns the error that ended the subscription, if any.
func (v *View[T]) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Create writes input under a new id and returns the id once the store acknowledged it.
func (v *View[T]) Create(ctx context.Context, input any) (string, error) {
	id, err := v.store.Push(ctx, v.path, input)
	if err != nil {
		return "", fmt.Errorf("create in %s: %w", v.path, err)
	}
	return id, nil
}

// Update merges fields into the record at id. The record must exist when the write
// lands; an update racing a delete fails with ErrNotFound instead of leaving a partial record.
func (v *View[T]) Update(ctx context.Context, id string, fields map[string]any) error {
	if !validID(id) || len(fields) == 0 {
		return fmt.Errorf("%w: update needs an id and at least one field", ErrInvalidInput)
	}
	updates := make(map[string]any, len(fields))
	for field, value := range fields {
		if v.fields != nil && !v.fields[field] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, field)
		}
		updates[db.JoinPath(v.path, id, field)] = value
	}
	err := v.store.UpdateExisting(ctx, db.JoinPath(v.path, id), updates)
	if errors.Is(err, db.ErrMissing) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", v.path, id, err)
	}
	return nil
}

// Delete removes the subtree at id. Deleting a missing id is not an error.
func (v *View[T]) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: bad id %q", ErrInvalidInput, id)
	}
	if err := v.store.Update(ctx, map[string]any{db.JoinPath(v.path, id): nil}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", v.path, id, err)
	}
	return nil
}

// validID reports whether id can be used as a single path segment.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/.#$[]\n")
}
