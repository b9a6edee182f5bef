package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrWriteRejected is returned when the store refuses or fails a write.
	ErrWriteRejected = errors.New("write rejected by store")
	// ErrSubscription is reported by a subscription whose snapshot read failed.
	ErrSubscription = errors.New("subscription failed")
	// ErrInvalidPath is returned for empty paths or segments with reserved characters.
	ErrInvalidPath = errors.New("invalid store path")
	// ErrMissing is returned by UpdateExisting when nothing is stored at the guard path.
	ErrMissing = errors.New("nothing stored at path")
)

// Store is a path-addressable hierarchical key-value store with subscriptions.
//
// Paths are slash separated ("students/<id>/name"). Values are JSON-shaped trees:
// maps become children, scalars become leaves, nil deletes.
type Store interface {
	// Get reads the full subtree at path.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Subscribe delivers the current subtree at path immediately and again on every change.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
	// Update atomically applies every absolute path -> value pair. A nil value deletes the path.
	Update(ctx context.Context, updates map[string]any) error
	// UpdateExisting is Update applied only if something is stored at path, checked
	// in the same atomic step. Otherwise it writes nothing and returns ErrMissing.
	UpdateExisting(ctx context.Context, path string, updates map[string]any) error
	// Push writes value under a freshly generated child id of path and returns the id.
	Push(ctx context.Context, path string, value any) (string, error)
	// NewID generates a child id without writing anything.
	NewID() string
}

// Snapshot is the full value at a path at one point in time.
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether anything is stored at the snapshot's path.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Keys returns the snapshot's child keys in ascending order. Push ids sort in creation order.
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(key string) Snapshot {
	child := Snapshot{Path: JoinPath(s.Path, key)}
	if m, ok := s.Value.(map[string]any); ok {
		child.Value = m[key]
	}
	return child
}

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	raw, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", s.Path, err)
	}
	return nil
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		if seg == "" || strings.ContainsAny(seg, ".#$[]\n") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// JoinPath joins path segments with "/", skipping empty ones.
func JoinPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// Overlaps reports whether a change at one path can affect the subtree at the other.
func Overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// normalize converts structs and typed maps into the generic JSON tree shape.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten writes every leaf of v under field into out, JSON encoded.
func flatten(field string, v any, out map[string]string) error {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range t {
			if k == "" || strings.ContainsAny(k, "/.#$[]\n") {
				return fmt.Errorf("%w: key %q", ErrInvalidPath, k)
			}
			if err := flatten(joinField(field, k), child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, child := range t {
			if err := flatten(joinField(field, fmt.Sprint(i)), child, out); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		out[field] = string(raw)
		return nil
	}
}

// unflatten rebuilds the subtree at prefix from a hash of leaf fields.
func unflatten(prefix string, fields map[string]string) (any, error) {
	var root any
	for field, raw := range fields {
		var rel string
		switch {
		case prefix == "":
			rel = field
		case field == prefix:
			rel = ""
		case strings.HasPrefix(field, prefix+"/"):
			rel = strings.TrimPrefix(field, prefix+"/")
		default:
			continue
		}
		var leaf any
		if err := json.Unmarshal([]byte(raw), &leaf); err != nil {
			return nil, fmt.Errorf("corrupt leaf %q: %w", field, err)
		}
		if rel == "" {
			root = leaf
			continue
		}
		m, ok := root.(map[string]any)
		if !ok {
			m = map[string]any{}
			root = m
		}
		segs := strings.Split(rel, "/")
		for _, seg := range segs[:len(segs)-1] {
			next, ok := m[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[seg] = next
			}
			m = next
		}
		m[segs[len(segs)-1]] = leaf
	}
	return root, nil
}

func joinField(a, b string) string {
	if a == "" {
		return b
	}
	return a + "/" + b
}
