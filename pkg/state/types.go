package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

var ErrInvalidRef = errors.New("state: invalid ref")

// Ref identifies one checkpoint: a namespace (for example the actor kind) and
// the id of the session that owns it.
type Ref struct {
	Namespace string
	ID        string
}

// Meta is storage-owned metadata used for audit trails and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty" cbor:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty" cbor:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty" cbor:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty" cbor:"extra,omitempty"`
}

// Store loads, saves and deletes one checkpoint per Ref.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}

// Resolver layers optimistic concurrency and defaults over a Store.
type Resolver[T any] struct {
	Store Store[T]
}

type Mutator[T any] func(*T) error

// Identifier returns the canonical storage key "namespace/id".
func (r Ref) Identifier() (string, error) {
	namespace := strings.TrimSpace(r.Namespace)
	id := strings.TrimSpace(r.ID)
	if namespace == "" {
		return "", fmt.Errorf("%w: namespace is required", ErrInvalidRef)
	}
	if id == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidRef)
	}
	if strings.Contains(namespace, "/") {
		return "", fmt.Errorf("%w: namespace %q must not contain '/'", ErrInvalidRef, namespace)
	}
	return namespace + "/" + id, nil
}

// Resolve loads the checkpoint for ref. When none exists it returns defaults
// with ok=false.
func (r Resolver[T]) Resolve(ctx context.Context, ref Ref, defaults T) (T, Meta, bool, error) {
	if r.Store == nil {
		return defaults, Meta{}, false, fmt.Errorf("state: store is required")
	}
	snapshot, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return defaults, Meta{}, false, fmt.Errorf("state: load %s/%s: %w", ref.Namespace, ref.ID, err)
	}
	if !ok {
		return defaults, Meta{}, false, nil
	}
	return snapshot, meta, true, nil
}

// Mutate loads the checkpoint for ref, applies fn and saves the result. A
// non-empty meta.ETag must match the stored ETag.
func (r Resolver[T]) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if r.Store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return zero, Meta{}, err
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %s/%s: %w", ref.Namespace, ref.ID, err)
	}
	if !ok {
		snapshot = zero
		loadedMeta = Meta{}
	}

	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return zero, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loadedMeta, err
	}

	saveMeta := mergeMeta(loadedMeta, meta)
	// the stored ETag is recomputed from the new content
	saveMeta.ETag = ""
	savedMeta, err := r.Store.Save(ctx, ref, snapshot, saveMeta)
	if err != nil {
		return zero, loadedMeta, fmt.Errorf("state: save %s/%s: %w", ref.Namespace, ref.ID, err)
	}
	return snapshot, savedMeta, nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}

// stamp fills the ETag from the snapshot fingerprint and UpdatedAt from now
// when the caller left them empty.
func stamp[T any](snapshot T, meta Meta, now func() time.Time) (Meta, error) {
	out := cloneMeta(meta)
	if out.ETag == "" {
		etag, err := Fingerprint(snapshot)
		if err != nil {
			return Meta{}, err
		}
		out.ETag = etag
	}
	if out.UpdatedAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		out.UpdatedAt = now().UTC()
	}
	return out, nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}
