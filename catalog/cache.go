// Package catalog implements the cache manager and placeholder
// reconciler: a per-provider remote-listing cache that is the
// single source of truth for remote state between fetches, and the pure
// function that merges it with local volumes into one derived view.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package catalog

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/mokuroreader/corestore/model"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshot is one provider's cache contents, persisted lz4-compressed on
// disk and held in memory as a plain map for O(1) lookups.
type snapshot struct {
	byFileID map[string]model.RemoteFileMetadata
}

// ProviderCache is a single provider's remote-listing cache.
type ProviderCache struct {
	provider string
	cur      atomic.Value // holds *snapshot
}

// NewProviderCache starts with an empty snapshot.
func NewProviderCache(providerName string) *ProviderCache {
	c := &ProviderCache{provider: providerName}
	c.cur.Store(&snapshot{byFileID: map[string]model.RemoteFileMetadata{}})
	return c
}

// Replace atomically swaps in an entirely new listing, used after a full
// listCloudVolumes refresh.
func (c *ProviderCache) Replace(files []model.RemoteFileMetadata) {
	next := &snapshot{byFileID: make(map[string]model.RemoteFileMetadata, len(files))}
	for _, f := range files {
		next.byFileID[f.FileID] = f
	}
	c.cur.Store(next)
}

// Upsert adds or overwrites one optimistic entry without touching the rest of
// the snapshot. Because the field is an atomic.Value, this builds a new
// snapshot from the old one and swaps it in — readers never see a partial
// update.
func (c *ProviderCache) Upsert(f model.RemoteFileMetadata) {
	old := c.snap()
	next := &snapshot{byFileID: make(map[string]model.RemoteFileMetadata, len(old.byFileID)+1)}
	for k, v := range old.byFileID {
		next.byFileID[k] = v
	}
	next.byFileID[f.FileID] = f
	c.cur.Store(next)
}

// Invalidate drops one entry.
func (c *ProviderCache) Invalidate(fileID string) {
	old := c.snap()
	if _, ok := old.byFileID[fileID]; !ok {
		return
	}
	next := &snapshot{byFileID: make(map[string]model.RemoteFileMetadata, len(old.byFileID))}
	for k, v := range old.byFileID {
		if k != fileID {
			next.byFileID[k] = v
		}
	}
	c.cur.Store(next)
}

// All returns every cached entry as an independent slice.
func (c *ProviderCache) All() []model.RemoteFileMetadata {
	s := c.snap()
	out := make([]model.RemoteFileMetadata, 0, len(s.byFileID))
	for _, v := range s.byFileID {
		out = append(out, v)
	}
	return out
}

func (c *ProviderCache) snap() *snapshot { return c.cur.Load().(*snapshot) }

// Marshal lz4-compresses a JSON encoding of the current snapshot, for
// persisting across process restarts.
func (c *ProviderCache) Marshal() ([]byte, error) {
	raw, err := json.Marshal(c.All())
	if err != nil {
		return nil, errors.Wrap(err, "catalog: marshal cache")
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "catalog: lz4 compress cache")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "catalog: lz4 close")
	}
	return buf.Bytes(), nil
}

// UnmarshalInto decompresses data written by Marshal and replaces c's
// snapshot.
func (c *ProviderCache) UnmarshalInto(data []byte) error {
	zr := lz4.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return errors.Wrap(err, "catalog: lz4 decompress cache")
	}
	var files []model.RemoteFileMetadata
	if err := json.Unmarshal(buf.Bytes(), &files); err != nil {
		return errors.Wrap(err, "catalog: unmarshal cache")
	}
	c.Replace(files)
	return nil
}

// Registry holds one ProviderCache per provider name, created lazily.
// Creation is guarded by a mutex; lookups of an already-created cache only
// touch the atomic.Value inside it.
type Registry struct {
	mu     sync.Mutex
	caches map[string]*ProviderCache
}

func NewRegistry() *Registry {
	return &Registry{caches: map[string]*ProviderCache{}}
}

func (r *Registry) Get(provider string) *ProviderCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[provider]; ok {
		return c
	}
	c := NewProviderCache(provider)
	r.caches[provider] = c
	return c
}
