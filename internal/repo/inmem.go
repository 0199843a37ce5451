package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/tinoosan/vodcache/internal/data"
)

type InMemoryAssetRepo struct {
	mu     sync.RWMutex
	assets map[string]*data.Asset
}

func NewInMemoryAssetRepo() *InMemoryAssetRepo {
	return &InMemoryAssetRepo{assets: make(map[string]*data.Asset)}
}

// List returns copies ordered by id.
func (r *InMemoryAssetRepo) List(ctx context.Context) (data.Assets, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Assets, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryAssetRepo) Get(ctx context.Context, id string) (*data.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *InMemoryAssetRepo) Upsert(ctx context.Context, id string, mutate func(*data.Asset) error) (*data.Asset, error) {
	id, err := data.ValidateAssetID(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := &data.Asset{ID: id, Status: data.KindNotStarted}
	if cur, ok := r.assets[id]; ok {
		next = cur.Clone()
	}
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = id
	r.assets[id] = next
	return next.Clone(), nil
}

func (r *InMemoryAssetRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[id]; !ok {
		return data.ErrNotFound
	}
	delete(r.assets, id)
	return nil
}
