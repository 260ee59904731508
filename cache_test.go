package pagesync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testListEntity(id string, title string, containerId string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		Id:          id,
		Title:       title,
		ContainerId: containerId,
		CreateTime:  now,
		UpdateTime:  now,
	}
}

func TestCacheRefetchOnInvalidate(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, queryKey QueryKey) (*Entity, *Collection, error) {
		fetches += 1
		return nil, &Collection{
			Items: []*Entity{testListEntity("d1", "one", "c1")},
			Total: 1,
		}, nil
	}
	cache := NewCacheStore(context.Background(), fetch)

	queryKey := QueryKey{"documents", "c1"}
	collection, err := cache.GetCollection(queryKey)
	assert.Equal(t, err, nil)
	assert.Equal(t, collection.Total, 1)
	assert.Equal(t, fetches, 1)

	// loaded and fresh; no refetch
	_, err = cache.GetCollection(queryKey)
	assert.Equal(t, err, nil)
	assert.Equal(t, fetches, 1)

	cache.InvalidatePrefix(QueryKey{"documents"})
	_, err = cache.GetCollection(queryKey)
	assert.Equal(t, err, nil)
	assert.Equal(t, fetches, 2)
}

func TestCachePrefixInvalidation(t *testing.T) {
	cache := NewCacheStore(context.Background(), nil)

	cache.SetCollection(QueryKey{"documents", "c1"}, &Collection{})
	cache.SetCollection(QueryKey{"documents", "c2"}, &Collection{})
	cache.SetCollection(QueryKey{"recent"}, &Collection{})

	invalidated := cache.InvalidatePrefix(QueryKey{"documents"})
	assert.Equal(t, invalidated, 2)
	assert.Equal(t, cache.Loaded(QueryKey{"documents", "c1"}), false)
	assert.Equal(t, cache.Loaded(QueryKey{"documents", "c2"}), false)
	assert.Equal(t, cache.Loaded(QueryKey{"recent"}), true)

	// already stale entries are not counted twice
	invalidated = cache.InvalidatePrefix(QueryKey{"documents"})
	assert.Equal(t, invalidated, 0)
}

func TestCacheReadsCopy(t *testing.T) {
	cache := NewCacheStore(context.Background(), nil)

	cache.SetCollection(QueryKey{"documents", "c1"}, &Collection{
		Items: []*Entity{testListEntity("d1", "one", "c1")},
		Total: 1,
	})

	collection, err := cache.GetCollection(QueryKey{"documents", "c1"})
	assert.Equal(t, err, nil)
	collection.Items[0].Title = "mutated"

	collection2, err := cache.GetCollection(QueryKey{"documents", "c1"})
	assert.Equal(t, err, nil)
	assert.Equal(t, collection2.Items[0].Title, "one")
}

func TestCacheEvict(t *testing.T) {
	cache := NewCacheStore(context.Background(), nil)

	cache.SetEntity(QueryKey{"document", "d1"}, testListEntity("d1", "one", "c1"))
	assert.Equal(t, cache.Loaded(QueryKey{"document", "d1"}), true)

	cache.Evict(QueryKey{"document", "d1"})
	assert.Equal(t, cache.Loaded(QueryKey{"document", "d1"}), false)

	entity, err := cache.GetEntity(QueryKey{"document", "d1"})
	assert.Equal(t, err, nil)
	if entity != nil {
		t.Fatal("evicted entity still readable")
	}
}
