package pagesync

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// a structured query key, e.g. {"documents", containerId}, {"recent"},
// {"recent", containerId}, {"document", id}, {"tasks", projectId}
type QueryKey []string

func (self QueryKey) String() string {
	return strings.Join(self, "/")
}

func (self QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(self) < len(prefix) {
		return false
	}
	for i := range prefix {
		if self[i] != prefix[i] {
			return false
		}
	}
	return true
}

// recency views move an updated entity to the front instead of replacing it
// in place
func (self QueryKey) recency() bool {
	return 0 < len(self) && self[0] == "recent"
}

// tasks views keep items sorted by ordering key
func (self QueryKey) manuallyOrdered() bool {
	return 0 < len(self) && self[0] == "tasks"
}

// an ordered collection of entities with the server's total count, which can
// exceed the loaded window
type Collection struct {
	Items []*Entity
	Total int
}

func (self *Collection) Copy() *Collection {
	items := make([]*Entity, len(self.Items))
	for i, item := range self.Items {
		items[i] = item.Copy()
	}
	return &Collection{
		Items: items,
		Total: self.Total,
	}
}

func (self *Collection) indexOf(entityId string) int {
	return slices.IndexFunc(self.Items, func(item *Entity) bool {
		return item.Id == entityId
	})
}

// (ctx, queryKey) -> (entity, collection, error). exactly one of entity and
// collection is set for a successful fetch.
type FetchFunction func(ctx context.Context, queryKey QueryKey) (*Entity, *Collection, error)

type cacheEntry struct {
	queryKey   QueryKey
	entity     *Entity
	collection *Collection
	stale      bool
}

// CacheStore holds the named, query-keyed read models kept consistent with
// the server. entries are denormalized: one entity may appear in any number
// of entries at once. all writers merge by entity id, never by position.
type CacheStore struct {
	ctx context.Context

	fetch FetchFunction

	mutex   sync.Mutex
	entries map[string]*cacheEntry
}

func NewCacheStore(ctx context.Context, fetch FetchFunction) *CacheStore {
	return &CacheStore{
		ctx:     ctx,
		fetch:   fetch,
		entries: map[string]*cacheEntry{},
	}
}

func (self *CacheStore) SetEntity(queryKey QueryKey, entity *Entity) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.entries[queryKey.String()] = &cacheEntry{
		queryKey: queryKey,
		entity:   entity.Copy(),
	}
}

func (self *CacheStore) SetCollection(queryKey QueryKey, collection *Collection) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.entries[queryKey.String()] = &cacheEntry{
		queryKey:   queryKey,
		collection: collection.Copy(),
	}
}

// GetEntity returns the cached entity, refetching when the entry is missing
// or stale
func (self *CacheStore) GetEntity(queryKey QueryKey) (*Entity, error) {
	self.mutex.Lock()
	entry, ok := self.entries[queryKey.String()]
	if ok && !entry.stale && entry.entity != nil {
		entity := entry.entity.Copy()
		self.mutex.Unlock()
		return entity, nil
	}
	self.mutex.Unlock()

	if self.fetch == nil {
		return nil, nil
	}
	entity, _, err := self.fetch(self.ctx, queryKey)
	if err != nil {
		return nil, err
	}
	if entity != nil {
		self.SetEntity(queryKey, entity)
	}
	return entity, nil
}

// GetCollection returns the cached collection, refetching when the entry is
// missing or stale
func (self *CacheStore) GetCollection(queryKey QueryKey) (*Collection, error) {
	self.mutex.Lock()
	entry, ok := self.entries[queryKey.String()]
	if ok && !entry.stale && entry.collection != nil {
		collection := entry.collection.Copy()
		self.mutex.Unlock()
		return collection, nil
	}
	self.mutex.Unlock()

	if self.fetch == nil {
		return nil, nil
	}
	_, collection, err := self.fetch(self.ctx, queryKey)
	if err != nil {
		return nil, err
	}
	if collection != nil {
		self.SetCollection(queryKey, collection)
	}
	return collection, nil
}

// whether the entry is currently loaded and not stale
func (self *CacheStore) Loaded(queryKey QueryKey) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[queryKey.String()]
	return ok && !entry.stale
}

// InvalidatePrefix marks every entry whose key starts with prefix as stale.
// the next read refetches. this is the always-correct fallback.
func (self *CacheStore) InvalidatePrefix(prefix QueryKey) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	invalidated := 0
	for _, entry := range self.entries {
		if entry.queryKey.HasPrefix(prefix) && !entry.stale {
			entry.stale = true
			invalidated += 1
		}
	}
	if 0 < invalidated {
		glog.V(2).Infof("[c]invalidate %s (%d entries)\n", prefix, invalidated)
	}
	return invalidated
}

func (self *CacheStore) Evict(queryKey QueryKey) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.entries, queryKey.String())
}

func (self *CacheStore) Keys() []QueryKey {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	keys := []QueryKey{}
	for _, entry := range self.entries {
		keys = append(keys, entry.queryKey)
	}
	return keys
}

// an optimistic overwrite must not be regressed by a stale event payload.
// compare the server version counter when both sides carry one, otherwise
// last writer wins.
func shouldReplace(current *Entity, next *Entity) bool {
	if current.Version != 0 && next.Version != 0 {
		return current.Version <= next.Version
	}
	return true
}

// insertEntity prepends the entity to every loaded, non-stale collection
// entry matching the selector, unless an entity with the same id is already
// present. returns the number of patched entries.
func (self *CacheStore) insertEntity(selector func(QueryKey) bool, entity *Entity) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	patched := 0
	for _, entry := range self.entries {
		if entry.collection == nil || entry.stale || !selector(entry.queryKey) {
			continue
		}
		if 0 <= entry.collection.indexOf(entity.Id) {
			// idempotent insert
			continue
		}
		entry.collection.Items = append([]*Entity{entity.Copy()}, entry.collection.Items...)
		entry.collection.Total += 1
		if entry.queryKey.manuallyOrdered() {
			slices.SortFunc(entry.collection.Items, CompareOrdered)
		}
		patched += 1
	}
	return patched
}

// updateEntity replaces the entity by id in every loaded collection entry
// matching the selector, moving it to the front for recency views. the
// single-entity entry for the id is updated too. returns the number of
// patched entries.
func (self *CacheStore) updateEntity(selector func(QueryKey) bool, entity *Entity) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	patched := 0
	for _, entry := range self.entries {
		if entry.stale || !selector(entry.queryKey) {
			continue
		}
		if entry.entity != nil {
			if entry.entity.Id == entity.Id && shouldReplace(entry.entity, entity) {
				entry.entity = entity.Copy()
				patched += 1
			}
			continue
		}
		i := entry.collection.indexOf(entity.Id)
		if i < 0 {
			continue
		}
		if !shouldReplace(entry.collection.Items[i], entity) {
			continue
		}
		if entry.queryKey.recency() {
			entry.collection.Items = slices.Delete(entry.collection.Items, i, i+1)
			entry.collection.Items = append([]*Entity{entity.Copy()}, entry.collection.Items...)
		} else {
			entry.collection.Items[i] = entity.Copy()
			if entry.queryKey.manuallyOrdered() {
				slices.SortFunc(entry.collection.Items, CompareOrdered)
			}
		}
		patched += 1
	}
	return patched
}

// removeEntity removes the entity by id from every loaded collection entry
// and evicts any single-entity entry for the id. returns the number of
// patched entries.
func (self *CacheStore) removeEntity(entityId string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	patched := 0
	for entryKey, entry := range self.entries {
		if entry.entity != nil {
			if entry.entity.Id == entityId {
				delete(self.entries, entryKey)
				patched += 1
			}
			continue
		}
		if entry.stale {
			continue
		}
		i := entry.collection.indexOf(entityId)
		if i < 0 {
			continue
		}
		entry.collection.Items = slices.Delete(entry.collection.Items, i, i+1)
		entry.collection.Total -= 1
		patched += 1
	}
	return patched
}
