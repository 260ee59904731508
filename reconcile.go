package pagesync

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

type patchStrategy string

const (
	// mutate loaded entries in place, merged by entity id
	strategyPatch patchStrategy = "patch"
	// mark entries stale so the next read refetches. always correct.
	strategyInvalidate patchStrategy = "invalidate"
)

// a cache-entry selector. prefix selectors match every entry under the
// prefix, which covers filtered and sorted variants of the same view. exact
// selectors match one entry, used where a prefix would leak into sibling
// scopes (the global recent view versus its container-scoped variants).
type cacheSelector struct {
	queryKey QueryKey
	exact    bool
}

func (self cacheSelector) matches(queryKey QueryKey) bool {
	if self.exact {
		return len(queryKey) == len(self.queryKey) && queryKey.HasPrefix(self.queryKey)
	}
	return queryKey.HasPrefix(self.queryKey)
}

// the cache entries an event applies to. a nil return means the event lacks
// the scope information the rule needs; the reconciler then falls back to
// invalidating the resource type's default prefixes rather than attempt a
// partial patch.
type selectorsFunction func(event *ResourceEvent) []cacheSelector

type patchRule struct {
	strategy  patchStrategy
	selectors selectorsFunction
}

type EventCallbackFunction func(event *ResourceEvent)

// Reconciler applies each routed event to the cache store: either a direct
// patch of the loaded entries or a coarse invalidation, chosen per
// (resource type, event kind) by a declarative rule table. adding a resource
// type is a table change, not new control flow.
type Reconciler struct {
	cache *CacheStore

	rules map[ResourceType]map[EventKind][]patchRule
	// safe fallback prefixes per resource type
	defaults map[ResourceType][]QueryKey

	mutex               sync.Mutex
	presenceCallbacks   map[int]EventCallbackFunction
	navigationCallbacks map[int]EventCallbackFunction
	nextCallbackId      int
}

func NewReconciler(cache *CacheStore) *Reconciler {
	return &Reconciler{
		cache:               cache,
		rules:               defaultReconcileRules(),
		defaults:            defaultInvalidatePrefixes(),
		presenceCallbacks:   map[int]EventCallbackFunction{},
		navigationCallbacks: map[int]EventCallbackFunction{},
	}
}

// RegisterWith installs the reconciler as the handler for every resource
// type in the rule table, plus the synthetic ui type.
func (self *Reconciler) RegisterWith(router *EventRouter) {
	for _, resourceType := range maps.Keys(self.rules) {
		router.Register(resourceType, self.Reconcile)
	}
	router.Register(ResourceTypeUi, self.Reconcile)
}

func (self *Reconciler) AddPresenceCallback(callback EventCallbackFunction) func() {
	return self.addCallback(self.presenceCallbacks, callback)
}

func (self *Reconciler) AddNavigationCallback(callback EventCallbackFunction) func() {
	return self.addCallback(self.navigationCallbacks, callback)
}

func (self *Reconciler) addCallback(callbacks map[int]EventCallbackFunction, callback EventCallbackFunction) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	callbacks[callbackId] = callback
	return func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		delete(callbacks, callbackId)
	}
}

func (self *Reconciler) fireCallbacks(callbacks map[int]EventCallbackFunction, event *ResourceEvent) {
	self.mutex.Lock()
	snapshot := maps.Values(callbacks)
	self.mutex.Unlock()

	for _, callback := range snapshot {
		HandleError(func() {
			callback(event)
		})
	}
}

// Reconcile applies one event, synchronously, in routed order. nothing here
// returns an error to the router; every failure degrades to invalidation.
func (self *Reconciler) Reconcile(event *ResourceEvent) {
	if event.ResourceType == ResourceTypeUi || event.EventKind == EventKindNavigation {
		self.fireCallbacks(self.navigationCallbacks, event)
		return
	}
	if event.EventKind == EventKindPresence {
		self.fireCallbacks(self.presenceCallbacks, event)
		return
	}

	if event.ResourceId == "" {
		malformed := &MalformedEventError{Reason: "missing resource id"}
		glog.Infof("[c]%s %s = %s\n", event.ResourceType, event.EventKind, malformed)
		self.invalidateDefaults(event.ResourceType)
		return
	}

	kindRules := self.rules[event.ResourceType][event.EventKind]
	if len(kindRules) == 0 {
		self.invalidateDefaults(event.ResourceType)
		return
	}

	for _, rule := range kindRules {
		selectors := rule.selectors(event)
		if selectors == nil {
			self.invalidateDefaults(event.ResourceType)
			continue
		}
		switch rule.strategy {
		case strategyInvalidate:
			self.invalidateSelectors(selectors)
		case strategyPatch:
			self.applyPatch(event, selectors)
		}
	}
}

func (self *Reconciler) invalidateDefaults(resourceType ResourceType) {
	for _, prefix := range self.defaults[resourceType] {
		self.cache.InvalidatePrefix(prefix)
	}
}

func (self *Reconciler) invalidateSelectors(selectors []cacheSelector) {
	for _, selector := range selectors {
		self.cache.InvalidatePrefix(selector.queryKey)
	}
}

func (self *Reconciler) applyPatch(event *ResourceEvent, selectors []cacheSelector) {
	matches := func(queryKey QueryKey) bool {
		for _, selector := range selectors {
			if selector.matches(queryKey) {
				return true
			}
		}
		return false
	}

	switch event.EventKind {
	case EventKindCreated:
		if event.Payload == nil || !event.Payload.Complete() {
			malformed := &MalformedEventError{Reason: "created payload cannot render a list row"}
			glog.Infof("[c]%s %s = %s\n", event.ResourceType, event.ResourceId, malformed)
			self.invalidateSelectors(selectors)
			return
		}
		self.cache.insertEntity(matches, event.Payload)
	case EventKindUpdated:
		if event.Payload == nil || !event.Payload.Complete() {
			malformed := &MalformedEventError{Reason: "updated payload cannot render a list row"}
			glog.Infof("[c]%s %s = %s\n", event.ResourceType, event.ResourceId, malformed)
			self.invalidateSelectors(selectors)
			return
		}
		self.cache.updateEntity(matches, event.Payload)
	case EventKindDeleted:
		// remove from every entry that contains the entity, including the
		// single-entity entry. a delete of a never-cached entity is a no-op.
		self.cache.removeEntity(event.ResourceId)
	case EventKindMoved:
		self.applyMove(event, matches, selectors)
	default:
		self.invalidateSelectors(selectors)
	}
}

// a move is a delete from the old scope plus a create in the new scope when
// the scope changed, otherwise an update in place. when either scope is
// unknown the entries that contain the entity cannot be determined, so
// invalidate instead.
func (self *Reconciler) applyMove(event *ResourceEvent, matches func(QueryKey) bool, selectors []cacheSelector) {
	if event.Payload == nil || !event.Payload.Complete() {
		self.invalidateSelectors(selectors)
		return
	}
	oldContainerId := event.ContainerId
	newContainerId := event.Payload.ContainerId
	if oldContainerId == "" || newContainerId == "" {
		self.invalidateSelectors(selectors)
		return
	}
	if oldContainerId == newContainerId {
		self.cache.updateEntity(matches, event.Payload)
		return
	}
	self.cache.removeEntity(event.ResourceId)
	self.cache.insertEntity(matches, event.Payload)
}

// the scope an event belongs to: the payload's container when present,
// else the event's
func eventContainerId(event *ResourceEvent) string {
	if event.Payload != nil && event.Payload.ContainerId != "" {
		return event.Payload.ContainerId
	}
	return event.ContainerId
}

func prefixSelectors(queryKeys ...QueryKey) []cacheSelector {
	selectors := make([]cacheSelector, len(queryKeys))
	for i, queryKey := range queryKeys {
		selectors[i] = cacheSelector{queryKey: queryKey}
	}
	return selectors
}

// resourceType x eventKind -> (cache-entry selectors, patch strategy).
// the "must invalidate vs may patch" decision lives here and nowhere else.
func defaultReconcileRules() map[ResourceType]map[EventKind][]patchRule {
	// documents appear in their container's list, the global and
	// container-scoped recent-changes views, and their single-entity entry
	documentScopes := func(event *ResourceEvent) []cacheSelector {
		containerId := eventContainerId(event)
		if containerId == "" {
			return nil
		}
		return []cacheSelector{
			{queryKey: QueryKey{"documents", containerId}},
			{queryKey: QueryKey{"recent"}, exact: true},
			{queryKey: QueryKey{"recent", containerId}},
			{queryKey: QueryKey{"document", event.ResourceId}},
		}
	}
	// navigation trees and breadcrumbs encode hierarchy and counts that a
	// point patch cannot update
	navigation := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(QueryKey{"nav"})
	}

	taskScopes := func(event *ResourceEvent) []cacheSelector {
		containerId := eventContainerId(event)
		if containerId == "" {
			return nil
		}
		return prefixSelectors(QueryKey{"tasks", containerId})
	}

	commentScopes := func(event *ResourceEvent) []cacheSelector {
		// for comments the container is the document they belong to
		containerId := eventContainerId(event)
		if containerId == "" {
			return nil
		}
		return prefixSelectors(QueryKey{"comments", containerId})
	}

	containerScopes := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(QueryKey{"containers"})
	}
	containerContents := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(
			QueryKey{"documents", event.ResourceId},
			QueryKey{"tasks", event.ResourceId},
			QueryKey{"recent", event.ResourceId},
		)
	}

	attachmentViews := func(event *ResourceEvent) []cacheSelector {
		containerId := eventContainerId(event)
		if containerId == "" {
			return prefixSelectors(QueryKey{"attachments"})
		}
		return prefixSelectors(QueryKey{"attachments", containerId})
	}

	workspaceViews := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(QueryKey{"workspace"})
	}
	memberViews := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(QueryKey{"users"}, QueryKey{"groups"})
	}
	visibilityViews := func(event *ResourceEvent) []cacheSelector {
		return prefixSelectors(
			QueryKey{"documents"},
			QueryKey{"recent"},
			QueryKey{"tasks"},
			QueryKey{"nav"},
		)
	}

	return map[ResourceType]map[EventKind][]patchRule{
		ResourceTypeDocument: {
			EventKindCreated: {
				{strategyPatch, documentScopes},
				{strategyInvalidate, navigation},
			},
			EventKindUpdated: {
				{strategyPatch, documentScopes},
			},
			EventKindDeleted: {
				{strategyPatch, documentScopes},
				{strategyInvalidate, navigation},
			},
			EventKindMoved: {
				{strategyPatch, documentScopes},
				{strategyInvalidate, navigation},
			},
			EventKindPermissionChanged: {
				{strategyInvalidate, visibilityViews},
			},
		},
		ResourceTypeTask: {
			EventKindCreated: {
				{strategyPatch, taskScopes},
			},
			EventKindUpdated: {
				{strategyPatch, taskScopes},
			},
			EventKindDeleted: {
				{strategyPatch, taskScopes},
			},
			EventKindMoved: {
				{strategyPatch, taskScopes},
			},
		},
		ResourceTypeComment: {
			EventKindCreated: {
				{strategyPatch, commentScopes},
			},
			EventKindUpdated: {
				{strategyPatch, commentScopes},
			},
			EventKindDeleted: {
				{strategyPatch, commentScopes},
			},
		},
		ResourceTypeContainer: {
			EventKindCreated: {
				{strategyPatch, containerScopes},
				{strategyInvalidate, navigation},
			},
			EventKindUpdated: {
				{strategyPatch, containerScopes},
				{strategyInvalidate, navigation},
			},
			EventKindDeleted: {
				{strategyPatch, containerScopes},
				{strategyInvalidate, containerContents},
				{strategyInvalidate, navigation},
			},
			EventKindPermissionChanged: {
				{strategyInvalidate, visibilityViews},
			},
		},
		ResourceTypeAttachment: {
			// attachment views aggregate sizes and counts; always refetch
			EventKindCreated: {
				{strategyInvalidate, attachmentViews},
			},
			EventKindUpdated: {
				{strategyInvalidate, attachmentViews},
			},
			EventKindDeleted: {
				{strategyInvalidate, attachmentViews},
			},
		},
		ResourceTypeWorkspace: {
			EventKindUpdated: {
				{strategyInvalidate, workspaceViews},
			},
			EventKindPermissionChanged: {
				{strategyInvalidate, visibilityViews},
			},
		},
		ResourceTypeUser: {
			EventKindCreated: {
				{strategyInvalidate, memberViews},
			},
			EventKindUpdated: {
				{strategyInvalidate, memberViews},
			},
			EventKindDeleted: {
				{strategyInvalidate, memberViews},
			},
		},
		ResourceTypeGroup: {
			EventKindCreated: {
				{strategyInvalidate, memberViews},
			},
			EventKindUpdated: {
				{strategyInvalidate, memberViews},
			},
			EventKindDeleted: {
				{strategyInvalidate, memberViews},
			},
			EventKindPermissionChanged: {
				{strategyInvalidate, visibilityViews},
			},
		},
	}
}

func defaultInvalidatePrefixes() map[ResourceType][]QueryKey {
	return map[ResourceType][]QueryKey{
		ResourceTypeDocument:   {{"documents"}, {"recent"}, {"document"}},
		ResourceTypeTask:       {{"tasks"}},
		ResourceTypeComment:    {{"comments"}},
		ResourceTypeContainer:  {{"containers"}, {"nav"}},
		ResourceTypeAttachment: {{"attachments"}},
		ResourceTypeWorkspace:  {{"workspace"}},
		ResourceTypeUser:       {{"users"}},
		ResourceTypeGroup:      {{"groups"}, {"users"}},
	}
}
