package pagesync

import (
	"context"
	"sync"
)

// SyncEngine wires the engine together for a consuming application:
// the api for initial fetches, the cache store it refetches into, the
// router/reconciler pair, the subscription registry, and the transport.
//
// the transport is created lazily by Connect, which refuses to run until the
// identity and workspace context are both present. exactly one transport
// exists per engine; a finite-state guard on the engine (never a process-wide
// flag) prevents a second channel while one is pending or open.
type SyncEngine struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectUrl string

	auth       *SessionAuth
	api        *SyncApi
	cache      *CacheStore
	router     *EventRouter
	reconciler *Reconciler
	registry   *SubscriptionRegistry

	settings *SyncTransportSettings

	mutex     sync.Mutex
	transport *SyncTransport
}

func NewSyncEngineWithDefaults(
	ctx context.Context,
	apiUrl string,
	connectUrl string,
	auth *SessionAuth,
) *SyncEngine {
	return NewSyncEngine(ctx, apiUrl, connectUrl, auth, DefaultSyncTransportSettings())
}

func NewSyncEngine(
	ctx context.Context,
	apiUrl string,
	connectUrl string,
	auth *SessionAuth,
	settings *SyncTransportSettings,
) *SyncEngine {
	cancelCtx, cancel := context.WithCancel(ctx)

	api := NewSyncApiWithContext(cancelCtx, apiUrl)
	api.SetByJwt(auth.ByJwt)
	cache := NewCacheStore(cancelCtx, api.Fetch)
	router := NewEventRouter()
	reconciler := NewReconciler(cache)
	reconciler.RegisterWith(router)
	registry := NewSubscriptionRegistry(auth)

	return &SyncEngine{
		ctx:        cancelCtx,
		cancel:     cancel,
		connectUrl: connectUrl,
		auth:       auth,
		api:        api,
		cache:      cache,
		router:     router,
		reconciler: reconciler,
		registry:   registry,
		settings:   settings,
	}
}

// Connect opens the duplex channel. calling again while a transport is
// pending or open returns the existing transport.
func (self *SyncEngine) Connect() (*SyncTransport, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.transport != nil {
		return self.transport, nil
	}
	transport, err := NewSyncTransport(
		self.ctx,
		self.connectUrl,
		self.auth,
		self.registry,
		self.router,
		self.settings,
	)
	if err != nil {
		return nil, err
	}
	self.transport = transport
	return transport, nil
}

func (self *SyncEngine) Api() *SyncApi {
	return self.api
}

func (self *SyncEngine) Cache() *CacheStore {
	return self.cache
}

func (self *SyncEngine) Router() *EventRouter {
	return self.router
}

func (self *SyncEngine) Reconciler() *Reconciler {
	return self.reconciler
}

func (self *SyncEngine) Subscribe(resourceType ResourceType, resourceId string) error {
	return self.registry.Subscribe(resourceType, resourceId)
}

func (self *SyncEngine) Unsubscribe(resourceType ResourceType, resourceId string) {
	self.registry.Unsubscribe(resourceType, resourceId)
}

func (self *SyncEngine) ActiveSubscriptions() []SubscriptionKey {
	return self.registry.ActiveSubscriptions()
}

func (self *SyncEngine) Status() ConnectionStatus {
	self.mutex.Lock()
	transport := self.transport
	self.mutex.Unlock()

	if transport == nil {
		return ConnectionStatusIdle
	}
	return transport.Status()
}

func (self *SyncEngine) AddStatusCallback(callback ConnectionStatusFunction) func() {
	self.mutex.Lock()
	transport := self.transport
	self.mutex.Unlock()

	if transport == nil {
		return func() {}
	}
	return transport.Monitor().AddCallback(callback)
}

// MoveTask implements the drag-reorder flow: generate a key between the new
// neighbors, write it optimistically into the loaded task collections, and
// persist it. the reconciler's version guard keeps the echoed move event from
// regressing the optimistic write.
func (self *SyncEngine) MoveTask(projectId string, taskId string, before *Entity, after *Entity, callback MoveTaskCallback) (string, error) {
	orderKey, err := KeyBetweenEntities(before, after)
	if err != nil {
		return "", err
	}

	queryKey := QueryKey{"tasks", projectId}
	if collection, _ := self.cache.GetCollection(queryKey); collection != nil {
		if i := collection.indexOf(taskId); 0 <= i {
			task := collection.Items[i].Copy()
			task.OrderKey = AssignedOrderKey(orderKey)
			task.Version += 1
			self.cache.updateEntity(func(k QueryKey) bool {
				return k.HasPrefix(queryKey)
			}, task)
		}
	}

	self.api.MoveTask(&MoveTaskArgs{
		TaskId:    taskId,
		ProjectId: projectId,
		OrderKey:  orderKey,
	}, callback)
	return orderKey, nil
}

func (self *SyncEngine) Close() {
	self.mutex.Lock()
	transport := self.transport
	self.mutex.Unlock()

	if transport != nil {
		transport.Close()
	}
	self.cancel()
}
