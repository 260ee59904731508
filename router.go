package pagesync

import (
	"sync"

	"github.com/golang/glog"
)

// the transport may deliver the same event twice across a reconnect race.
// routing de-duplicates on (resource type, resource id, event time) over a
// small bounded window of recent events.
const RouterDedupWindowSize = 200

type EventHandlerFunction func(event *ResourceEvent)

// comparable
type dedupKey struct {
	resourceType ResourceType
	resourceId   string
	eventTime    int64
}

// EventRouter receives every inbound event, classifies it by resource type,
// and dispatches to the registered handler exactly once per event, in the
// order received on the channel. unknown resource types are logged and
// dropped, never crash routing.
type EventRouter struct {
	mutex    sync.Mutex
	handlers map[ResourceType]EventHandlerFunction

	recentKeys   []dedupKey
	recentKeySet map[dedupKey]bool
	recentIndex  int
}

func NewEventRouter() *EventRouter {
	return &EventRouter{
		handlers:     map[ResourceType]EventHandlerFunction{},
		recentKeys:   make([]dedupKey, RouterDedupWindowSize),
		recentKeySet: map[dedupKey]bool{},
	}
}

// a second registration for the same resource type replaces the first
func (self *EventRouter) Register(resourceType ResourceType, handler EventHandlerFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.handlers[resourceType] = handler
}

func (self *EventRouter) Unregister(resourceType ResourceType) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.handlers, resourceType)
}

// called once per inbound event, in arrival order. the handler runs
// synchronously in the caller so that per-id ordering follows arrival order.
func (self *EventRouter) Dispatch(event *ResourceEvent) {
	key := dedupKey{
		resourceType: event.ResourceType,
		resourceId:   event.ResourceId,
		eventTime:    event.EventTime.UnixNano(),
	}

	self.mutex.Lock()
	if self.recentKeySet[key] {
		self.mutex.Unlock()
		glog.V(2).Infof("[r]duplicate %s %s\n", event.ResourceType, event.ResourceId)
		return
	}
	evicted := self.recentKeys[self.recentIndex]
	delete(self.recentKeySet, evicted)
	self.recentKeys[self.recentIndex] = key
	self.recentKeySet[key] = true
	self.recentIndex = (self.recentIndex + 1) % RouterDedupWindowSize

	handler, ok := self.handlers[event.ResourceType]
	self.mutex.Unlock()

	if !ok {
		glog.Infof("[r]drop unknown resource type %s\n", event.ResourceType)
		return
	}

	HandleError(func() {
		handler(event)
	})
}
