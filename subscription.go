package pagesync

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// wildcard resource id meaning every resource of the type visible to the
// current identity
const SubscriptionAll = "all"

// comparable
type SubscriptionKey struct {
	ResourceType ResourceType
	ResourceId   string
}

func (self SubscriptionKey) String() string {
	return string(self.ResourceType) + "/" + self.ResourceId
}

// (frameBytes) -> accepted
type SendFunction func(frameBytes []byte) bool

// SubscriptionRegistry tracks which (resource type, resource id) pairs are
// currently subscribed. subscribe and unsubscribe are idempotent; a pair
// already present performs no transport call. the server holds no durable
// subscription state across connections, so the transport re-asserts every
// active pair each time the session re-enters connected.
type SubscriptionRegistry struct {
	auth *SessionAuth

	mutex         sync.Mutex
	subscriptions map[SubscriptionKey]bool
	send          SendFunction
}

func NewSubscriptionRegistry(auth *SessionAuth) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		auth:          auth,
		subscriptions: map[SubscriptionKey]bool{},
	}
}

// the transport installs itself as the sender when it starts
func (self *SubscriptionRegistry) setSender(send SendFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.send = send
}

func (self *SubscriptionRegistry) Subscribe(resourceType ResourceType, resourceId string) error {
	if !self.auth.Complete() {
		return ErrMissingContext
	}

	key := SubscriptionKey{
		ResourceType: resourceType,
		ResourceId:   resourceId,
	}

	self.mutex.Lock()
	if self.subscriptions[key] {
		self.mutex.Unlock()
		return nil
	}
	self.subscriptions[key] = true
	send := self.send
	self.mutex.Unlock()

	self.sendSubscribe(send, key)
	return nil
}

// fire and forget toward the transport. a stray event arriving just after
// unsubscribe is ignored by the router.
func (self *SubscriptionRegistry) Unsubscribe(resourceType ResourceType, resourceId string) {
	key := SubscriptionKey{
		ResourceType: resourceType,
		ResourceId:   resourceId,
	}

	self.mutex.Lock()
	if !self.subscriptions[key] {
		self.mutex.Unlock()
		return
	}
	delete(self.subscriptions, key)
	send := self.send
	self.mutex.Unlock()

	if send == nil {
		return
	}
	frameBytes, err := EncodeFrame(&UnsubscribeMessage{
		ResourceType: key.ResourceType,
		ResourceId:   key.ResourceId,
	})
	if err != nil {
		glog.Infof("[s]unsubscribe encode error = %s\n", err)
		return
	}
	send(frameBytes)
}

func (self *SubscriptionRegistry) ActiveSubscriptions() []SubscriptionKey {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	keys := maps.Keys(self.subscriptions)
	slices.SortFunc(keys, func(a SubscriptionKey, b SubscriptionKey) int {
		if a.ResourceType != b.ResourceType {
			if a.ResourceType < b.ResourceType {
				return -1
			}
			return 1
		}
		if a.ResourceId != b.ResourceId {
			if a.ResourceId < b.ResourceId {
				return -1
			}
			return 1
		}
		return 0
	})
	return keys
}

// re-issue one subscribe per active pair, in any order, without waiting for
// confirmation between sends
func (self *SubscriptionRegistry) resubscribeAll() {
	self.mutex.Lock()
	keys := maps.Keys(self.subscriptions)
	send := self.send
	self.mutex.Unlock()

	for _, key := range keys {
		self.sendSubscribe(send, key)
	}
}

func (self *SubscriptionRegistry) sendSubscribe(send SendFunction, key SubscriptionKey) {
	if send == nil {
		// not connected. the pair is re-asserted on the next connect.
		return
	}
	frameBytes, err := EncodeFrame(&SubscribeMessage{
		ResourceType: key.ResourceType,
		ResourceId:   key.ResourceId,
	})
	if err != nil {
		glog.Infof("[s]subscribe encode error = %s\n", err)
		return
	}
	if !send(frameBytes) {
		glog.V(2).Infof("[s]subscribe dropped %s\n", key)
	}
}
