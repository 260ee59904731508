package pagesync

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

// records every subscribe/unsubscribe frame handed to the transport
type testSender struct {
	mutex        sync.Mutex
	subscribes   []SubscriptionKey
	unsubscribes []SubscriptionKey
}

func (self *testSender) send(frameBytes []byte) bool {
	message, err := DecodeFrame(frameBytes)
	if err != nil {
		return false
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	switch v := message.(type) {
	case *SubscribeMessage:
		self.subscribes = append(self.subscribes, SubscriptionKey{
			ResourceType: v.ResourceType,
			ResourceId:   v.ResourceId,
		})
	case *UnsubscribeMessage:
		self.unsubscribes = append(self.unsubscribes, SubscriptionKey{
			ResourceType: v.ResourceType,
			ResourceId:   v.ResourceId,
		})
	}
	return true
}

func (self *testSender) subscribeCount(key SubscriptionKey) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	count := 0
	for _, sent := range self.subscribes {
		if sent == key {
			count += 1
		}
	}
	return count
}

func TestSubscribeIdempotent(t *testing.T) {
	auth, _, _ := newTestSessionAuth(t)
	registry := NewSubscriptionRegistry(auth)
	sender := &testSender{}
	registry.setSender(sender.send)

	err := registry.Subscribe(ResourceTypeDocument, "d1")
	assert.Equal(t, err, nil)
	err = registry.Subscribe(ResourceTypeDocument, "d1")
	assert.Equal(t, err, nil)

	// exactly one transport-level subscribe call
	key := SubscriptionKey{ResourceType: ResourceTypeDocument, ResourceId: "d1"}
	assert.Equal(t, sender.subscribeCount(key), 1)
	assert.Equal(t, len(registry.ActiveSubscriptions()), 1)
}

func TestSubscribeMissingContext(t *testing.T) {
	auth := &SessionAuth{ByJwt: "incomplete"}
	registry := NewSubscriptionRegistry(auth)
	sender := &testSender{}
	registry.setSender(sender.send)

	err := registry.Subscribe(ResourceTypeDocument, SubscriptionAll)
	assert.Equal(t, err, ErrMissingContext)
	assert.Equal(t, len(sender.subscribes), 0)
	assert.Equal(t, len(registry.ActiveSubscriptions()), 0)
}

func TestResubscribeAll(t *testing.T) {
	auth, _, _ := newTestSessionAuth(t)
	registry := NewSubscriptionRegistry(auth)
	sender := &testSender{}
	registry.setSender(sender.send)

	keys := []SubscriptionKey{
		{ResourceTypeDocument, SubscriptionAll},
		{ResourceTypeContainer, "c1"},
		{ResourceTypeTask, "p1"},
	}
	for _, key := range keys {
		err := registry.Subscribe(key.ResourceType, key.ResourceId)
		assert.Equal(t, err, nil)
	}

	// the server forgot everything across the reconnect
	registry.resubscribeAll()

	for _, key := range keys {
		// one initial subscribe plus exactly one re-subscribe
		assert.Equal(t, sender.subscribeCount(key), 2)
	}
}

func TestUnsubscribe(t *testing.T) {
	auth, _, _ := newTestSessionAuth(t)
	registry := NewSubscriptionRegistry(auth)
	sender := &testSender{}
	registry.setSender(sender.send)

	registry.Subscribe(ResourceTypeDocument, "d1")
	registry.Unsubscribe(ResourceTypeDocument, "d1")
	// already removed; no second transport call
	registry.Unsubscribe(ResourceTypeDocument, "d1")

	assert.Equal(t, len(registry.ActiveSubscriptions()), 0)
	assert.Equal(t, len(sender.unsubscribes), 1)

	// unsubscribed pairs are not re-asserted
	registry.resubscribeAll()
	key := SubscriptionKey{ResourceType: ResourceTypeDocument, ResourceId: "d1"}
	assert.Equal(t, sender.subscribeCount(key), 1)
}

func TestSubscribeWithoutSender(t *testing.T) {
	auth, _, _ := newTestSessionAuth(t)
	registry := NewSubscriptionRegistry(auth)

	// no transport yet; the pair is recorded and asserted on connect
	err := registry.Subscribe(ResourceTypeDocument, "d1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(registry.ActiveSubscriptions()), 1)

	sender := &testSender{}
	registry.setSender(sender.send)
	registry.resubscribeAll()

	key := SubscriptionKey{ResourceType: ResourceTypeDocument, ResourceId: "d1"}
	assert.Equal(t, sender.subscribeCount(key), 1)
}
