package pagesync

import (
	"sync"

	"golang.org/x/exp/maps"
)

type ConnectionStatus string

const (
	ConnectionStatusIdle         ConnectionStatus = "idle"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusClosed       ConnectionStatus = "closed"
)

type ConnectionStatusFunction func(status ConnectionStatus)

// ConnectionMonitor owns the externally observable connection-status signal.
// status is per monitor, never process wide, so independent engine instances
// do not share state.
type ConnectionMonitor struct {
	mutex          sync.Mutex
	status         ConnectionStatus
	callbacks      map[int]ConnectionStatusFunction
	nextCallbackId int
	closedNotified bool
}

func NewConnectionMonitor() *ConnectionMonitor {
	return &ConnectionMonitor{
		status:    ConnectionStatusIdle,
		callbacks: map[int]ConnectionStatusFunction{},
	}
}

func (self *ConnectionMonitor) Status() ConnectionStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.status
}

// returns a function to remove the callback
func (self *ConnectionMonitor) AddCallback(callback ConnectionStatusFunction) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks[callbackId] = callback
	return func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		delete(self.callbacks, callbackId)
	}
}

func (self *ConnectionMonitor) update(status ConnectionStatus) {
	self.mutex.Lock()
	if self.status == status {
		self.mutex.Unlock()
		return
	}
	if status == ConnectionStatusClosed {
		// closed is terminal and notified exactly once
		if self.closedNotified {
			self.mutex.Unlock()
			return
		}
		self.closedNotified = true
	}
	self.status = status
	callbacks := maps.Values(self.callbacks)
	self.mutex.Unlock()

	for _, callback := range callbacks {
		HandleError(func() {
			callback(status)
		})
	}
}
