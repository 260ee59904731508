package pagesync

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/golang/glog"
)

// error taxonomy:
// - TransportError: connect/send failures. Retried per the session state machine,
//   never surfaced to event callbacks.
// - MalformedEventError: schema-invalid inbound event. Logged, the affected
//   caches are invalidated as a safe default.
// - SubscriptionConflictError: subscribe attempted with missing identity or
//   workspace context. Rejected synchronously before any transport call.
// - OrderingOverflowError: key generation exceeded the sane length bound,
//   signaling pathological repeated insertion at one boundary. The caller is
//   expected to renumber the affected collection.

type TransportError struct {
	Op  string
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", self.Op, self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

type MalformedEventError struct {
	Reason string
}

func (self *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: %s", self.Reason)
}

type SubscriptionConflictError struct {
	Reason string
}

func (self *SubscriptionConflictError) Error() string {
	return fmt.Sprintf("subscription conflict: %s", self.Reason)
}

// subscribing or connecting requires both the identity and workspace context
var ErrMissingContext = &SubscriptionConflictError{
	Reason: "identity and workspace context must both be present",
}

type OrderingOverflowError struct {
	Length int
}

func (self *OrderingOverflowError) Error() string {
	return fmt.Sprintf("ordering key length %d exceeds maximum %d", self.Length, MaxOrderKeyLength)
}

// note all callbacks are wrapped to check for nil and recover from errors

func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Warningf("Unexpected error: %s\n", ErrorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}
