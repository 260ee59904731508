package pagesync

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventKindCreated           EventKind = "created"
	EventKindUpdated           EventKind = "updated"
	EventKindDeleted           EventKind = "deleted"
	EventKindMoved             EventKind = "moved"
	EventKindPermissionChanged EventKind = "permission-changed"
	EventKindPresence          EventKind = "presence"
	EventKindNavigation        EventKind = "navigation"
)

type ResourceType string

const (
	ResourceTypeDocument   ResourceType = "document"
	ResourceTypeContainer  ResourceType = "container"
	ResourceTypeWorkspace  ResourceType = "workspace"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeGroup      ResourceType = "group"
	ResourceTypeAttachment ResourceType = "attachment"
	ResourceTypeComment    ResourceType = "comment"
	ResourceTypeTask       ResourceType = "task"
	// synthetic type for client-control events such as navigation
	ResourceTypeUi ResourceType = "ui"
)

type Operation string

const (
	OperationCreate           Operation = "create"
	OperationRead             Operation = "read"
	OperationUpdate           Operation = "update"
	OperationDelete           Operation = "delete"
	OperationMove             Operation = "move"
	OperationMembershipAdd    Operation = "membership-add"
	OperationMembershipRemove Operation = "membership-remove"
	OperationNavigate         Operation = "navigate"
)

// the minimum snapshot needed to render an entity in a list row.
// `Version` is a server-side monotonic edit counter used to guard against
// regressing an optimistic local write with a stale event payload.
type Entity struct {
	Id          string    `json:"id"`
	Title       string    `json:"title"`
	ContainerId string    `json:"container_id,omitempty"`
	OrderKey    OrderKey  `json:"order_key"`
	Version     int64     `json:"version,omitempty"`
	CreateTime  time.Time `json:"create_time"`
	UpdateTime  time.Time `json:"update_time"`
}

// whether the snapshot carries the fields needed to render a list row
func (self *Entity) Complete() bool {
	return self.Id != "" && self.Title != "" && !self.CreateTime.IsZero() && !self.UpdateTime.IsZero()
}

func (self *Entity) Copy() *Entity {
	copy := *self
	return &copy
}

// one state change upstream. immutable once decoded.
type ResourceEvent struct {
	EventKind    EventKind    `json:"event_kind"`
	ResourceType ResourceType `json:"resource_type"`
	Operation    Operation    `json:"operation"`
	ResourceId   string       `json:"resource_id"`
	EventTime    time.Time    `json:"event_time"`
	ActorId      Id           `json:"actor_id"`
	WorkspaceId  Id           `json:"workspace_id"`
	ContainerId  string       `json:"container_id,omitempty"`
	Payload      *Entity      `json:"payload,omitempty"`
}

// control messages on the channel

type Auth struct {
	ByJwt      string `json:"by_jwt"`
	AppVersion string `json:"app_version"`
	InstanceId Id     `json:"instance_id"`
}

type SubscribeMessage struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceId   string       `json:"resource_id"`
}

type UnsubscribeMessage struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceId   string       `json:"resource_id"`
}

type SubscribeResult struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceId   string       `json:"resource_id"`
	Error        string       `json:"error,omitempty"`
}

type FrameType string

const (
	FrameTypeAuth            FrameType = "auth"
	FrameTypeResourceEvent   FrameType = "resource-event"
	FrameTypeSubscribe       FrameType = "subscribe"
	FrameTypeUnsubscribe     FrameType = "unsubscribe"
	FrameTypeSubscribeResult FrameType = "subscribe-result"
)

// every message on the channel is wrapped in a typed frame
type Frame struct {
	FrameType FrameType       `json:"frame_type"`
	Message   json.RawMessage `json:"message"`
}

func ToFrame(message any) (*Frame, error) {
	var frameType FrameType
	switch v := message.(type) {
	case *Auth:
		frameType = FrameTypeAuth
	case *ResourceEvent:
		frameType = FrameTypeResourceEvent
	case *SubscribeMessage:
		frameType = FrameTypeSubscribe
	case *UnsubscribeMessage:
		frameType = FrameTypeUnsubscribe
	case *SubscribeResult:
		frameType = FrameTypeSubscribeResult
	default:
		return nil, fmt.Errorf("Unknown message type: %T", v)
	}
	b, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return &Frame{
		FrameType: frameType,
		Message:   b,
	}, nil
}

func RequireToFrame(message any) *Frame {
	frame, err := ToFrame(message)
	if err != nil {
		panic(err)
	}
	return frame
}

func FromFrame(frame *Frame) (any, error) {
	var message any
	switch frame.FrameType {
	case FrameTypeAuth:
		message = &Auth{}
	case FrameTypeResourceEvent:
		message = &ResourceEvent{}
	case FrameTypeSubscribe:
		message = &SubscribeMessage{}
	case FrameTypeUnsubscribe:
		message = &UnsubscribeMessage{}
	case FrameTypeSubscribeResult:
		message = &SubscribeResult{}
	default:
		return nil, fmt.Errorf("Unknown frame type: %s", frame.FrameType)
	}
	err := json.Unmarshal(frame.Message, message)
	if err != nil {
		return nil, err
	}
	return message, nil
}

func EncodeFrame(message any) ([]byte, error) {
	frame, err := ToFrame(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame)
}

func DecodeFrame(b []byte) (any, error) {
	frame := &Frame{}
	err := json.Unmarshal(b, frame)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame)
}
