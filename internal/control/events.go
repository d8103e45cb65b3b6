package control

import (
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/discovery"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// EventKind — вид уведомления шины плоскости управления.
type EventKind string

const (
	EventRoomCreated     EventKind = "room_created"
	EventRoomJoined      EventKind = "room_joined"
	EventRoomLeft        EventKind = "room_left"
	EventMemberJoined    EventKind = "member_joined"
	EventMemberLeft      EventKind = "member_left"
	EventChat            EventKind = "chat"
	EventCommand         EventKind = "command"
	EventCommandResult   EventKind = "command_result"
	EventStatus          EventKind = "status"
	EventPermission      EventKind = "permission"
	EventRoomsDiscovered EventKind = "rooms_discovered"
)

// Event — единица шины уведомлений. Data сериализуется как есть в
// WebSocket-поток шлюза.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

func newEvent(kind EventKind, data any) Event {
	return Event{Kind: kind, At: time.Now().UTC(), Data: data}
}

type RoomEvent struct {
	Room    domain.Room     `json:"room"`
	Members []domain.Member `json:"members,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

type MemberEvent struct {
	Member domain.Member `json:"member"`
	Reason string        `json:"reason,omitempty"`
}

type ChatEvent struct {
	From     string `json:"from"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// CommandEvent — команда, дошедшая до локального пользователя (или
// выпущенная им — тогда Outgoing = true).
type CommandEvent struct {
	From     string                `json:"from"`
	To       string                `json:"to"`
	Outgoing bool                  `json:"outgoing,omitempty"`
	Command  domain.ControlCommand `json:"command"`
}

// CommandResultEvent — ack/deny на ранее отправленную команду.
type CommandResultEvent struct {
	From          string `json:"from"`
	CorrelationID string `json:"correlationId"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
}

type StatusEvent struct {
	domain.StatusSnapshot
}

// PermissionEvent покрывает все повороты модели прав; заполнены только
// поля, осмысленные для конкретного Kind.
type PermissionEvent struct {
	Kind         string                `json:"kind"`
	RequestID    string                `json:"requestId,omitempty"`
	RequesterID  string                `json:"requesterId,omitempty"`
	TargetID     string                `json:"targetId,omitempty"`
	ControllerID string                `json:"controllerId,omitempty"`
	ControlledID string                `json:"controlledId,omitempty"`
	UserID       string                `json:"userId,omitempty"`
	Role         domain.PermissionRole `json:"role,omitempty"`
	Granted      bool                  `json:"granted,omitempty"`
	Locked       bool                  `json:"locked,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	ControlMode  string                `json:"controlMode,omitempty"`
}

type DiscoveredEvent struct {
	Rooms []discovery.Result `json:"rooms"`
}
