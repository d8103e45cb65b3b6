package http

import (
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// CreateRoomRequest — тело POST /v1/room.
type CreateRoomRequest struct {
	Name       string `json:"name"`
	MaxMembers int    `json:"maxMembers"`
}

// JoinRoomRequest — тело POST /v1/room/join.
type JoinRoomRequest struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Nickname string `json:"nickname"`
}

// RoomResponse — текущая комната глазами этого узла.
type RoomResponse struct {
	Room        domain.Room     `json:"room"`
	Members     []domain.Member `json:"members"`
	SelfID      string          `json:"selfId"`
	ControlMode string          `json:"controlMode"`
}

// CommandRequest — тело POST /v1/commands; поля команды лежат в корне
// объекта рядом с targetId.
type CommandRequest struct {
	TargetID string `json:"targetId"`
	domain.ControlCommand
}

// CommandAccepted подтверждает приём команды в отправку; исход придёт
// событием command_result в WS-потоке.
type CommandAccepted struct {
	CommandID string `json:"commandId"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

// ScanRequest — тело POST /v1/rooms/scan; нулевой таймаут означает
// значение из конфигурации сканера.
type ScanRequest struct {
	TimeoutMs int `json:"timeoutMs"`
}

// PermissionRequestBody — тело POST /v1/permissions/request.
type PermissionRequestBody struct {
	TargetID string `json:"targetId"`
}

type PermissionRequestAccepted struct {
	RequestID string `json:"requestId"`
}

// PermissionRespondBody — тело POST /v1/permissions/respond.
type PermissionRespondBody struct {
	RequestID string `json:"requestId"`
	Grant     bool   `json:"grant"`
	Reason    string `json:"reason,omitempty"`
}

type PermissionRevokeBody struct {
	ControllerID string `json:"controllerId"`
}

type PermissionForceBody struct {
	ControllerID string `json:"controllerId"`
	ControlledID string `json:"controlledId"`
	Lock         bool   `json:"lock"`
}

type PermissionLockBody struct {
	ControllerID string `json:"controllerId"`
	ControlledID string `json:"controlledId"`
	Enabled      bool   `json:"enabled"`
}

type ControlModeRequest struct {
	Mode string `json:"mode"`
}
