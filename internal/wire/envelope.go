package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// Типы конвертов комнатного протокола.
const (
	TypeDiscoveryPing    = "discovery_ping"
	TypeDiscoveryPong    = "discovery_pong"
	TypeJoinRequest      = "join_request"
	TypeJoinResponse     = "join_response"
	TypeMemberJoined     = "member_joined"
	TypeMemberLeft       = "member_left"
	TypeControlCommand   = "control_command"
	TypeStatusUpdate     = "status_update"
	TypeChat             = "chat"
	TypePermissionUpdate = "permission_update"
)

// Envelope — кадрируемая единица обмена. Data — строка с JSON полезной
// нагрузки (двойное кодирование, как в исходном протоколе панели).
type Envelope struct {
	Type      string    `json:"type"`
	SenderID  string    `json:"senderId"`
	TargetID  string    `json:"targetId,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope собирает конверт, сериализуя payload в Data. nil payload
// даёт пустую Data (discovery_ping).
func NewEnvelope(msgType, senderID, targetID string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		SenderID:  senderID,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = string(data)
	}
	return env, nil
}

// DecodePayload распаковывает Data конверта в dst.
func (e *Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal([]byte(e.Data), dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// --- полезные нагрузки ---

type JoinRequest struct {
	Nickname  string `json:"nickname"`
	HasDevice bool   `json:"hasDevice"`
}

// JoinResponse несёт результат рукопожатия; Members — снапшот таблицы
// участников на момент входа, чтобы новый спок сразу видел состав комнаты.
type JoinResponse struct {
	Success     bool            `json:"success"`
	Reason      string          `json:"reason,omitempty"`
	MemberID    string          `json:"memberId,omitempty"`
	RoomID      string          `json:"roomId,omitempty"`
	RoomCode    string          `json:"roomCode,omitempty"`
	RoomName    string          `json:"roomName,omitempty"`
	OwnerID     string          `json:"ownerId,omitempty"`
	ControlMode string          `json:"controlMode,omitempty"`
	Members     []domain.Member `json:"members,omitempty"`
}

type MemberJoined struct {
	Member domain.Member `json:"member"`
}

type MemberLeft struct {
	MemberID string `json:"memberId"`
	Reason   string `json:"reason,omitempty"` // "leave" либо "disconnect"
}

// CommandPayload — управляющая команда на проводе. Permission заполняется
// только у permission_* действий, Result — только у command_result.
type CommandPayload struct {
	domain.ControlCommand
	Permission *PermissionPayload `json:"permission,omitempty"`
	Result     *CommandResult     `json:"result,omitempty"`
}

type PermissionPayload struct {
	RequestID   string `json:"requestId,omitempty"`
	RequesterID string `json:"requesterId,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
	Granted     *bool  `json:"granted,omitempty"`
	Locked      *bool  `json:"locked,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// CommandResult — машиночитаемый исход команды: команда с requireAck всегда
// завершается либо исполнением, либо этим отказом, молчание недопустимо.
type CommandResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type ChatPayload struct {
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// PermissionUpdate — широковещательное изменение состояния прав, хаб
// переотражает его всем, кроме отправителя.
type PermissionUpdate struct {
	Kind           string                `json:"kind"` // role_changed | granted | revoked | force_granted | lock_set | lock_cleared | mode_changed
	UserID         string                `json:"userId,omitempty"`
	PermissionRole domain.PermissionRole `json:"permissionRole,omitempty"`
	ControllerID   string                `json:"controllerId,omitempty"`
	ControlledID   string                `json:"controlledId,omitempty"`
	Locked         bool                  `json:"locked,omitempty"`
	ControlMode    string                `json:"controlMode,omitempty"`
}

type DiscoveryPong struct {
	RoomID      string `json:"roomId"`
	RoomCode    string `json:"roomCode"`
	RoomName    string `json:"roomName"`
	OwnerID     string `json:"ownerId"`
	MemberCount int    `json:"memberCount"`
	MaxMembers  int    `json:"maxMembers,omitempty"`
}
