package ws

import (
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// Типы кадров WS-потока панели
const (
	TypeState   = "state"   // снапшот узла при подключении
	TypeEvent   = "event"   // событие шины плоскости управления
	TypeChat    = "chat"    // входящий чат от панели
	TypeCommand = "command" // входящая команда от панели
	TypeAck     = "ack"     // подтверждение принятого кадра (НЕ исход команды)
	TypeError   = "error"   // отказ на входящий кадр
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatePayload — снимок узла, уходит первым кадром каждому подписчику.
type StatePayload struct {
	InRoom      bool            `json:"inRoom"`
	Room        *domain.Room    `json:"room,omitempty"`
	Members     []domain.Member `json:"members,omitempty"`
	SelfID      string          `json:"selfId"`
	ControlMode string          `json:"controlMode"`
}

type ChatInPayload struct {
	Text string `json:"text"`
}

// CommandInPayload — входящая команда; форма совпадает с телом
// POST /v1/commands.
type CommandInPayload struct {
	TargetID string `json:"targetId"`
	domain.ControlCommand
}

// AckPayload — кадр принят в обработку; исход команды придёт отдельным
// событием command_result.
type AckPayload struct {
	Op        string `json:"op"`
	CommandID string `json:"commandId,omitempty"`
}

type ErrorPayload struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
