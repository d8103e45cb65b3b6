package domain

import (
	"strings"
	"time"
)

// Действия управляющих команд. Устройственные действия исполняет внешний
// device-транслятор; permission_* — служебные, переносят переговоры о правах
// и никогда не проходят арбитраж.
const (
	ActionSet    = "set"    // выставить уровень канала
	ActionAdjust = "adjust" // сдвинуть уровень на value
	ActionWave   = "wave"   // запустить волну из waveformData
	ActionStop   = "stop"   // сбросить канал(ы) в ноль

	ActionCommandResult = "command_result" // ack/deny в ответ на команду

	ActionPermissionRequest    = "permission_request"
	ActionPermissionResponse   = "permission_response"
	ActionPermissionRevoke     = "permission_revoke"
	ActionPermissionForceGrant = "permission_force_grant"
	ActionPermissionLock       = "permission_lock"

	permissionActionPrefix = "permission_"
)

// IsPermissionAction: permission_* команды минуют арбитраж (переговоры о
// правах не должны блокироваться чужой арендой).
func IsPermissionAction(action string) bool {
	return strings.HasPrefix(action, permissionActionPrefix)
}

// ControlCommand — транзиентная команда управления: живёт от отправителя до
// решения маршрутизации и исполнения, нигде не хранится.
type ControlCommand struct {
	Action          string    `json:"action"`
	Channel         string    `json:"channel,omitempty"`
	Value           float64   `json:"value,omitempty"`
	WaveformData    string    `json:"waveformData,omitempty"`
	CommandID       string    `json:"commandId,omitempty"`
	CorrelationID   string    `json:"correlationId,omitempty"`
	IssuedAt        time.Time `json:"issuedAtUtc"`
	RequireAck      bool      `json:"requireAck,omitempty"`
	Priority        int       `json:"priority,omitempty"`
	LeaseTTLSeconds float64   `json:"leaseTtlSeconds,omitempty"`
}

// Normalize заполняет идентификатор и время выпуска, если отправитель их
// не задал. CommandID — ключ идемпотентности и ack-ов.
func (c *ControlCommand) Normalize(now time.Time) {
	if c.CommandID == "" {
		c.CommandID = NewID()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = now.UTC()
	}
}
