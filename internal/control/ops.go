package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

// SendCommand выпускает управляющую команду от имени локального пользователя.
// Команда самому себе идёт прямо в устройство; чужому участнику — через
// проверку собственного права и транспорт (хаб доложит исход ack-ом).
func (p *Plane) SendCommand(ctx context.Context, targetID string, cmd domain.ControlCommand) (string, error) {
	if targetID == "" {
		return "", fmt.Errorf("%w: target is required", domain.ErrInvalidCommand)
	}
	if domain.IsPermissionAction(cmd.Action) || cmd.Action == domain.ActionCommandResult {
		return "", fmt.Errorf("%w: action %q is not a device command", domain.ErrInvalidCommand, cmd.Action)
	}
	cmd.Normalize(time.Now())

	// своё устройство — без комнаты и без прав, чистая локальная операция
	if selfID := p.SelfID(); targetID == selfID {
		if err := p.devices.Dispatch(ctx, p.cfg.DeviceID, cmd); err != nil {
			return "", err
		}
		p.bus.publish(newEvent(EventCommand, CommandEvent{From: selfID, To: selfID, Command: cmd}))
		return cmd.CommandID, nil
	}

	_, selfID, isHost, host, client, roster, err := p.ensureRoom()
	if err != nil {
		return "", err
	}

	if _, ok := roster.Get(targetID); !ok {
		return "", domain.ErrMemberNotFound
	}
	// отправительская проверка: принудительное ребро либо роль controller
	// плюс добровольный грант цели
	if !p.perm.HasControlPermission(targetID) {
		return "", domain.ErrNoPermission
	}

	payload := wire.CommandPayload{ControlCommand: cmd}
	env, err := wire.NewEnvelope(wire.TypeControlCommand, selfID, targetID, payload)
	if err != nil {
		return "", err
	}

	if isHost {
		// команды локального пользователя хаба уходят напрямую, минуя
		// арбитраж: владелец и так единственный локальный отправитель
		if !host.IsOnline(targetID) {
			return "", domain.ErrMemberNotFound
		}
		if err := host.SendTo(targetID, env); err != nil {
			return "", err
		}
	} else {
		if client == nil {
			return "", domain.ErrNotInRoom
		}
		if err := client.Send(env); err != nil {
			return "", err
		}
	}

	p.bus.publish(newEvent(EventCommand, CommandEvent{From: selfID, To: targetID, Outgoing: true, Command: cmd}))
	return cmd.CommandID, nil
}

// SendChat отправляет сообщение всей комнате; хаб переотражает его
// остальным, локальное эхо уходит в шину сразу.
func (p *Plane) SendChat(text string) error {
	if text == "" {
		return fmt.Errorf("empty chat message")
	}
	_, selfID, isHost, host, client, roster, err := p.ensureRoom()
	if err != nil {
		return err
	}

	p.mu.RLock()
	nickname := p.nickname
	p.mu.RUnlock()
	if m, ok := roster.Get(selfID); ok {
		nickname = m.Nickname
	}
	env, err := wire.NewEnvelope(wire.TypeChat, selfID, "", wire.ChatPayload{Nickname: nickname, Text: text})
	if err != nil {
		return err
	}

	if isHost {
		host.Broadcast(env, "")
	} else {
		if client == nil {
			return domain.ErrNotInRoom
		}
		if err := client.Send(env); err != nil {
			return err
		}
	}
	p.bus.publish(newEvent(EventChat, ChatEvent{From: selfID, Nickname: nickname, Text: text}))
	return nil
}

// PublishDeviceStatus разносит снимок состояния локального устройства:
// ростер, комната, шина.
func (p *Plane) PublishDeviceStatus(snap domain.StatusSnapshot) error {
	_, selfID, isHost, host, client, roster, err := p.ensureRoom()
	if err != nil {
		return err
	}
	snap.UserID = selfID
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	roster.SetStatus(selfID, snap)

	env, err := wire.NewEnvelope(wire.TypeStatusUpdate, selfID, "", snap)
	if err != nil {
		return err
	}
	if isHost {
		host.Broadcast(env, "")
	} else {
		if client == nil {
			return domain.ErrNotInRoom
		}
		if err := client.Send(env); err != nil {
			slog.Debug("status send failed", "err", err)
		}
	}
	p.bus.publish(newEvent(EventStatus, StatusEvent{StatusSnapshot: snap}))
	return nil
}
