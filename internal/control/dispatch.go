package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/arbiter"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

// hubDispatch — маршрутизация кадра спицы на хабе. senderID — подлинная
// личность из таблицы соединений; senderId в самом кадре перештамповывается,
// подделка не уходит дальше хаба.
func (p *Plane) hubDispatch(senderID string, env *wire.Envelope) {
	env.SenderID = senderID

	switch env.Type {
	case wire.TypeControlCommand:
		p.hubCommand(senderID, env)
	case wire.TypeStatusUpdate:
		var snap domain.StatusSnapshot
		if err := env.DecodePayload(&snap); err != nil {
			slog.Debug("bad status update", "sender", senderID, "err", err)
			return
		}
		snap.UserID = senderID
		p.reflectStatus(senderID, snap, env)
	case wire.TypeChat:
		var chat wire.ChatPayload
		if err := env.DecodePayload(&chat); err != nil {
			slog.Debug("bad chat", "sender", senderID, "err", err)
			return
		}
		p.hubBroadcast(env, senderID)
		p.bus.publish(newEvent(EventChat, ChatEvent{From: senderID, Nickname: chat.Nickname, Text: chat.Text}))
	case wire.TypePermissionUpdate:
		var upd wire.PermissionUpdate
		if err := env.DecodePayload(&upd); err != nil {
			slog.Debug("bad permission update", "sender", senderID, "err", err)
			return
		}
		p.applyPermissionUpdate(senderID, upd)
		p.hubBroadcast(env, senderID)
	default:
		slog.Debug("unhandled envelope on hub", "type", env.Type, "sender", senderID)
	}
}

func (p *Plane) reflectStatus(senderID string, snap domain.StatusSnapshot, env *wire.Envelope) {
	_, _, _, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return
	}
	roster.SetStatus(senderID, snap)
	p.hubBroadcast(env, senderID)
	p.bus.publish(newEvent(EventStatus, StatusEvent{StatusSnapshot: snap}))
}

func (p *Plane) hubBroadcast(env *wire.Envelope, exceptID string) {
	_, _, isHost, host, _, _, err := p.ensureRoom()
	if err != nil || !isHost {
		return
	}
	host.Broadcast(env, exceptID)
}

// hubCommand — решение по control_command от спицы. permission_* и
// command_result минуют арбитраж, остальное проходит цепочку «цель в
// сети, право, аренда» и пересылается с обязательным эхом ack/deny
// отправителю.
func (p *Plane) hubCommand(senderID string, env *wire.Envelope) {
	var payload wire.CommandPayload
	if err := env.DecodePayload(&payload); err != nil {
		slog.Debug("bad control command", "sender", senderID, "err", err)
		return
	}
	_, selfID, _, host, _, roster, err := p.ensureRoom()
	if err != nil {
		return
	}

	target := env.TargetID

	// переговоры о правах: вне арбитража
	if domain.IsPermissionAction(payload.Action) {
		if !p.observePermission(senderID, payload.Action, payload.Permission) {
			return
		}
		if target == selfID || target == "" {
			p.applyPermissionAction(senderID, payload)
			return
		}
		if err := host.SendTo(target, env); err != nil {
			slog.Debug("permission frame forward failed", "target", target, "err", err)
		}
		return
	}

	// обратный поток ack-ов: чистая маршрутизация
	if payload.Action == domain.ActionCommandResult {
		if target == selfID {
			p.onCommandResult(senderID, payload)
			return
		}
		if err := host.SendTo(target, env); err != nil {
			slog.Debug("ack forward failed", "target", target, "err", err)
		}
		return
	}

	payload.Normalize(time.Now())
	if target == "" {
		p.ackTo(senderID, payload.CommandID, false, "no target")
		return
	}

	// цель в сети?
	if _, ok := roster.Get(target); !ok || !host.IsOnline(target) {
		p.ackTo(senderID, payload.CommandID, false, "target offline")
		return
	}
	// право управления (авторитетная таблица хаба)
	if !p.edges.HasControl(senderID, target) {
		p.ackTo(senderID, payload.CommandID, false, "no permission")
		return
	}
	// аренда
	dec := p.arb.Evaluate(arbiter.Request{
		SenderID:  senderID,
		TargetID:  target,
		Action:    payload.Action,
		CommandID: payload.CommandID,
		Priority:  payload.Priority,
		LeaseTTL:  time.Duration(payload.LeaseTTLSeconds * float64(time.Second)),
	})
	if !dec.Allowed {
		p.ackTo(senderID, payload.CommandID, false, string(dec.Reason))
		return
	}

	if target == selfID {
		p.deliverLocalCommand(senderID, payload, true)
		return
	}
	// пересылается нормализованный кадр: цель и эхо видят один commandId
	fwd, err := wire.NewEnvelope(wire.TypeControlCommand, senderID, target, payload)
	if err != nil {
		p.ackTo(senderID, payload.CommandID, false, "encode failed")
		return
	}
	if err := host.SendTo(target, fwd); err != nil {
		p.ackTo(senderID, payload.CommandID, false, "target offline")
		return
	}
	p.ackTo(senderID, payload.CommandID, true, string(dec.Reason))
}

// ackTo шлёт command_result отправителю команды; молчание в ответ на
// команду недопустимо.
func (p *Plane) ackTo(memberID, correlationID string, allowed bool, reason string) {
	_, selfID, _, _, _, _, err := p.ensureRoom()
	if err != nil {
		return
	}
	if memberID == selfID {
		p.bus.publish(newEvent(EventCommandResult, CommandResultEvent{
			From:          selfID,
			CorrelationID: correlationID,
			Allowed:       allowed,
			Reason:        reason,
		}))
		return
	}
	result := wire.CommandPayload{
		ControlCommand: domain.ControlCommand{
			Action:        domain.ActionCommandResult,
			CorrelationID: correlationID,
			IssuedAt:      time.Now().UTC(),
		},
		Result: &wire.CommandResult{Allowed: allowed, Reason: reason},
	}
	env, err := wire.NewEnvelope(wire.TypeControlCommand, selfID, memberID, result)
	if err != nil {
		return
	}
	if err := p.sendToMember(memberID, env); err != nil {
		slog.Debug("ack send failed", "target", memberID, "err", err)
	}
}

// deliverLocalCommand — исполнение команды на узле-цели: локальная проверка
// согласия, трансляция в устройство, ack в обратную сторону. alwaysAck
// ставит хаб, который обязан эхо-ответить спице при любом исходе.
func (p *Plane) deliverLocalCommand(fromID string, payload wire.CommandPayload, alwaysAck bool) {
	cmd := payload.ControlCommand

	if !p.perm.CanReceiveControlFrom(fromID) {
		p.ackTo(fromID, cmd.CommandID, false, "not accepting control")
		return
	}

	execErr := p.devices.Dispatch(context.Background(), p.cfg.DeviceID, cmd)
	if execErr != nil {
		slog.Warn("device command failed", "from", fromID, "action", cmd.Action, "err", execErr)
		p.ackTo(fromID, cmd.CommandID, false, execErr.Error())
		return
	}

	p.bus.publish(newEvent(EventCommand, CommandEvent{From: fromID, To: p.SelfID(), Command: cmd}))
	if alwaysAck || cmd.RequireAck {
		p.ackTo(fromID, cmd.CommandID, true, "executed")
	}
}

// onCommandResult — ack/deny дошёл до инициатора команды.
func (p *Plane) onCommandResult(fromID string, payload wire.CommandPayload) {
	allowed := false
	reason := ""
	if payload.Result != nil {
		allowed = payload.Result.Allowed
		reason = payload.Result.Reason
	}
	p.bus.publish(newEvent(EventCommandResult, CommandResultEvent{
		From:          fromID,
		CorrelationID: payload.CorrelationID,
		Allowed:       allowed,
		Reason:        reason,
	}))
}

// spokeApply — приём кадра на спице: хаб уже всё решил, остаётся применить
// к локальным репликам и донести до пользователя.
func (p *Plane) spokeApply(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeMemberJoined:
		var joined wire.MemberJoined
		if err := env.DecodePayload(&joined); err != nil {
			return
		}
		_, _, _, _, _, roster, err := p.ensureRoom()
		if err != nil {
			return
		}
		roster.Upsert(joined.Member)
		p.bus.publish(newEvent(EventMemberJoined, MemberEvent{Member: joined.Member}))
	case wire.TypeMemberLeft:
		p.spokeMemberLeft(env)
	case wire.TypeControlCommand:
		p.spokeCommand(env)
	case wire.TypeStatusUpdate:
		var snap domain.StatusSnapshot
		if err := env.DecodePayload(&snap); err != nil {
			return
		}
		snap.UserID = env.SenderID
		_, _, _, _, _, roster, err := p.ensureRoom()
		if err != nil {
			return
		}
		roster.SetStatus(env.SenderID, snap)
		p.bus.publish(newEvent(EventStatus, StatusEvent{StatusSnapshot: snap}))
	case wire.TypeChat:
		var chat wire.ChatPayload
		if err := env.DecodePayload(&chat); err != nil {
			return
		}
		p.bus.publish(newEvent(EventChat, ChatEvent{From: env.SenderID, Nickname: chat.Nickname, Text: chat.Text}))
	case wire.TypePermissionUpdate:
		var upd wire.PermissionUpdate
		if err := env.DecodePayload(&upd); err != nil {
			return
		}
		p.applyPermissionUpdate(env.SenderID, upd)
	default:
		slog.Debug("unhandled envelope on spoke", "type", env.Type)
	}
}

// spokeMemberLeft: уход владельца означает конец комнаты, уход обычного
// участника — чистку его следов из реплик.
func (p *Plane) spokeMemberLeft(env *wire.Envelope) {
	var left wire.MemberLeft
	if err := env.DecodePayload(&left); err != nil {
		return
	}
	room, _, _, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return
	}

	if left.MemberID == room.OwnerID {
		p.mu.Lock()
		if p.room == nil {
			p.mu.Unlock()
			return
		}
		closing := *p.room
		client := p.client
		p.resetSessionLocked()
		p.mu.Unlock()
		if client != nil {
			client.Close()
		}
		slog.Info("room closed by owner", "room", closing.ID)
		p.bus.publish(newEvent(EventRoomLeft, RoomEvent{Room: closing, Reason: "host_closed"}))
		return
	}

	member, _ := roster.Remove(left.MemberID)
	member.ID = left.MemberID
	p.perm.RemovePeer(left.MemberID)
	p.bus.publish(newEvent(EventMemberLeft, MemberEvent{Member: member, Reason: left.Reason}))
}

// spokeCommand — control_command, добравшийся до спицы.
func (p *Plane) spokeCommand(env *wire.Envelope) {
	var payload wire.CommandPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	if domain.IsPermissionAction(payload.Action) {
		p.applyPermissionAction(env.SenderID, payload)
		return
	}
	if payload.Action == domain.ActionCommandResult {
		p.onCommandResult(env.SenderID, payload)
		return
	}
	p.deliverLocalCommand(env.SenderID, payload, false)
}
