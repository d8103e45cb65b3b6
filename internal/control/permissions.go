package control

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/arbiter"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/permission"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

// Соглашение для PermissionPayload во всех permission_*-кадрах:
// RequesterID — сторона-контроллер, TargetID — сторона-управляемый.

// observePermission — учёт permission-кадра спицы в авторитетной таблице
// рёбер хаба. false — кадр не должен уйти дальше: отзыв под блокировкой
// либо принудительное действие не от владельца.
func (p *Plane) observePermission(senderID, action string, pl *wire.PermissionPayload) bool {
	if pl == nil {
		return true
	}
	switch action {
	case domain.ActionPermissionResponse:
		// согласие заявляет только сам управляемый: кадр с чужим TargetID
		// не попадает ни в таблицу, ни дальше по сети
		if pl.TargetID != senderID {
			slog.Debug("permission response with foreign identity dropped", "sender", senderID, "claimed", pl.TargetID)
			return false
		}
		if pl.Granted != nil && *pl.Granted {
			p.edges.Grant(pl.RequesterID, pl.TargetID, permission.EdgeVoluntary)
		}
	case domain.ActionPermissionRevoke:
		if pl.TargetID != senderID {
			slog.Debug("permission revoke with foreign identity dropped", "sender", senderID, "claimed", pl.TargetID)
			return false
		}
		if !p.edges.Revoke(pl.RequesterID, pl.TargetID) {
			slog.Debug("revoke refused: controlled is locked", "controller", pl.RequesterID, "controlled", pl.TargetID, "sender", senderID)
			return false
		}
	case domain.ActionPermissionForceGrant, domain.ActionPermissionLock:
		// Принудительный поток — привилегия владельца, а владелец и есть
		// пользователь хаба; такие кадры от спиц не принимаются.
		slog.Debug("forced permission frame from non-owner dropped", "sender", senderID, "action", action)
		return false
	}
	return true
}

// announceForcedChange — принудительные повороты модели прав хаб объявляет
// всей комнате сам; единственный их источник — локальные операции владельца.
func (p *Plane) announceForcedChange(action string, pl *wire.PermissionPayload) {
	if pl == nil {
		return
	}
	_, selfID, isHost, _, _, roster, err := p.ensureRoom()
	if err != nil || !isHost {
		return
	}

	var upd wire.PermissionUpdate
	switch action {
	case domain.ActionPermissionForceGrant:
		locked := pl.Locked != nil && *pl.Locked
		upd = wire.PermissionUpdate{Kind: "force_granted", ControllerID: pl.RequesterID, ControlledID: pl.TargetID, Locked: locked}
		roster.SetPermissionRole(pl.TargetID, domain.PermControlled)
	case domain.ActionPermissionLock:
		enabled := pl.Locked != nil && *pl.Locked
		kind := "lock_cleared"
		if enabled {
			kind = "lock_set"
			roster.SetPermissionRole(pl.TargetID, domain.PermControlled)
		}
		upd = wire.PermissionUpdate{Kind: kind, ControllerID: pl.RequesterID, ControlledID: pl.TargetID, Locked: enabled}
	default:
		return
	}

	env, err := wire.NewEnvelope(wire.TypePermissionUpdate, selfID, "", upd)
	if err == nil {
		p.hubBroadcast(env, "")
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{
		Kind:         upd.Kind,
		ControllerID: upd.ControllerID,
		ControlledID: upd.ControlledID,
		Locked:       upd.Locked,
	}))
}

// applyPermissionAction — узел получил адресованный ему permission_*-кадр.
func (p *Plane) applyPermissionAction(senderID string, payload wire.CommandPayload) {
	pl := payload.Permission
	if pl == nil {
		return
	}
	selfID := p.SelfID()

	switch payload.Action {
	case domain.ActionPermissionRequest:
		req := permission.PendingRequest{
			ID:          pl.RequestID,
			RequesterID: senderID,
			TargetID:    selfID,
			Type:        permission.RequestTypeControl,
			CreatedAt:   time.Now().UTC(),
		}
		if req.ID == "" {
			req.ID = domain.NewID()
		}
		if !p.perm.AddIncomingRequest(req) {
			// роль не controlled — авто-отказ без участия пользователя
			p.sendPermissionResponse(senderID, req.ID, false, "target is not in controlled role")
			return
		}
		p.bus.publish(newEvent(EventPermission, PermissionEvent{
			Kind:        "request_received",
			RequestID:   req.ID,
			RequesterID: senderID,
			TargetID:    selfID,
		}))
	case domain.ActionPermissionResponse:
		granted := pl.Granted != nil && *pl.Granted
		if _, ok := p.perm.ResolveOutgoing(pl.RequestID, granted); !ok {
			slog.Debug("response to unknown request", "request", pl.RequestID, "from", senderID)
			return
		}
		kind := "rejected"
		if granted {
			kind = "granted"
		}
		p.bus.publish(newEvent(EventPermission, PermissionEvent{
			Kind:         kind,
			RequestID:    pl.RequestID,
			ControllerID: selfID,
			ControlledID: senderID,
			Granted:      granted,
			Reason:       pl.Reason,
		}))
	case domain.ActionPermissionRevoke:
		p.perm.ApplyRevoke(senderID)
		p.bus.publish(newEvent(EventPermission, PermissionEvent{
			Kind:         "revoked",
			ControllerID: selfID,
			ControlledID: senderID,
		}))
	case domain.ActionPermissionForceGrant:
		// событие шины придёт с широковещательным permission_update,
		// прямой кадр только применяет состояние
		locked := pl.Locked != nil && *pl.Locked
		p.perm.ApplyForceGrant(pl.RequesterID, pl.TargetID, locked)
	case domain.ActionPermissionLock:
		enabled := pl.Locked != nil && *pl.Locked
		p.perm.ApplyLock(pl.RequesterID, pl.TargetID, enabled)
	}
}

// applyPermissionUpdate — широковещательное изменение прав; на хабе это
// учёт перед переотражением, на спице — приведение реплик.
func (p *Plane) applyPermissionUpdate(senderID string, upd wire.PermissionUpdate) {
	room, _, isHost, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return
	}

	switch upd.Kind {
	case "role_changed":
		userID := upd.UserID
		if userID == "" {
			userID = senderID
		}
		roster.SetPermissionRole(userID, upd.PermissionRole)
		p.bus.publish(newEvent(EventPermission, PermissionEvent{Kind: "role_changed", UserID: userID, Role: upd.PermissionRole}))
	case "mode_changed":
		// режим комнаты меняет только владелец
		if senderID != room.OwnerID {
			slog.Debug("mode change from non-owner ignored", "sender", senderID)
			return
		}
		mode := arbiter.Mode(upd.ControlMode)
		if !mode.Valid() {
			return
		}
		if !isHost {
			p.arb.SetMode(mode)
		}
		p.bus.publish(newEvent(EventPermission, PermissionEvent{Kind: "mode_changed", ControlMode: upd.ControlMode}))
	case "force_granted":
		// принудительные изменения объявляет только хаб
		if senderID != room.OwnerID {
			slog.Debug("forced update from non-owner ignored", "sender", senderID)
			return
		}
		roster.SetPermissionRole(upd.ControlledID, domain.PermControlled)
		p.perm.ApplyForceGrant(upd.ControllerID, upd.ControlledID, upd.Locked)
		p.bus.publish(newEvent(EventPermission, PermissionEvent{
			Kind: "force_granted", ControllerID: upd.ControllerID, ControlledID: upd.ControlledID, Locked: upd.Locked,
		}))
	case "lock_set", "lock_cleared":
		if senderID != room.OwnerID {
			slog.Debug("forced update from non-owner ignored", "sender", senderID)
			return
		}
		enabled := upd.Kind == "lock_set"
		if enabled {
			roster.SetPermissionRole(upd.ControlledID, domain.PermControlled)
		}
		p.perm.ApplyLock(upd.ControllerID, upd.ControlledID, enabled)
		p.bus.publish(newEvent(EventPermission, PermissionEvent{
			Kind: upd.Kind, ControllerID: upd.ControllerID, ControlledID: upd.ControlledID, Locked: enabled,
		}))
	default:
		slog.Debug("unknown permission update", "kind", upd.Kind, "sender", senderID)
	}
}

// sendPermissionCommand упаковывает permission-действие в control_command
// и доставляет адресату.
func (p *Plane) sendPermissionCommand(action, targetID string, pl wire.PermissionPayload) error {
	selfID := p.SelfID()
	payload := wire.CommandPayload{
		ControlCommand: domain.ControlCommand{
			Action:    action,
			CommandID: domain.NewID(),
			IssuedAt:  time.Now().UTC(),
		},
		Permission: &pl,
	}
	env, err := wire.NewEnvelope(wire.TypeControlCommand, selfID, targetID, payload)
	if err != nil {
		return err
	}
	return p.sendToMember(targetID, env)
}

func (p *Plane) sendPermissionResponse(toID, requestID string, granted bool, reason string) {
	err := p.sendPermissionCommand(domain.ActionPermissionResponse, toID, wire.PermissionPayload{
		RequestID:   requestID,
		RequesterID: toID,
		TargetID:    p.SelfID(),
		Granted:     &granted,
		Reason:      reason,
	})
	if err != nil {
		slog.Debug("permission response send failed", "to", toID, "err", err)
	}
}

// SetMyRole меняет роль локального пользователя и объявляет смену комнате.
// Под блокировкой проходит только возврат в controlled.
func (p *Plane) SetMyRole(role domain.PermissionRole) error {
	if !role.Valid() {
		return fmt.Errorf("invalid permission role %q", role)
	}
	_, selfID, isHost, host, client, roster, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if !p.perm.TrySetMyRole(role) {
		return domain.ErrRoleLocked
	}
	roster.SetPermissionRole(selfID, role)

	upd := wire.PermissionUpdate{Kind: "role_changed", UserID: selfID, PermissionRole: role}
	env, err := wire.NewEnvelope(wire.TypePermissionUpdate, selfID, "", upd)
	if err == nil {
		if isHost {
			host.Broadcast(env, "")
		} else if client != nil {
			if err := client.Send(env); err != nil {
				slog.Debug("role change send failed", "err", err)
			}
		}
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{Kind: "role_changed", UserID: selfID, Role: role}))
	return nil
}

// MyRole — текущая роль локального пользователя.
func (p *Plane) MyRole() domain.PermissionRole {
	return p.perm.MyRole()
}

// RequestControl шлёт цели запрос на добровольный грант; ответ придёт
// асинхронно permission_response-кадром.
func (p *Plane) RequestControl(targetID string) (string, error) {
	_, selfID, _, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return "", err
	}
	if targetID == selfID {
		return "", fmt.Errorf("cannot request control of yourself")
	}
	if _, ok := roster.Get(targetID); !ok {
		return "", domain.ErrMemberNotFound
	}

	req, err := p.perm.RequestControl(targetID)
	if err != nil {
		return "", err
	}
	err = p.sendPermissionCommand(domain.ActionPermissionRequest, targetID, wire.PermissionPayload{
		RequestID:   req.ID,
		RequesterID: selfID,
		TargetID:    targetID,
	})
	if err != nil {
		return "", err
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{
		Kind:        "request_sent",
		RequestID:   req.ID,
		RequesterID: selfID,
		TargetID:    targetID,
	}))
	return req.ID, nil
}

// RespondToRequest — ответ пользователя на входящий запрос управления.
func (p *Plane) RespondToRequest(requestID string, grant bool, reason string) error {
	_, selfID, isHost, _, _, _, err := p.ensureRoom()
	if err != nil {
		return err
	}
	req, ok := p.perm.RespondToRequest(requestID, grant)
	if !ok {
		return domain.ErrNoSuchRequest
	}
	if isHost && grant {
		// кадр не пройдёт через hubCommand, учесть ребро на месте
		p.edges.Grant(req.RequesterID, selfID, permission.EdgeVoluntary)
	}
	p.sendPermissionResponse(req.RequesterID, req.ID, grant, reason)

	kind := "rejected"
	if grant {
		kind = "granted"
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{
		Kind:         kind,
		RequestID:    req.ID,
		ControllerID: req.RequesterID,
		ControlledID: selfID,
		Granted:      grant,
		Reason:       reason,
	}))
	return nil
}

// RevokeControl отзывает ранее выданный контроллеру грант. Под блокировкой
// именно этого контроллера отзыв отклоняется.
func (p *Plane) RevokeControl(controllerID string) error {
	_, selfID, isHost, _, _, _, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if err := p.perm.RevokeControl(controllerID); err != nil {
		return err
	}
	if isHost {
		if !p.edges.Revoke(controllerID, selfID) {
			return domain.ErrRoleLocked
		}
	}
	err = p.sendPermissionCommand(domain.ActionPermissionRevoke, controllerID, wire.PermissionPayload{
		RequesterID: controllerID,
		TargetID:    selfID,
	})
	if err != nil {
		slog.Debug("revoke send failed", "controller", controllerID, "err", err)
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{
		Kind:         "revoked",
		ControllerID: controllerID,
		ControlledID: selfID,
	}))
	return nil
}

// ForceGrantControl устанавливает ребро принудительно, минуя согласие цели;
// с lock управляемый лишается права покинуть роль controlled. Доступно
// только владельцу-хабу.
func (p *Plane) ForceGrantControl(controllerID, controlledID string, lock bool) error {
	_, selfID, isHost, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if !isHost {
		return domain.ErrNotOwner
	}
	if _, ok := roster.Get(controllerID); !ok {
		return domain.ErrMemberNotFound
	}
	if _, ok := roster.Get(controlledID); !ok {
		return domain.ErrMemberNotFound
	}

	p.perm.ApplyForceGrant(controllerID, controlledID, lock)
	p.edges.Grant(controllerID, controlledID, permission.EdgeForced)
	if lock {
		p.edges.SetLock(controllerID, controlledID, true)
	}

	pl := wire.PermissionPayload{RequesterID: controllerID, TargetID: controlledID, Locked: &lock}
	if controlledID != selfID {
		if err := p.sendPermissionCommand(domain.ActionPermissionForceGrant, controlledID, pl); err != nil {
			return err
		}
	}
	p.announceForcedChange(domain.ActionPermissionForceGrant, &pl)
	return nil
}

// SetControlLock включает или снимает блокировку; снятие убирает
// принудительное ребро вместе с ней.
func (p *Plane) SetControlLock(controllerID, controlledID string, enabled bool) error {
	_, selfID, isHost, _, _, roster, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if !isHost {
		return domain.ErrNotOwner
	}
	if _, ok := roster.Get(controlledID); !ok {
		return domain.ErrMemberNotFound
	}

	p.perm.ApplyLock(controllerID, controlledID, enabled)
	p.edges.SetLock(controllerID, controlledID, enabled)

	pl := wire.PermissionPayload{RequesterID: controllerID, TargetID: controlledID, Locked: &enabled}
	if controlledID != selfID {
		if err := p.sendPermissionCommand(domain.ActionPermissionLock, controlledID, pl); err != nil {
			return err
		}
	}
	p.announceForcedChange(domain.ActionPermissionLock, &pl)
	return nil
}

// SetControlMode переключает политику арбитража комнаты; доступно только
// владельцу-хабу, спицы получают смену режимом broadcast-ом.
func (p *Plane) SetControlMode(mode string) error {
	_, selfID, isHost, host, _, _, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if !isHost {
		return domain.ErrNotOwner
	}
	m := arbiter.Mode(mode)
	if !m.Valid() {
		return fmt.Errorf("invalid control mode %q", mode)
	}

	// смена политики начинается с чистой таблицы аренд
	p.arb.Reset(m)

	upd := wire.PermissionUpdate{Kind: "mode_changed", ControlMode: mode}
	env, err := wire.NewEnvelope(wire.TypePermissionUpdate, selfID, "", upd)
	if err == nil {
		host.Broadcast(env, "")
	}
	p.bus.publish(newEvent(EventPermission, PermissionEvent{Kind: "mode_changed", ControlMode: mode}))
	return nil
}

// ControlMode — текущая политика арбитража.
func (p *Plane) ControlMode() string {
	return string(p.arb.Mode())
}

// CanControl — есть ли у локального пользователя действующее право слать
// команды цели.
func (p *Plane) CanControl(targetID string) bool {
	return p.perm.HasControlPermission(targetID)
}
