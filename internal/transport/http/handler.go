package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/arbiter"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/control"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/pkg/httputil"
)

// Handler — HTTP-фасад плоскости управления для локальной панели.
type Handler struct {
	plane *control.Plane
}

func NewHandler(plane *control.Plane) *Handler {
	return &Handler{plane: plane}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Error("handler."+op+".Decode:", slog.Any("err", err))
		httputil.Error(w, http.StatusBadRequest, "invalid json", "bad_request")
		return false
	}
	return true
}

// writeDomainErr переводит доменные отказы в HTTP-статусы; нераспознанное
// уходит как 500 с логом.
func writeDomainErr(w http.ResponseWriter, op string, err error) {
	var refused *domain.JoinRefusedError
	switch {
	case errors.Is(err, domain.ErrInvalidCommand):
		httputil.Error(w, http.StatusBadRequest, err.Error(), "invalid_command")
	case errors.Is(err, domain.ErrAlreadyInRoom):
		httputil.Error(w, http.StatusConflict, err.Error(), "already_in_room")
	case errors.Is(err, domain.ErrNotInRoom):
		httputil.Error(w, http.StatusNotFound, err.Error(), "not_in_room")
	case errors.Is(err, domain.ErrMemberNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error(), "member_not_found")
	case errors.Is(err, domain.ErrNoSuchRequest):
		httputil.Error(w, http.StatusNotFound, err.Error(), "no_such_request")
	case errors.Is(err, domain.ErrNoPermission):
		httputil.Error(w, http.StatusForbidden, err.Error(), "no_permission")
	case errors.Is(err, domain.ErrNotController):
		httputil.Error(w, http.StatusForbidden, err.Error(), "not_controller")
	case errors.Is(err, domain.ErrNotOwner):
		httputil.Error(w, http.StatusForbidden, err.Error(), "not_owner")
	case errors.Is(err, domain.ErrRoleLocked):
		httputil.Error(w, http.StatusConflict, err.Error(), "role_locked")
	case errors.Is(err, domain.ErrRoomFull):
		httputil.Error(w, http.StatusConflict, err.Error(), "room_full")
	case errors.As(err, &refused):
		httputil.Error(w, http.StatusConflict, err.Error(), "join_refused")
	default:
		slog.Error("handler."+op+":", slog.Any("err", err))
		httputil.Error(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func (h *Handler) roomResponse(room domain.Room) RoomResponse {
	_, members, _ := h.plane.Room()
	return RoomResponse{
		Room:        room,
		Members:     members,
		SelfID:      h.plane.SelfID(),
		ControlMode: h.plane.ControlMode(),
	}
}

// GET /v1/room
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, members, ok := h.plane.Room()
	if !ok {
		httputil.Error(w, http.StatusNotFound, "not in a room", "not_in_room")
		return
	}
	httputil.OK(w, RoomResponse{
		Room:        room,
		Members:     members,
		SelfID:      h.plane.SelfID(),
		ControlMode: h.plane.ControlMode(),
	})
}

// POST /v1/room
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !h.decode(w, r, "CreateRoom", &req) {
		return
	}
	room, err := h.plane.CreateRoom(r.Context(), req.Name, req.MaxMembers)
	if err != nil {
		writeDomainErr(w, "CreateRoom", err)
		return
	}
	httputil.Created(w, h.roomResponse(room))
}

// POST /v1/room/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if !h.decode(w, r, "JoinRoom", &req) {
		return
	}
	if req.Address == "" {
		httputil.Error(w, http.StatusBadRequest, "address is required", "bad_request")
		return
	}
	room, err := h.plane.JoinRoom(r.Context(), req.Address, req.Port, req.Nickname)
	if err != nil {
		writeDomainErr(w, "JoinRoom", err)
		return
	}
	httputil.OK(w, h.roomResponse(room))
}

// POST /v1/room/leave
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.plane.LeaveRoom(r.Context()); err != nil {
		writeDomainErr(w, "LeaveRoom", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "left"})
}

// GET /v1/rooms/discovered
func (h *Handler) DiscoveredRooms(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.plane.DiscoveredRooms())
}

// POST /v1/rooms/scan
func (h *Handler) ScanRooms(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	// тело опционально: без него сканируем с таймаутом по умолчанию
	_ = json.NewDecoder(r.Body).Decode(&req)

	rooms, err := h.plane.ScanRooms(r.Context(), time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		writeDomainErr(w, "ScanRooms", err)
		return
	}
	httputil.OK(w, rooms)
}

// POST /v1/commands
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !h.decode(w, r, "SendCommand", &req) {
		return
	}
	id, err := h.plane.SendCommand(r.Context(), req.TargetID, req.ControlCommand)
	if err != nil {
		writeDomainErr(w, "SendCommand", err)
		return
	}
	httputil.OK(w, CommandAccepted{CommandID: id})
}

// POST /v1/chat
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, "SendChat", &req) {
		return
	}
	if req.Text == "" {
		httputil.Error(w, http.StatusBadRequest, "text is required", "bad_request")
		return
	}
	if err := h.plane.SendChat(req.Text); err != nil {
		writeDomainErr(w, "SendChat", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "sent"})
}

// POST /v1/status
func (h *Handler) PublishStatus(w http.ResponseWriter, r *http.Request) {
	var snap domain.StatusSnapshot
	if !h.decode(w, r, "PublishStatus", &snap) {
		return
	}
	if err := h.plane.PublishDeviceStatus(snap); err != nil {
		writeDomainErr(w, "PublishStatus", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "published"})
}

// POST /v1/role
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !h.decode(w, r, "SetRole", &req) {
		return
	}
	role := domain.PermissionRole(req.Role)
	if !role.Valid() {
		httputil.Error(w, http.StatusBadRequest, "unknown role", "bad_request")
		return
	}
	if err := h.plane.SetMyRole(role); err != nil {
		writeDomainErr(w, "SetRole", err)
		return
	}
	httputil.OK(w, map[string]string{"role": string(role)})
}

// POST /v1/permissions/request
func (h *Handler) RequestControl(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequestBody
	if !h.decode(w, r, "RequestControl", &req) {
		return
	}
	id, err := h.plane.RequestControl(req.TargetID)
	if err != nil {
		writeDomainErr(w, "RequestControl", err)
		return
	}
	httputil.OK(w, PermissionRequestAccepted{RequestID: id})
}

// POST /v1/permissions/respond
func (h *Handler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	var req PermissionRespondBody
	if !h.decode(w, r, "RespondToRequest", &req) {
		return
	}
	if err := h.plane.RespondToRequest(req.RequestID, req.Grant, req.Reason); err != nil {
		writeDomainErr(w, "RespondToRequest", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "responded"})
}

// POST /v1/permissions/revoke
func (h *Handler) RevokeControl(w http.ResponseWriter, r *http.Request) {
	var req PermissionRevokeBody
	if !h.decode(w, r, "RevokeControl", &req) {
		return
	}
	if err := h.plane.RevokeControl(req.ControllerID); err != nil {
		writeDomainErr(w, "RevokeControl", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "revoked"})
}

// POST /v1/permissions/force
func (h *Handler) ForceGrant(w http.ResponseWriter, r *http.Request) {
	var req PermissionForceBody
	if !h.decode(w, r, "ForceGrant", &req) {
		return
	}
	if err := h.plane.ForceGrantControl(req.ControllerID, req.ControlledID, req.Lock); err != nil {
		writeDomainErr(w, "ForceGrant", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "granted"})
}

// POST /v1/permissions/lock
func (h *Handler) SetLock(w http.ResponseWriter, r *http.Request) {
	var req PermissionLockBody
	if !h.decode(w, r, "SetLock", &req) {
		return
	}
	if err := h.plane.SetControlLock(req.ControllerID, req.ControlledID, req.Enabled); err != nil {
		writeDomainErr(w, "SetLock", err)
		return
	}
	httputil.OK(w, map[string]string{"status": "updated"})
}

// POST /v1/control-mode
func (h *Handler) SetControlMode(w http.ResponseWriter, r *http.Request) {
	var req ControlModeRequest
	if !h.decode(w, r, "SetControlMode", &req) {
		return
	}
	if !arbiter.Mode(req.Mode).Valid() {
		httputil.Error(w, http.StatusBadRequest, "unknown control mode", "bad_request")
		return
	}
	if err := h.plane.SetControlMode(req.Mode); err != nil {
		writeDomainErr(w, "SetControlMode", err)
		return
	}
	httputil.OK(w, map[string]string{"controlMode": req.Mode})
}
