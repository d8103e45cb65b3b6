package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

const defaultHandshakeTimeout = 5 * time.Second

// Handler — семантический слой над транспортом хаба. Host решает только
// транспортные вопросы (приём, рукопожатие, рассылка, обрывы); всё
// содержательное — пайплайн команд, права, аренды — живёт за этим
// интерфейсом.
type Handler interface {
	// HandleEnvelope получает каждый содержательный кадр спицы. senderID
	// взят из таблицы соединений, а не из кадра: спица не может
	// подписаться чужим id.
	HandleEnvelope(senderID string, env *wire.Envelope)
	// MemberJoined вызывается после зачисления и рассылки.
	MemberJoined(m domain.Member)
	// MemberLeft вызывается после снятия участника; reason — "leave"
	// либо "disconnect".
	MemberLeft(m domain.Member, reason string)
	// DiscoveryInfo — метаданные для ответа на discovery_ping.
	DiscoveryInfo() wire.DiscoveryPong
	// ControlMode — текущий режим арбитража для join_response.
	ControlMode() string
}

// Host — хаб комнаты: единственный слушающий сокет звезды. Все спицы
// подключаются сюда, весь трафик между ними проходит через него.
type Host struct {
	room    domain.Room
	roster  *Roster
	handler Handler

	handshakeTimeout time.Duration

	ln     net.Listener
	mu     sync.RWMutex
	conns  map[string]*wire.Conn
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHost(room domain.Room, roster *Roster, handler Handler) *Host {
	return &Host{
		room:             room,
		roster:           roster,
		handler:          handler,
		handshakeTimeout: defaultHandshakeTimeout,
		conns:            make(map[string]*wire.Conn),
	}
}

// Start занимает фиксированный порт комнаты и запускает цикл приёма.
// Занятый порт — ошибка настройки, а не протокольный отказ.
func (h *Host) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(h.room.HostPort)))
	if err != nil {
		return fmt.Errorf("bind room port %d (busy by another process?): %w", h.room.HostPort, err)
	}
	h.ln = ln

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.acceptLoop(ctx)
	return nil
}

func (h *Host) acceptLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		nc, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			slog.Warn("room accept failed", "err", err)
			continue
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleConn(nc)
		}()
	}
}

// handleConn — рукопожатие нового соединения: discovery-пинг отвечаем и
// закрываем, join ведёт в постоянный цикл приёма.
func (h *Host) handleConn(nc net.Conn) {
	conn := wire.NewConn(nc)

	env, err := conn.ReceiveTimeout(h.handshakeTimeout)
	if err != nil || env == nil {
		conn.Close()
		return
	}

	switch env.Type {
	case wire.TypeDiscoveryPing:
		pong, err := wire.NewEnvelope(wire.TypeDiscoveryPong, h.room.OwnerID, env.SenderID, h.handler.DiscoveryInfo())
		if err == nil {
			_ = conn.Send(pong)
		}
		conn.Close()
	case wire.TypeJoinRequest:
		h.admit(conn, env)
	default:
		conn.Close()
	}
}

func (h *Host) refuse(conn *wire.Conn, reason string) {
	resp, err := wire.NewEnvelope(wire.TypeJoinResponse, h.room.OwnerID, "", wire.JoinResponse{Success: false, Reason: reason})
	if err == nil {
		_ = conn.Send(resp)
	}
	conn.Close()
}

func (h *Host) admit(conn *wire.Conn, env *wire.Envelope) {
	var req wire.JoinRequest
	if err := env.DecodePayload(&req); err != nil {
		h.refuse(conn, "malformed join request")
		return
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = "guest"
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.refuse(conn, "room is closed")
		return
	}
	if h.roster.Count() >= h.room.MaxMembers {
		h.mu.Unlock()
		h.refuse(conn, "room is full")
		return
	}
	member := domain.Member{
		ID:             domain.NewID(),
		Nickname:       nickname,
		Role:           domain.RoleMember,
		PermissionRole: domain.PermObserver,
		IsOnline:       true,
		HasDevice:      req.HasDevice,
		JoinedAt:       time.Now().UTC(),
	}
	h.roster.Upsert(member)
	h.conns[member.ID] = conn
	h.mu.Unlock()

	resp := wire.JoinResponse{
		Success:     true,
		MemberID:    member.ID,
		RoomID:      h.room.ID,
		RoomCode:    h.room.Code,
		RoomName:    h.room.Name,
		OwnerID:     h.room.OwnerID,
		ControlMode: h.handler.ControlMode(),
		Members:     h.roster.Snapshot(),
	}
	respEnv, err := wire.NewEnvelope(wire.TypeJoinResponse, h.room.OwnerID, member.ID, resp)
	if err == nil {
		err = conn.Send(respEnv)
	}
	if err != nil {
		// вход не состоялся: убрать молча, участник ещё никому не объявлен
		h.mu.Lock()
		delete(h.conns, member.ID)
		h.mu.Unlock()
		h.roster.Remove(member.ID)
		conn.Close()
		return
	}

	joined, err := wire.NewEnvelope(wire.TypeMemberJoined, h.room.OwnerID, "", wire.MemberJoined{Member: member})
	if err == nil {
		h.Broadcast(joined, member.ID)
	}
	h.handler.MemberJoined(member)

	slog.Info("member joined", "member", member.ID, "nickname", member.Nickname, "remote", conn.RemoteAddr())
	h.receiveLoop(member.ID, conn)
}

func (h *Host) receiveLoop(memberID string, conn *wire.Conn) {
	for {
		env, err := conn.Receive()
		if err != nil {
			h.drop(memberID, "disconnect")
			return
		}
		if env == nil {
			continue // кадр был, сообщения не было
		}
		if env.Type == wire.TypeMemberLeft {
			h.drop(memberID, "leave")
			return
		}
		h.handler.HandleEnvelope(memberID, env)
	}
}

// drop снимает участника: соединение, ростер, широковещательный member_left
// и уведомление семантического слоя — и при явном leave, и при обрыве.
func (h *Host) drop(memberID, reason string) {
	h.mu.Lock()
	conn, ok := h.conns[memberID]
	delete(h.conns, memberID)
	h.mu.Unlock()
	if !ok {
		return // уже снят параллельным путём
	}
	conn.Close()

	member, existed := h.roster.Remove(memberID)
	if !existed {
		return
	}

	left, err := wire.NewEnvelope(wire.TypeMemberLeft, h.room.OwnerID, "", wire.MemberLeft{MemberID: memberID, Reason: reason})
	if err == nil {
		h.Broadcast(left, "")
	}
	slog.Info("member left", "member", memberID, "reason", reason)
	h.handler.MemberLeft(member, reason)
}

// SendTo доставляет кадр одной спице.
func (h *Host) SendTo(memberID string, env *wire.Envelope) error {
	h.mu.RLock()
	conn, ok := h.conns[memberID]
	h.mu.RUnlock()
	if !ok {
		return domain.ErrMemberNotFound
	}
	return conn.Send(env)
}

// Broadcast рассылает кадр всем спицам, кроме exceptID.
func (h *Host) Broadcast(env *wire.Envelope, exceptID string) {
	h.mu.RLock()
	targets := make(map[string]*wire.Conn, len(h.conns))
	for id, conn := range h.conns {
		if id != exceptID {
			targets[id] = conn
		}
	}
	h.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.Send(env); err != nil {
			slog.Debug("broadcast send failed", "member", id, "type", env.Type, "err", err)
		}
	}
}

// IsOnline: подключённая спица либо локальный пользователь самого хаба.
func (h *Host) IsOnline(memberID string) bool {
	if memberID == h.room.OwnerID {
		return true
	}
	h.mu.RLock()
	_, ok := h.conns[memberID]
	h.mu.RUnlock()
	return ok
}

// Kick отключает участника по инициативе хаба.
func (h *Host) Kick(memberID, reason string) {
	h.drop(memberID, reason)
}

// Close гасит комнату: слушающий сокет и все соединения спиц. Прощальный
// кадр, если нужен, рассылает семантический слой до вызова Close.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*wire.Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*wire.Conn)
	h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	var err error
	if h.ln != nil {
		err = h.ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	h.wg.Wait()
	return err
}

// Addr — фактический адрес слушающего сокета (для тестов и статуса).
func (h *Host) Addr() net.Addr {
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}
