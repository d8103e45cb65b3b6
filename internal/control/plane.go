package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/arbiter"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/device"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/discovery"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/permission"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/session"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

// housekeepingEvery — период уборки протухших pending-запросов.
const housekeepingEvery = 30 * time.Second

type Config struct {
	Nickname   string
	RoomPort   int
	MaxMembers int
	DeviceID   string
	HasDevice  bool
	Scan       discovery.Config
}

// Plane — плоскость управления узла: связывает транспорт сессии, модель
// прав, арбитраж аренд, реестр устройств и discovery в один фасад, которым
// пользуются шлюз и демон. Один процесс — одна Plane, одна комната за раз.
type Plane struct {
	cfg Config

	baseID  string
	perm    *permission.Service
	edges   *permission.RoomEdges
	arb     *arbiter.Engine
	devices *device.Registry
	scanner *discovery.Scanner
	bus     *bus

	mu         sync.RWMutex
	selfID     string
	nickname   string
	room       *domain.Room
	isHost     bool
	host       *session.Host
	client     *session.Client
	roster     *session.Roster
	discovered []discovery.Result

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Plane {
	if cfg.Nickname == "" {
		cfg.Nickname = "operator"
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = 10
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "default"
	}
	if cfg.Scan.Port == 0 {
		cfg.Scan.Port = cfg.RoomPort
	}

	baseID := domain.NewID()
	return &Plane{
		cfg:      cfg,
		baseID:   baseID,
		selfID:   baseID,
		nickname: cfg.Nickname,
		perm:     permission.NewService(baseID),
		edges:    permission.NewRoomEdges(),
		arb:      arbiter.New(arbiter.ModeSingleControl),
		devices:  device.NewRegistry(),
		scanner:  discovery.NewScanner(cfg.Scan, baseID),
		bus:      newBus(),
	}
}

// Start запускает фоновые задачи: периодический скан сети и уборку
// протухших запросов. Работают до отмены ctx или Close.
func (p *Plane) Start(ctx context.Context) {
	p.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	p.runCtx, p.cancel = runCtx, cancel
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.scanner.Run(runCtx, p.onDiscovered)
	}()
	go func() {
		defer p.wg.Done()
		p.housekeeping(runCtx)
	}()
}

func (p *Plane) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range p.perm.PruneExpired() {
				slog.Info("pending permission request expired", "request", req.ID, "requester", req.RequesterID)
				p.bus.publish(newEvent(EventPermission, PermissionEvent{
					Kind:        "request_expired",
					RequestID:   req.ID,
					RequesterID: req.RequesterID,
					TargetID:    req.TargetID,
				}))
			}
		}
	}
}

// Devices — реестр трансляторов для внешнего аппаратного слоя.
func (p *Plane) Devices() *device.Registry {
	return p.devices
}

// SelfID — идентификатор локального пользователя в текущей сессии.
func (p *Plane) SelfID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selfID
}

// Subscribe — подписка на шину уведомлений.
func (p *Plane) Subscribe() (<-chan Event, func()) {
	return p.bus.subscribe()
}

// Room возвращает снапшот комнаты и участников; ok=false вне комнаты.
func (p *Plane) Room() (domain.Room, []domain.Member, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.room == nil {
		return domain.Room{}, nil, false
	}
	return *p.room, p.roster.Snapshot(), true
}

// DiscoveredRooms — последний снапшот сканера.
func (p *Plane) DiscoveredRooms() []discovery.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]discovery.Result, len(p.discovered))
	copy(out, p.discovered)
	return out
}

// ScanRooms — одиночный скан по требованию, вне фонового расписания.
func (p *Plane) ScanRooms(ctx context.Context, timeoutPerHost time.Duration) ([]discovery.Result, error) {
	results, err := p.scanner.ScanRooms(ctx, timeoutPerHost)
	if err != nil {
		return nil, err
	}
	p.onDiscovered(results)
	return results, nil
}

func (p *Plane) onDiscovered(results []discovery.Result) {
	p.mu.Lock()
	p.discovered = results
	p.mu.Unlock()
	p.bus.publish(newEvent(EventRoomsDiscovered, DiscoveredEvent{Rooms: results}))
}

// CreateRoom создаёт комнату и делает локального пользователя хабом.
func (p *Plane) CreateRoom(ctx context.Context, name string, maxMembers int) (domain.Room, error) {
	p.mu.Lock()
	if p.room != nil {
		p.mu.Unlock()
		return domain.Room{}, domain.ErrAlreadyInRoom
	}
	if name == "" {
		name = p.nickname + "'s room"
	}
	if maxMembers <= 0 {
		maxMembers = p.cfg.MaxMembers
	}

	code, err := domain.NewRoomCode()
	if err != nil {
		p.mu.Unlock()
		return domain.Room{}, fmt.Errorf("generate room code: %w", err)
	}

	now := time.Now().UTC()
	room := domain.Room{
		ID:         domain.NewID(),
		Code:       code,
		Name:       name,
		OwnerID:    p.baseID,
		HostPort:   p.cfg.RoomPort,
		MaxMembers: maxMembers,
		CreatedAt:  now,
	}
	roster := session.NewRoster()
	roster.Upsert(domain.Member{
		ID:             p.baseID,
		Nickname:       p.nickname,
		Role:           domain.RoleOwner,
		PermissionRole: domain.PermObserver,
		IsOnline:       true,
		HasDevice:      p.cfg.HasDevice,
		JoinedAt:       now,
	})
	host := session.NewHost(room, roster, hubHandler{p})

	p.selfID = p.baseID
	p.perm.Reset(p.baseID)
	p.edges.Clear()
	p.arb.Reset(arbiter.ModeSingleControl)
	p.room = &room
	p.isHost = true
	p.host = host
	p.roster = roster
	hostCtx := p.runCtx
	p.mu.Unlock()

	// Хаб живёт до LeaveRoom/Close, а не до конца вызвавшего запроса,
	// поэтому контекст вызова сюда не передаётся.
	if hostCtx == nil {
		hostCtx = context.Background()
	}
	if err := host.Start(hostCtx); err != nil {
		p.mu.Lock()
		p.room = nil
		p.isHost = false
		p.host = nil
		p.roster = nil
		p.mu.Unlock()
		return domain.Room{}, err
	}
	if tcp, ok := host.Addr().(*net.TCPAddr); ok && room.HostPort == 0 {
		// порт 0 — свободный выбрало ядро, фиксируем фактический
		p.mu.Lock()
		room.HostPort = tcp.Port
		p.mu.Unlock()
	}

	slog.Info("room created", "room", room.ID, "code", room.Code, "port", room.HostPort)
	p.bus.publish(newEvent(EventRoomCreated, RoomEvent{Room: room, Members: roster.Snapshot()}))
	return room, nil
}

// JoinRoom подключает локального пользователя спицей к чужому хабу.
// Идентификатор участника выдаёт хаб; локальная модель прав пересоздаётся
// под него — грант из прошлой сессии не переживает границу комнаты.
func (p *Plane) JoinRoom(ctx context.Context, address string, port int, nickname string) (domain.Room, error) {
	p.mu.Lock()
	if p.room != nil {
		p.mu.Unlock()
		return domain.Room{}, domain.ErrAlreadyInRoom
	}
	if nickname == "" {
		nickname = p.nickname
	}
	if port == 0 {
		port = p.cfg.RoomPort
	}
	p.mu.Unlock()

	client, err := session.Dial(ctx, address, port, wire.JoinRequest{Nickname: nickname, HasDevice: p.cfg.HasDevice}, spokeHandler{p})
	if err != nil {
		return domain.Room{}, err
	}
	info := client.JoinInfo()

	room := domain.Room{
		ID:          info.RoomID,
		Code:        info.RoomCode,
		Name:        info.RoomName,
		OwnerID:     info.OwnerID,
		HostAddress: address,
		HostPort:    port,
	}
	roster := session.NewRoster()
	roster.Replace(info.Members)

	mode := arbiter.Mode(info.ControlMode)
	if !mode.Valid() {
		mode = arbiter.ModeSingleControl
	}

	p.mu.Lock()
	if p.room != nil {
		// параллельный въезд успел раньше
		p.mu.Unlock()
		client.Leave()
		return domain.Room{}, domain.ErrAlreadyInRoom
	}
	p.selfID = info.MemberID
	p.nickname = nickname
	p.perm.Reset(info.MemberID)
	p.arb.Reset(mode)
	p.room = &room
	p.isHost = false
	p.client = client
	p.roster = roster
	p.mu.Unlock()

	slog.Info("room joined", "room", room.ID, "member", info.MemberID, "host", address)
	p.bus.publish(newEvent(EventRoomJoined, RoomEvent{Room: room, Members: roster.Snapshot()}))
	return room, nil
}

// LeaveRoom покидает комнату с обеих ролей: хаб гасит звезду целиком,
// спица шлёт прощальный кадр best-effort. Всё состояние прав и аренд
// сбрасывается безусловно.
func (p *Plane) LeaveRoom(ctx context.Context) error {
	p.mu.Lock()
	if p.room == nil {
		p.mu.Unlock()
		return domain.ErrNotInRoom
	}
	room := *p.room
	host := p.host
	client := p.client
	selfID := p.selfID
	p.resetSessionLocked()
	p.mu.Unlock()

	if host != nil {
		left, err := wire.NewEnvelope(wire.TypeMemberLeft, selfID, "", wire.MemberLeft{MemberID: selfID, Reason: "leave"})
		if err == nil {
			host.Broadcast(left, "")
		}
		if err := host.Close(); err != nil {
			slog.Debug("host close", "err", err)
		}
	}
	if client != nil {
		client.Leave()
	}

	slog.Info("room left", "room", room.ID)
	p.bus.publish(newEvent(EventRoomLeft, RoomEvent{Room: room, Reason: "leave"}))
	return nil
}

// resetSessionLocked обнуляет сессионное состояние; p.mu уже взят.
func (p *Plane) resetSessionLocked() {
	p.room = nil
	p.isHost = false
	p.host = nil
	p.client = nil
	p.roster = nil
	p.selfID = p.baseID
	p.perm.Reset(p.baseID)
	p.edges.Clear()
	p.arb.Reset(arbiter.ModeSingleControl)
}

// onDisconnected — обрыв соединения спицы с хабом.
func (p *Plane) onDisconnected(err error) {
	p.mu.Lock()
	if p.room == nil {
		p.mu.Unlock()
		return
	}
	room := *p.room
	p.resetSessionLocked()
	p.mu.Unlock()

	slog.Warn("disconnected from room", "room", room.ID, "err", err)
	p.bus.publish(newEvent(EventRoomLeft, RoomEvent{Room: room, Reason: "disconnect"}))
}

// onMemberJoined — новый участник зачислен хабом (ростер уже обновлён).
func (p *Plane) onMemberJoined(m domain.Member) {
	p.bus.publish(newEvent(EventMemberJoined, MemberEvent{Member: m}))
}

// onMemberLeft — участник снят хабом; вычищаем права и аренды в обе
// стороны, чтобы исчезнувший контроллер не держал цель запертой.
func (p *Plane) onMemberLeft(m domain.Member, reason string) {
	p.edges.RemoveMember(m.ID)
	p.perm.RemovePeer(m.ID)
	p.arb.Drop(m.ID)
	p.bus.publish(newEvent(EventMemberLeft, MemberEvent{Member: m, Reason: reason}))
}

func (p *Plane) discoveryInfo() wire.DiscoveryPong {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.room == nil {
		return wire.DiscoveryPong{}
	}
	return wire.DiscoveryPong{
		RoomID:      p.room.ID,
		RoomCode:    p.room.Code,
		RoomName:    p.room.Name,
		OwnerID:     p.room.OwnerID,
		MemberCount: p.roster.Count(),
		MaxMembers:  p.room.MaxMembers,
	}
}

// Close останавливает фоновые задачи, покидает комнату и закрывает шину.
func (p *Plane) Close() error {
	if err := p.LeaveRoom(context.Background()); err != nil && err != domain.ErrNotInRoom {
		slog.Debug("leave on close", "err", err)
	}
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.bus.close()
	return nil
}

// hubHandler и spokeHandler разводят два транспортных интерфейса сессии
// на методы одной Plane (сигнатуры HandleEnvelope различаются).
type hubHandler struct{ p *Plane }

func (h hubHandler) HandleEnvelope(senderID string, env *wire.Envelope) {
	h.p.hubDispatch(senderID, env)
}
func (h hubHandler) MemberJoined(m domain.Member) { h.p.onMemberJoined(m) }
func (h hubHandler) MemberLeft(m domain.Member, reason string) {
	h.p.onMemberLeft(m, reason)
}
func (h hubHandler) DiscoveryInfo() wire.DiscoveryPong { return h.p.discoveryInfo() }
func (h hubHandler) ControlMode() string               { return string(h.p.arb.Mode()) }

type spokeHandler struct{ p *Plane }

func (s spokeHandler) HandleEnvelope(env *wire.Envelope) { s.p.spokeApply(env) }
func (s spokeHandler) Disconnected(err error)            { s.p.onDisconnected(err) }

// ensureRoom возвращает транспортные ручки текущей сессии под чтением.
func (p *Plane) ensureRoom() (room domain.Room, selfID string, isHost bool, host *session.Host, client *session.Client, roster *session.Roster, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.room == nil {
		err = domain.ErrNotInRoom
		return
	}
	return *p.room, p.selfID, p.isHost, p.host, p.client, p.roster, nil
}

// sendToMember доставляет кадр участнику: хаб шлёт напрямую, спица — через
// хаб (тот смаршрутизирует по targetId).
func (p *Plane) sendToMember(targetID string, env *wire.Envelope) error {
	_, _, isHost, host, client, _, err := p.ensureRoom()
	if err != nil {
		return err
	}
	if isHost {
		return host.SendTo(targetID, env)
	}
	if client == nil {
		return fmt.Errorf("no hub connection")
	}
	return client.Send(env)
}
