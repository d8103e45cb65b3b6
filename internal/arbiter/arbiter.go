package arbiter

import (
	"sync"
	"time"
)

// Mode — политика арбитража на всю комнату.
type Mode string

const (
	// ModeSingleControl: в каждый момент у цели не больше одного
	// действующего контроллера (аренды обязательны).
	ModeSingleControl Mode = "single_control"
	// ModeCooperative: аренды не ведутся, все разрешённые команды проходят.
	ModeCooperative Mode = "cooperative"
)

func (m Mode) Valid() bool {
	return m == ModeSingleControl || m == ModeCooperative
}

// DefaultLeaseTTL применяется, когда команда не задала leaseTtlSeconds.
const DefaultLeaseTTL = 2 * time.Second

type Reason string

const (
	ReasonGranted            Reason = "granted"
	ReasonRenewed            Reason = "renewed"
	ReasonPreempted          Reason = "preempted"
	ReasonCooperativeAllowed Reason = "cooperative_mode_allowed"
	ReasonLeaseHeldByOther   Reason = "lease_held_by_other"
)

// Lease — эксклюзивное право holderId слать команды одной цели до ExpiresAt.
// Истёкшая аренда равносильна отсутствующей; фонового сборщика нет, истечение
// проверяется лениво при очередном Evaluate.
type Lease struct {
	HolderID  string
	CommandID string
	Priority  int
	ExpiresAt time.Time
}

func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Request — запрос на право исполнить команду sender→target.
type Request struct {
	SenderID  string
	TargetID  string
	Action    string
	CommandID string
	Priority  int
	LeaseTTL  time.Duration
}

// Decision — исход арбитража. Отказ не ошибка: вызывающий обязан донести
// Reason до отправителя, движок сам ничего не ретраит.
type Decision struct {
	Allowed  bool
	Reason   Reason
	HolderID string // держатель аренды после решения (пусто в cooperative)
}

// Engine сериализует эффективное управление каждой целью. Одна таблица
// аренд на комнату, владелец — процесс хаба.
type Engine struct {
	mu     sync.Mutex
	mode   Mode
	leases map[string]Lease // targetID -> аренда

	now func() time.Time
}

func New(mode Mode) *Engine {
	if !mode.Valid() {
		mode = ModeSingleControl
	}
	return &Engine{
		mode:   mode,
		leases: make(map[string]Lease),
		now:    time.Now,
	}
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode меняет политику, не трогая аренды: при возврате в single_control
// остатки либо уже истекли, либо продолжают действовать.
func (e *Engine) SetMode(mode Mode) {
	if !mode.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// Reset сбрасывает все аренды и устанавливает режим. Вызывается на входе в
// комнату и на выходе из неё: аренда прошлой сессии не должна молча
// блокировать новую.
func (e *Engine) Reset(mode Mode) {
	if !mode.Valid() {
		mode = ModeSingleControl
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.leases = make(map[string]Lease)
}

// Evaluate решает, получает ли отправитель право на команду к цели.
func (e *Engine) Evaluate(req Request) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != ModeSingleControl {
		return Decision{Allowed: true, Reason: ReasonCooperativeAllowed}
	}

	now := e.now()
	ttl := req.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	cur, ok := e.leases[req.TargetID]
	if !ok || cur.Expired(now) {
		e.leases[req.TargetID] = Lease{
			HolderID:  req.SenderID,
			CommandID: req.CommandID,
			Priority:  req.Priority,
			ExpiresAt: now.Add(ttl),
		}
		return Decision{Allowed: true, Reason: ReasonGranted, HolderID: req.SenderID}
	}

	if cur.HolderID == req.SenderID {
		// Продление сдвигает только срок: держатель, приоритет и commandId
		// остаются теми, с которыми аренда была выдана.
		cur.ExpiresAt = now.Add(ttl)
		e.leases[req.TargetID] = cur
		return Decision{Allowed: true, Reason: ReasonRenewed, HolderID: req.SenderID}
	}

	if req.Priority > cur.Priority {
		e.leases[req.TargetID] = Lease{
			HolderID:  req.SenderID,
			CommandID: req.CommandID,
			Priority:  req.Priority,
			ExpiresAt: now.Add(ttl),
		}
		return Decision{Allowed: true, Reason: ReasonPreempted, HolderID: req.SenderID}
	}

	// Равный приоритет не вытесняет.
	return Decision{Allowed: false, Reason: ReasonLeaseHeldByOther, HolderID: cur.HolderID}
}

// Drop снимает аренду с цели и все аренды, которые memberID держал сам:
// исчезнувший контроллер не должен оставлять цель запертой до конца TTL.
func (e *Engine) Drop(memberID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.leases, memberID)
	for target, lease := range e.leases {
		if lease.HolderID == memberID {
			delete(e.leases, target)
		}
	}
}

// LeaseFor возвращает действующую аренду цели, если она есть.
func (e *Engine) LeaseFor(targetID string) (Lease, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.leases[targetID]
	if !ok || lease.Expired(e.now()) {
		return Lease{}, false
	}
	return lease, true
}
