package permission

import "sync"

// EdgeKind различает происхождение права: добровольный грант цели или
// принудительный грант модератора.
type EdgeKind string

const (
	EdgeVoluntary EdgeKind = "voluntary"
	EdgeForced    EdgeKind = "forced"
)

// RoomEdges — авторитетная таблица рёбер управления на хосте комнаты.
// Хост сверяется с ней перед пересылкой каждой команды, поэтому участник
// с рассинхронизированной локальной копией не может управлять чужим
// устройством. Ключи: edges[controller][controlled].
type RoomEdges struct {
	mu    sync.RWMutex
	edges map[string]map[string]EdgeKind
	locks map[string]string // controlled -> контроллер, поставивший блокировку
}

func NewRoomEdges() *RoomEdges {
	return &RoomEdges{
		edges: make(map[string]map[string]EdgeKind),
		locks: make(map[string]string),
	}
}

func (r *RoomEdges) Grant(controllerID, controlledID string, kind EdgeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byController, ok := r.edges[controllerID]
	if !ok {
		byController = make(map[string]EdgeKind)
		r.edges[controllerID] = byController
	}
	// Принудительное ребро не понижается до добровольного.
	if byController[controlledID] == EdgeForced && kind == EdgeVoluntary {
		return
	}
	byController[controlledID] = kind
}

// Revoke удаляет ребро. false — цель заперта этим контроллером, отзыв
// должен быть отклонён, пока блокировка не снята.
func (r *RoomEdges) Revoke(controllerID, controlledID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locks[controlledID] == controllerID && controllerID != "" {
		return false
	}
	if byController, ok := r.edges[controllerID]; ok {
		delete(byController, controlledID)
		if len(byController) == 0 {
			delete(r.edges, controllerID)
		}
	}
	return true
}

// SetLock включает/снимает блокировку; включение гарантирует и само
// принудительное ребро, снятие убирает ребро вместе с блокировкой.
func (r *RoomEdges) SetLock(controllerID, controlledID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled {
		byController, ok := r.edges[controllerID]
		if !ok {
			byController = make(map[string]EdgeKind)
			r.edges[controllerID] = byController
		}
		byController[controlledID] = EdgeForced
		r.locks[controlledID] = controllerID
		return
	}
	if r.locks[controlledID] == controllerID {
		delete(r.locks, controlledID)
	}
	if byController, ok := r.edges[controllerID]; ok {
		delete(byController, controlledID)
		if len(byController) == 0 {
			delete(r.edges, controllerID)
		}
	}
}

func (r *RoomEdges) HasControl(controllerID, controlledID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byController, ok := r.edges[controllerID]
	if !ok {
		return false
	}
	_, ok = byController[controlledID]
	return ok
}

func (r *RoomEdges) LockedBy(controlledID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locks[controlledID]
}

// RemoveMember вычищает участника из обеих сторон всех рёбер и блокировок.
func (r *RoomEdges) RemoveMember(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.edges, memberID)
	for controllerID, byController := range r.edges {
		delete(byController, memberID)
		if len(byController) == 0 {
			delete(r.edges, controllerID)
		}
	}
	delete(r.locks, memberID)
	for controlledID, controllerID := range r.locks {
		if controllerID == memberID {
			delete(r.locks, controlledID)
		}
	}
}

func (r *RoomEdges) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = make(map[string]map[string]EdgeKind)
	r.locks = make(map[string]string)
}
