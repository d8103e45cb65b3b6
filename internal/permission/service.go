package permission

import (
	"sync"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// Service — состояние модели прав локального пользователя: его роль,
// добровольные и принудительные рёбра, касающиеся его самого, блокировка и
// ожидающие запросы. Каждый участник (включая хаб) владеет своей копией;
// общекомнатную таблицу маршрутизации ведёт RoomEdges.
type Service struct {
	mu sync.RWMutex

	selfID string
	role   domain.PermissionRole

	// Добровольные рёбра: voluntaryIn — контроллеры, которым я разрешил
	// управлять собой; voluntaryOut — цели, которые разрешили мне.
	voluntaryIn  map[string]struct{}
	voluntaryOut map[string]struct{}

	// Принудительные рёбра модераторского потока.
	forcedIn  map[string]struct{}
	forcedOut map[string]struct{}

	// lockedBy — контроллер, запретивший мне покидать роль Controlled.
	// Снять блокировку может только он сам (или ClearAll на выходе).
	lockedBy string

	outgoing map[string]*PendingRequest // мои запросы, ждущие ответа цели
	incoming map[string]*PendingRequest // чужие запросы, ждущие моего ответа

	now func() time.Time
}

func NewService(selfID string) *Service {
	return &Service{
		selfID:       selfID,
		role:         domain.PermObserver,
		voluntaryIn:  make(map[string]struct{}),
		voluntaryOut: make(map[string]struct{}),
		forcedIn:     make(map[string]struct{}),
		forcedOut:    make(map[string]struct{}),
		outgoing:     make(map[string]*PendingRequest),
		incoming:     make(map[string]*PendingRequest),
		now:          time.Now,
	}
}

func (s *Service) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

func (s *Service) MyRole() domain.PermissionRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// TrySetMyRole меняет собственную роль. Под блокировкой принимается только
// возврат в Controlled, остальные переходы молча отклоняются — запертый
// участник не может сам сбежать из-под управления.
func (s *Service) TrySetMyRole(role domain.PermissionRole) bool {
	if !role.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedBy != "" && role != domain.PermControlled {
		return false
	}
	s.role = role
	return true
}

func (s *Service) LockedBy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedBy
}

// RequestControl создаёт ожидающий запрос на управление целью. Разрешён
// только из роли Controller.
func (s *Service) RequestControl(targetID string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != domain.PermController {
		return nil, domain.ErrNotController
	}

	req := &PendingRequest{
		ID:          domain.NewID(),
		RequesterID: s.selfID,
		TargetID:    targetID,
		Type:        RequestTypeControl,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	s.outgoing[req.ID] = req
	return req, nil
}

// AddIncomingRequest регистрирует чужой запрос для показа пользователю.
// false — роль не Controlled, вызывающий должен немедленно авто-отклонить.
func (s *Service) AddIncomingRequest(req PendingRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != domain.PermControlled {
		return false
	}
	req.Status = StatusPending
	s.incoming[req.ID] = &req
	return true
}

// RespondToRequest — ответ локального пользователя на входящий запрос.
// Грант добавляет добровольное ребро «requester может управлять мной».
func (s *Service) RespondToRequest(requestID string, grant bool) (*PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.incoming[requestID]
	if !ok {
		return nil, false
	}
	delete(s.incoming, requestID)

	if grant {
		req.Status = StatusGranted
		s.voluntaryIn[req.RequesterID] = struct{}{}
	} else {
		req.Status = StatusRejected
	}
	return req, true
}

// ResolveOutgoing применяет ответ цели на мой запрос.
func (s *Service) ResolveOutgoing(requestID string, granted bool) (*PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.outgoing[requestID]
	if !ok {
		return nil, false
	}
	delete(s.outgoing, requestID)

	if granted {
		req.Status = StatusGranted
		s.voluntaryOut[req.TargetID] = struct{}{}
	} else {
		req.Status = StatusRejected
	}
	return req, true
}

// RevokeControl отзывает право контроллера управлять мной. Отказ, пока меня
// держит блокировка именно этого контроллера: снять её может только он.
func (s *Service) RevokeControl(controllerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedBy == controllerID && controllerID != "" {
		return domain.ErrRoleLocked
	}
	delete(s.voluntaryIn, controllerID)
	return nil
}

// ApplyRevoke — приём уведомления об отзыве на стороне контроллера.
func (s *Service) ApplyRevoke(controlledID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voluntaryOut, controlledID)
}

// ApplyForceGrant устанавливает принудительное ребро безусловно. Если
// controlled — это я, роль немедленно становится Controlled, а при lock
// ещё и запирается.
func (s *Service) ApplyForceGrant(controllerID, controlledID string, lock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if controlledID == s.selfID {
		s.forcedIn[controllerID] = struct{}{}
		s.role = domain.PermControlled
		if lock {
			s.lockedBy = controllerID
		}
	}
	if controllerID == s.selfID {
		s.forcedOut[controlledID] = struct{}{}
	}
}

// ApplyLock включает или снимает блокировку без повторного гранта; снятие
// убирает и принудительное ребро, и блокировку вместе.
func (s *Service) ApplyLock(controllerID, controlledID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if controlledID == s.selfID {
		if enabled {
			s.forcedIn[controllerID] = struct{}{}
			s.role = domain.PermControlled
			s.lockedBy = controllerID
		} else {
			delete(s.forcedIn, controllerID)
			if s.lockedBy == controllerID {
				s.lockedBy = ""
			}
		}
	}
	if controllerID == s.selfID {
		if enabled {
			s.forcedOut[controlledID] = struct{}{}
		} else {
			delete(s.forcedOut, controlledID)
		}
	}
}

// CanReceiveControlFrom: принудительное ребро действует всегда; добровольное —
// только пока моя роль Controlled.
func (s *Service) CanReceiveControlFrom(controllerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.forcedIn[controllerID]; ok {
		return true
	}
	if s.role != domain.PermControlled {
		return false
	}
	_, ok := s.voluntaryIn[controllerID]
	return ok
}

// HasControlPermission: есть ли у меня право слать команды цели.
func (s *Service) HasControlPermission(targetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.forcedOut[targetID]; ok {
		return true
	}
	if s.role != domain.PermController {
		return false
	}
	_, ok := s.voluntaryOut[targetID]
	return ok
}

// RemovePeer забывает всё, что касается вышедшего участника.
func (s *Service) RemovePeer(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.voluntaryIn, memberID)
	delete(s.voluntaryOut, memberID)
	delete(s.forcedIn, memberID)
	delete(s.forcedOut, memberID)
	if s.lockedBy == memberID {
		s.lockedBy = ""
	}
	for id, req := range s.outgoing {
		if req.TargetID == memberID {
			delete(s.outgoing, id)
		}
	}
	for id, req := range s.incoming {
		if req.RequesterID == memberID {
			delete(s.incoming, id)
		}
	}
}

// PruneExpired удаляет запросы старше PendingTTL и возвращает их,
// чтобы вызывающий уведомил заинтересованные стороны.
func (s *Service) PruneExpired() []*PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*PendingRequest
	for id, req := range s.outgoing {
		if req.expired(now) {
			req.Status = StatusExpired
			expired = append(expired, req)
			delete(s.outgoing, id)
		}
	}
	for id, req := range s.incoming {
		if req.expired(now) {
			req.Status = StatusExpired
			expired = append(expired, req)
			delete(s.incoming, id)
		}
	}
	return expired
}

// Reset переводит сервис на новый идентификатор и сбрасывает всё состояние.
// Вызывается на границах сессии: хаб выдаёт споку новый memberId, и права
// прошлой комнаты не должны пережить переезд.
func (s *Service) Reset(selfID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = selfID
	s.clearLocked()
}

// ClearAll сбрасывает всё состояние прав, не меняя идентификатор. Вызывается
// при выходе из комнаты: грант не переживает границу сессии.
func (s *Service) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Service) clearLocked() {
	s.role = domain.PermObserver
	s.lockedBy = ""
	s.voluntaryIn = make(map[string]struct{})
	s.voluntaryOut = make(map[string]struct{})
	s.forcedIn = make(map[string]struct{})
	s.forcedOut = make(map[string]struct{})
	s.outgoing = make(map[string]*PendingRequest)
	s.incoming = make(map[string]*PendingRequest)
}
