package session

import (
	"sort"
	"sync"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// Roster — таблица участников комнаты под одним общим RWMutex. На хабе это
// авторитетный список, на споке — реплика, которую двигают события
// member_joined/member_left.
type Roster struct {
	mu      sync.RWMutex
	members map[string]domain.Member
}

func NewRoster() *Roster {
	return &Roster{members: make(map[string]domain.Member)}
}

func (r *Roster) Upsert(m domain.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
}

func (r *Roster) Remove(id string) (domain.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	return m, ok
}

func (r *Roster) Get(id string) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Roster) SetOnline(id string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.IsOnline = online
		r.members[id] = m
	}
}

func (r *Roster) SetPermissionRole(id string, role domain.PermissionRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.PermissionRole = role
		r.members[id] = m
	}
}

// SetStatus сохраняет последний снимок устройства участника; флаг
// acceptsControl из снимка поднимается на самого участника.
func (r *Roster) SetStatus(id string, snap domain.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		copied := snap
		m.LastStatus = &copied
		m.AcceptsControl = snap.AcceptsControl
		m.HasDevice = true
		r.members[id] = m
	}
}

// Snapshot — копия таблицы в стабильном порядке (время входа, затем id),
// чтобы UI и JoinResponse всегда видели одинаковую сортировку.
func (r *Roster) Snapshot() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Replace заменяет таблицу целиком (спок после join_response).
func (r *Roster) Replace(members []domain.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]domain.Member, len(members))
	for _, m := range members {
		r.members[m.ID] = m
	}
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]domain.Member)
}
