package domain

import "time"

// MemberRole — членская роль в комнате (старшинство), не путать с
// PermissionRole: владелец комнаты может быть Observer по управлению.
type MemberRole string

const (
	RoleOwner    MemberRole = "owner"
	RoleAdmin    MemberRole = "admin"
	RoleMember   MemberRole = "member"
	RoleObserver MemberRole = "observer"
)

// PermissionRole — роль в модели управления: кто может слать команды,
// кто их исполняет. Роли взаимоисключающие.
type PermissionRole string

const (
	PermController PermissionRole = "controller"
	PermControlled PermissionRole = "controlled"
	PermObserver   PermissionRole = "observer"
)

func (r PermissionRole) Valid() bool {
	switch r {
	case PermController, PermControlled, PermObserver:
		return true
	}
	return false
}

// Member — запись таблицы участников. Хаб владеет авторитетной таблицей;
// споки держат её реплику, обновляемую событиями member_joined/member_left.
type Member struct {
	ID             string          `json:"id"`
	Nickname       string          `json:"nickname"`
	Role           MemberRole      `json:"role"`
	PermissionRole PermissionRole  `json:"permissionRole"`
	IsOnline       bool            `json:"isOnline"`
	HasDevice      bool            `json:"hasDevice"`
	AcceptsControl bool            `json:"acceptsControl"`
	LastStatus     *StatusSnapshot `json:"lastStatus,omitempty"`
	JoinedAt       time.Time       `json:"joinedAt"`
}

// StatusSnapshot — последний известный снимок состояния устройства участника.
type StatusSnapshot struct {
	UserID         string             `json:"userId"`
	Battery        int                `json:"battery,omitempty"`
	Channels       map[string]float64 `json:"channels,omitempty"`
	AcceptsControl bool               `json:"acceptsControl"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}
