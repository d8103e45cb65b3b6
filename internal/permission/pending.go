package permission

import "time"

// Статусы ожидающего запроса прав.
const (
	StatusPending  = "pending"
	StatusGranted  = "granted"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// RequestTypeControl — единственный тип запроса в этой версии протокола.
const RequestTypeControl = "control"

// PendingTTL ограничивает жизнь запроса, на который человек так и не ответил:
// без срока таблица ожидающих запросов росла бы неограниченно.
const PendingTTL = 120 * time.Second

// PendingRequest живёт от RequestControl до ответа или истечения TTL.
type PendingRequest struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requesterId"`
	TargetID    string    `json:"targetId"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r *PendingRequest) expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) >= PendingTTL
}
