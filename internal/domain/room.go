package domain

import "time"

// Room описывает комнату сессии. Создаётся хабом при CreateRoom и неизменна
// до выхода; в процессе живёт не больше одной комнаты одновременно.
type Room struct {
	ID          string    `json:"roomId"`
	Code        string    `json:"roomCode"`
	Name        string    `json:"roomName"`
	OwnerID     string    `json:"ownerId"`
	HostAddress string    `json:"hostAddress"`
	HostPort    int       `json:"hostPort"`
	MaxMembers  int       `json:"maxMembers"`
	CreatedAt   time.Time `json:"createdAt"`
}
