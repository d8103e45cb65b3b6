package domain

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"
)

// roomCodeAlphabet — без визуально неоднозначных символов (0/O, 1/I/L),
// код диктуют голосом через комнату.
const (
	roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
)

// NewID генерирует стабильный идентификатор участника/команды/запроса.
func NewID() string {
	return uuid.NewString()
}

// NewRoomCode генерирует 6-символьный код комнаты (криптостойкий источник).
func NewRoomCode() (string, error) {
	raw := make([]byte, roomCodeLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}

	code := make([]byte, roomCodeLength)
	for i, b := range raw {
		code[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(code), nil
}
