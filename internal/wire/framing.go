package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize ограничивает размер кадра: защищает от неограниченной
// буферизации при повреждённом или враждебном префиксе длины.
const MaxFrameSize = 1 << 20 // 1 MiB

const frameHeaderSize = 4

// ErrFraming — фатальное нарушение кадрирования; соединение после него
// обязано закрыться.
var ErrFraming = errors.New("framing violation")

// WriteEnvelope кадрирует конверт: 4-байтовый little-endian префикс длины +
// UTF-8 JSON. Кадр уходит одним Write — смешивание кадров параллельных
// отправителей исключает send-мьютекс Conn.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: envelope of %d bytes exceeds %d", ErrFraming, len(body), MaxFrameSize)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[:frameHeaderSize], uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadEnvelope читает ровно один кадр. Длина трактуется как знаковый int32:
// length <= 0 или length > MaxFrameSize — ErrFraming (закрыть соединение).
// Нечитаемый JSON внутри корректного кадра — это «нет сообщения»: (nil, nil),
// соединение остаётся живым.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length <= 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared frame length %d", ErrFraming, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil
	}
	return &env, nil
}
