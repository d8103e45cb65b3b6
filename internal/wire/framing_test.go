package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func chatEnvelope(t *testing.T, text string) *Envelope {
	t.Helper()
	env, err := NewEnvelope(TypeChat, "u1", "u2", ChatPayload{Nickname: "оператор", Text: text})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	env := chatEnvelope(t, "проверка связи")

	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got == nil {
		t.Fatalf("round trip lost the envelope")
	}
	if got.Type != TypeChat || got.SenderID != "u1" || got.TargetID != "u2" {
		t.Fatalf("envelope header = %+v", got)
	}
	var chat ChatPayload
	if err := got.DecodePayload(&chat); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if chat.Nickname != "оператор" || chat.Text != "проверка связи" {
		t.Fatalf("payload = %+v", chat)
	}
}

func TestReadConsecutiveFramesStayInSync(t *testing.T) {
	var buf bytes.Buffer
	for _, text := range []string{"первый", "второй", "третий"} {
		if err := WriteEnvelope(&buf, chatEnvelope(t, text)); err != nil {
			t.Fatalf("WriteEnvelope(%s): %v", text, err)
		}
	}

	for _, want := range []string{"первый", "второй", "третий"} {
		env, err := ReadEnvelope(&buf)
		if err != nil || env == nil {
			t.Fatalf("ReadEnvelope: env=%v err=%v", env, err)
		}
		var chat ChatPayload
		if err := env.DecodePayload(&chat); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if chat.Text != want {
			t.Fatalf("frame order broken: got %q, want %q", chat.Text, want)
		}
	}
}

func TestReadRejectsBadLengthPrefix(t *testing.T) {
	cases := map[string]uint32{
		"zero":     0,
		"negative": 0xFFFFFFFF, // int32(-1)
		"oversize": MaxFrameSize + 1,
	}
	for name, raw := range cases {
		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], raw)
		env, err := ReadEnvelope(bytes.NewReader(header[:]))
		if env != nil || !errors.Is(err, ErrFraming) {
			t.Fatalf("%s prefix: env=%v err=%v, want ErrFraming", name, env, err)
		}
	}
}

func TestReadGarbageJSONKeepsStream(t *testing.T) {
	var buf bytes.Buffer

	// корректный кадр с нечитаемым телом, за ним нормальный конверт
	garbage := []byte(`{"type": 12, nope`)
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(garbage)))
	buf.Write(header[:])
	buf.Write(garbage)
	if err := WriteEnvelope(&buf, chatEnvelope(t, "после мусора")); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	env, err := ReadEnvelope(&buf)
	if env != nil || err != nil {
		t.Fatalf("garbage frame: env=%v err=%v, want (nil, nil)", env, err)
	}

	env, err = ReadEnvelope(&buf)
	if err != nil || env == nil {
		t.Fatalf("stream must survive a garbage frame: env=%v err=%v", env, err)
	}
	var chat ChatPayload
	if err := env.DecodePayload(&chat); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if chat.Text != "после мусора" {
		t.Fatalf("next frame = %q, want the one after the garbage", chat.Text)
	}
}

func TestReadTruncatedBodyFails(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], 64)
	buf.Write(header[:])
	buf.WriteString("short")

	env, err := ReadEnvelope(&buf)
	if env != nil || err == nil {
		t.Fatalf("truncated body: env=%v err=%v, want error", env, err)
	}
}

func TestWriteRejectsOversizedEnvelope(t *testing.T) {
	var buf bytes.Buffer
	env := &Envelope{Type: TypeChat, SenderID: "u1", Data: strings.Repeat("x", MaxFrameSize)}

	err := WriteEnvelope(&buf, env)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want ErrFraming", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized envelope must not leave bytes on the wire, wrote %d", buf.Len())
	}
}

func TestEnvelopeDataIsDoubleEncoded(t *testing.T) {
	env, err := NewEnvelope(TypeJoinRequest, "u1", "", JoinRequest{Nickname: "alice", HasDevice: true})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	// на проводе data — строка с JSON, не вложенный объект
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, ok := outer["data"].(string)
	if !ok {
		t.Fatalf("data field = %T, want string", outer["data"])
	}
	var req JoinRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		t.Fatalf("inner json: %v", err)
	}
	if req.Nickname != "alice" || !req.HasDevice {
		t.Fatalf("inner payload = %+v", req)
	}
}

func TestEnvelopeNilPayloadEmptyData(t *testing.T) {
	env, err := NewEnvelope(TypeDiscoveryPing, "scanner-1", "", nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Data != "" {
		t.Fatalf("nil payload data = %q, want empty", env.Data)
	}
}

func TestConnSendReceiveOverPipe(t *testing.T) {
	a, b := net.Pipe()
	ca, cb := NewConn(a), NewConn(b)
	defer ca.Close()
	defer cb.Close()

	env := chatEnvelope(t, "через пайп")
	sent := make(chan error, 1)
	go func() { sent <- ca.Send(env) }()

	got, err := cb.ReceiveTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("ReceiveTimeout: %v", err)
	}
	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	var chat ChatPayload
	if err := got.DecodePayload(&chat); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if chat.Text != "через пайп" {
		t.Fatalf("payload = %+v", chat)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)

	select {
	case <-c.Done():
		t.Fatalf("Done closed before Close")
	default:
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done must be closed after Close")
	}
}
