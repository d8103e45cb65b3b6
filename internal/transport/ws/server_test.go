package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/control"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/device"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestWS(t *testing.T) (*websocket.Conn, *control.Plane) {
	t.Helper()
	plane := control.New(control.Config{Nickname: "ws", RoomPort: 0, MaxMembers: 4, HasDevice: true})
	t.Cleanup(func() { _ = plane.Close() })

	srv := httptest.NewServer(http.HandlerFunc(NewServer(plane).HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, plane
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type eventFrame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// waitFrame читает кадры, пропуская чужие типы, пока не встретит нужный.
func waitFrame(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q frame: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

// waitEvent ждёт кадр type=event с нужным kind шины.
func waitEvent(t *testing.T, conn *websocket.Conn, kind string) eventFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q event: %v", kind, err)
		}
		if f.Type != TypeEvent {
			continue
		}
		var ev eventFrame
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestStateFrameOnConnect(t *testing.T) {
	conn, plane := dialTestWS(t)

	f := waitFrame(t, conn, TypeState)
	var st StatePayload
	require.NoError(t, json.Unmarshal(f.Payload, &st))
	assert.Equal(t, plane.SelfID(), st.SelfID)
	assert.False(t, st.InRoom)
	assert.Equal(t, "single_control", st.ControlMode)

	_, err := plane.CreateRoom(context.Background(), "Комната", 4)
	require.NoError(t, err)

	ev := waitEvent(t, conn, "room_created")
	var data struct {
		Room domain.Room `json:"room"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "Комната", data.Room.Name)
	assert.NotZero(t, data.Room.HostPort)
}

func TestInboundChatAndCommand(t *testing.T) {
	conn, plane := dialTestWS(t)
	waitFrame(t, conn, TypeState)

	// чат без комнаты отклоняется кадром error
	require.NoError(t, conn.WriteJSON(Message{Type: TypeChat, Payload: ChatInPayload{Text: "рано"}}))
	errf := waitFrame(t, conn, TypeError)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(errf.Payload, &ep))
	assert.Equal(t, TypeChat, ep.Op)
	assert.Contains(t, ep.Message, "not in a room")

	_, err := plane.CreateRoom(context.Background(), "к", 4)
	require.NoError(t, err)
	waitEvent(t, conn, "room_created")

	got := make(chan domain.ControlCommand, 1)
	plane.Devices().Register("default", domain.ActionAdjust, device.TranslatorFunc(
		func(ctx context.Context, cmd domain.ControlCommand) error {
			got <- cmd
			return nil
		}))

	cmd := CommandInPayload{TargetID: plane.SelfID()}
	cmd.Action = domain.ActionAdjust
	cmd.Channel = "B"
	cmd.Value = -10
	require.NoError(t, conn.WriteJSON(Message{Type: TypeCommand, Payload: cmd}))

	ack := waitFrame(t, conn, TypeAck)
	var ap AckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ap))
	assert.Equal(t, TypeCommand, ap.Op)
	assert.NotEmpty(t, ap.CommandID)

	select {
	case c := <-got:
		assert.Equal(t, "B", c.Channel)
		assert.Equal(t, float64(-10), c.Value)
		assert.Equal(t, ap.CommandID, c.CommandID)
	case <-time.After(2 * time.Second):
		t.Fatal("translator was not called")
	}

	// чат в комнате: ack отправителю и событие в общем потоке
	require.NoError(t, conn.WriteJSON(Message{Type: TypeChat, Payload: ChatInPayload{Text: "ну что, поехали"}}))
	waitFrame(t, conn, TypeAck)
	ev := waitEvent(t, conn, "chat")
	var chat struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &chat))
	assert.Equal(t, "ну что, поехали", chat.Text)
}

func TestClientDisconnectDoesNotBlockPlane(t *testing.T) {
	conn, plane := dialTestWS(t)
	waitFrame(t, conn, TypeState)

	require.NoError(t, conn.Close())

	// обрыв подписчика не должен стопорить публикацию событий
	done := make(chan error, 1)
	go func() {
		_, err := plane.CreateRoom(context.Background(), "после обрыва", 2)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("plane blocked after ws client vanished")
	}
}
