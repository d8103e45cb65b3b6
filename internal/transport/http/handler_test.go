package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/control"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/device"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/transport/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *control.Plane) {
	t.Helper()
	plane := control.New(control.Config{Nickname: "gw", RoomPort: 0, MaxMembers: 4, HasDevice: true})
	t.Cleanup(func() { _ = plane.Close() })

	srv := httptest.NewServer(NewRouter(NewHandler(plane), ws.NewServer(plane)))
	t.Cleanup(srv.Close)
	return srv, plane
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

type errorBody struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// decodeResponse разворачивает обёртку {"data": ...} / {"error": ...}.
func decodeResponse(t *testing.T, resp *http.Response, dst any) *errorBody {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *errorBody      `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if env.Error != nil {
		return env.Error
	}
	if dst != nil {
		require.NotNil(t, env.Data, "data is missing in response")
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return nil
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestRoomLifecycle(t *testing.T) {
	srv, plane := newTestServer(t)

	t.Run("no room yet", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/room")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "not_in_room", errb.Reason)
	})

	var created RoomResponse
	t.Run("create", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/room", CreateRoomRequest{Name: "Дежурка", MaxMembers: 3})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Nil(t, decodeResponse(t, resp, &created))

		assert.Equal(t, "Дежурка", created.Room.Name)
		assert.Equal(t, plane.SelfID(), created.SelfID)
		assert.Equal(t, created.SelfID, created.Room.OwnerID)
		assert.NotZero(t, created.Room.HostPort)
		assert.Equal(t, "single_control", created.ControlMode)
		require.Len(t, created.Members, 1)
	})

	t.Run("create again conflicts", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/room", CreateRoomRequest{Name: "x"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "already_in_room", errb.Reason)
	})

	t.Run("get after create", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/room")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var got RoomResponse
		require.Nil(t, decodeResponse(t, resp, &got))
		assert.Equal(t, created.Room.ID, got.Room.ID)
	})

	t.Run("leave", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/room/leave", struct{}{})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp, err := http.Get(srv.URL + "/v1/room")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestSendCommandToSelf(t *testing.T) {
	srv, plane := newTestServer(t)

	got := make(chan domain.ControlCommand, 1)
	plane.Devices().Register("default", domain.ActionSet, device.TranslatorFunc(
		func(ctx context.Context, cmd domain.ControlCommand) error {
			got <- cmd
			return nil
		}))

	req := CommandRequest{TargetID: plane.SelfID()}
	req.Action = domain.ActionSet
	req.Channel = "A"
	req.Value = 40

	resp := postJSON(t, srv.URL+"/v1/commands", req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var acc CommandAccepted
	require.Nil(t, decodeResponse(t, resp, &acc))
	assert.NotEmpty(t, acc.CommandID)

	select {
	case cmd := <-got:
		assert.Equal(t, "A", cmd.Channel)
		assert.Equal(t, float64(40), cmd.Value)
		assert.Equal(t, acc.CommandID, cmd.CommandID)
	case <-time.After(2 * time.Second):
		t.Fatal("translator was not called")
	}
}

func TestSendCommandValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("empty target", func(t *testing.T) {
		var req CommandRequest
		req.Action = domain.ActionSet
		resp := postJSON(t, srv.URL+"/v1/commands", req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "invalid_command", errb.Reason)
	})

	t.Run("permission action rejected", func(t *testing.T) {
		req := CommandRequest{TargetID: "someone"}
		req.Action = domain.ActionPermissionForceGrant
		resp := postJSON(t, srv.URL+"/v1/commands", req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "invalid_command", errb.Reason)
	})

	t.Run("unknown member", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/room", CreateRoomRequest{Name: "r"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		req := CommandRequest{TargetID: "ghost-1"}
		req.Action = domain.ActionSet
		resp = postJSON(t, srv.URL+"/v1/commands", req)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "member_not_found", errb.Reason)
	})
}

func TestPermissionEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("bad role", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/role", RoleRequest{Role: "dictator"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("role without room", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/role", RoleRequest{Role: "controller"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "not_in_room", errb.Reason)
	})

	t.Run("bad control mode", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/control-mode", ControlModeRequest{Mode: "free_for_all"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	resp := postJSON(t, srv.URL+"/v1/room", CreateRoomRequest{Name: "r"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	t.Run("respond to unknown request", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/permissions/respond", PermissionRespondBody{RequestID: "nope", Grant: true})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "no_such_request", errb.Reason)
	})

	t.Run("force grant unknown member", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/permissions/force", PermissionForceBody{ControllerID: "ghost", ControlledID: "ghost2"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		errb := decodeResponse(t, resp, nil)
		require.NotNil(t, errb)
		assert.Equal(t, "member_not_found", errb.Reason)
	})

	t.Run("set mode", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/control-mode", ControlModeRequest{Mode: "cooperative"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp, err := http.Get(srv.URL + "/v1/room")
		require.NoError(t, err)
		var got RoomResponse
		require.Nil(t, decodeResponse(t, resp, &got))
		assert.Equal(t, "cooperative", got.ControlMode)
	})
}

func TestJoinAndChatAcrossTwoNodes(t *testing.T) {
	hubSrv, hubPlane := newTestServer(t)
	spokeSrv, _ := newTestServer(t)

	resp := postJSON(t, hubSrv.URL+"/v1/room", CreateRoomRequest{Name: "Пульт", MaxMembers: 4})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created RoomResponse
	require.Nil(t, decodeResponse(t, resp, &created))
	require.NotZero(t, created.Room.HostPort)

	resp = postJSON(t, spokeSrv.URL+"/v1/room/join", JoinRoomRequest{
		Address:  "127.0.0.1",
		Port:     created.Room.HostPort,
		Nickname: "spoke",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var joined RoomResponse
	require.Nil(t, decodeResponse(t, resp, &joined))
	assert.Equal(t, created.Room.ID, joined.Room.ID)
	assert.Len(t, joined.Members, 2)

	events, unsub := hubPlane.Subscribe()
	defer unsub()

	resp = postJSON(t, spokeSrv.URL+"/v1/chat", ChatRequest{Text: "привет"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != control.EventChat {
				continue
			}
			chat, ok := ev.Data.(control.ChatEvent)
			require.True(t, ok)
			assert.Equal(t, "привет", chat.Text)
			assert.Equal(t, "spoke", chat.Nickname)
			return
		case <-deadline:
			t.Fatal("chat never reached the hub")
		}
	}
}

func TestJoinRefusedMapsToConflict(t *testing.T) {
	hubSrv, _ := newTestServer(t)
	spokeSrv, _ := newTestServer(t)
	lateSrv, _ := newTestServer(t)

	resp := postJSON(t, hubSrv.URL+"/v1/room", CreateRoomRequest{Name: "tight", MaxMembers: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created RoomResponse
	require.Nil(t, decodeResponse(t, resp, &created))

	join := JoinRoomRequest{Address: "127.0.0.1", Port: created.Room.HostPort, Nickname: "second"}
	resp = postJSON(t, spokeSrv.URL+"/v1/room/join", join)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	join.Nickname = "third"
	resp = postJSON(t, lateSrv.URL+"/v1/room/join", join)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errb := decodeResponse(t, resp, nil)
	require.NotNil(t, errb)
	assert.Equal(t, "join_refused", errb.Reason)
	assert.Contains(t, errb.Message, "room is full")
}
