package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

const defaultDialTimeout = 5 * time.Second

// ClientHandler получает кадры и обрыв соединения спицы.
type ClientHandler interface {
	HandleEnvelope(env *wire.Envelope)
	// Disconnected вызывается один раз при неожиданном обрыве; после
	// добровольного Leave/Close не вызывается.
	Disconnected(err error)
}

// Client — спица звезды: единственное долгоживущее соединение с хабом.
// Спицы никогда не соединяются друг с другом напрямую.
type Client struct {
	conn     *wire.Conn
	memberID string
	join     wire.JoinResponse
}

// Dial подключается к хабу и проводит рукопожатие целиком: запрос, ответ,
// запуск постоянного цикла приёма. Отказ комнаты возвращается как
// *domain.JoinRefusedError.
func Dial(ctx context.Context, address string, port int, req wire.JoinRequest, handler ClientHandler) (*Client, error) {
	d := net.Dialer{Timeout: defaultDialTimeout}
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial room %s:%d: %w", address, port, err)
	}
	conn := wire.NewConn(nc)

	reqEnv, err := wire.NewEnvelope(wire.TypeJoinRequest, "", "", req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(reqEnv); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join request: %w", err)
	}

	reply, err := conn.ReceiveTimeout(defaultHandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await join response: %w", err)
	}
	if reply == nil || reply.Type != wire.TypeJoinResponse {
		conn.Close()
		return nil, fmt.Errorf("handshake: unexpected reply")
	}
	var resp wire.JoinResponse
	if err := reply.DecodePayload(&resp); err != nil {
		conn.Close()
		return nil, err
	}
	if !resp.Success {
		conn.Close()
		return nil, &domain.JoinRefusedError{Reason: resp.Reason}
	}

	c := &Client{conn: conn, memberID: resp.MemberID, join: resp}
	go c.receiveLoop(handler)
	return c, nil
}

func (c *Client) receiveLoop(handler ClientHandler) {
	for {
		env, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.conn.Done():
				// закрыто локально, это не обрыв
			default:
				handler.Disconnected(err)
			}
			return
		}
		if env == nil {
			continue
		}
		handler.HandleEnvelope(env)
	}
}

func (c *Client) MemberID() string {
	return c.memberID
}

// JoinInfo — ответ хаба на рукопожатие, включая снапшот участников.
func (c *Client) JoinInfo() wire.JoinResponse {
	return c.join
}

func (c *Client) Send(env *wire.Envelope) error {
	return c.conn.Send(env)
}

// Leave шлёт прощальный кадр best-effort и закрывает соединение; хаб в
// любом случае доразошлёт member_left, даже если кадр не дошёл.
func (c *Client) Leave() {
	left, err := wire.NewEnvelope(wire.TypeMemberLeft, c.memberID, "", wire.MemberLeft{MemberID: c.memberID, Reason: "leave"})
	if err == nil {
		_ = c.conn.Send(left)
	}
	c.conn.Close()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
