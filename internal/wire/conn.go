package wire

import (
	"net"
	"sync"
	"time"
)

const writeTimeout = 5 * time.Second

// Conn оборачивает TCP-соединение комнатного протокола. Запись кадров
// сериализована, чтение принадлежит единственному receive-циклу владельца.
type Conn struct {
	nc     net.Conn
	sendMu chan struct{} // 1-буферный канал в роли мьютекса записи
	closed chan struct{}
	once   sync.Once
}

func NewConn(nc net.Conn) *Conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	return &Conn{
		nc:     nc,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Send пишет один кадр с дедлайном: медленный получатель блокирует только
// своего логического отправителя, не остальные соединения.
func (c *Conn) Send(env *Envelope) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()

	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return WriteEnvelope(c.nc, env)
}

// Receive блокируется до следующего кадра; (nil, nil) означает «кадр был,
// но не сообщение» — цикл приёма просто продолжает чтение.
func (c *Conn) Receive() (*Envelope, error) {
	_ = c.nc.SetReadDeadline(time.Time{})
	return ReadEnvelope(c.nc)
}

// ReceiveTimeout — чтение с дедлайном для рукопожатий и discovery-проб.
func (c *Conn) ReceiveTimeout(d time.Duration) (*Envelope, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(d))
	return ReadEnvelope(c.nc)
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}

// Done закрывается вместе с соединением.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
