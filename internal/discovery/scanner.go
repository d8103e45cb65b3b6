package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

const (
	DefaultProbeTimeout = 300 * time.Millisecond
	DefaultScanEvery    = 15 * time.Second
	// Верхняя граница одновременных проб: полный скан /24 без шторма
	// эфемерных портов.
	DefaultPoolSize = 24
)

// Result — одна найденная комната. Скан никогда не меняет состояние
// комнаты, это только чтение.
type Result struct {
	Address     string        `json:"address"`
	Port        int           `json:"port"`
	RoomID      string        `json:"roomId"`
	RoomCode    string        `json:"roomCode"`
	RoomName    string        `json:"roomName"`
	OwnerID     string        `json:"ownerId"`
	MemberCount int           `json:"memberCount"`
	MaxMembers  int           `json:"maxMembers"`
	Latency     time.Duration `json:"latencyNs"`
}

type Config struct {
	Port         int
	ProbeTimeout time.Duration
	ScanEvery    time.Duration
	PoolSize     int
}

// Scanner перебирает все /24 локальных интерфейсов и пингует фиксированный
// комнатный порт каждого адреса.
type Scanner struct {
	cfg      Config
	senderID string

	// Подменяется в тестах, чтобы не сканировать реальную сеть.
	listInterfaces func() ([]ifaceAddrs, error)
}

type ifaceAddrs struct {
	flags net.Flags
	addrs []net.Addr
}

func NewScanner(cfg Config, senderID string) *Scanner {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ScanEvery <= 0 {
		cfg.ScanEvery = DefaultScanEvery
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return &Scanner{
		cfg:            cfg,
		senderID:       senderID,
		listInterfaces: systemInterfaces,
	}
}

func systemInterfaces() ([]ifaceAddrs, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceAddrs, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			slog.Debug("discovery: interface addrs failed", "iface", ifc.Name, "err", err)
			continue
		}
		out = append(out, ifaceAddrs{flags: ifc.Flags, addrs: addrs})
	}
	return out, nil
}

// localTargets собирает все адреса-кандидаты: по каждому поднятому IPv4
// интерфейсу (кроме loopback и туннелей) весь его /24 без собственного адреса.
func (s *Scanner) localTargets() ([]string, error) {
	ifaces, err := s.listInterfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: enumerate interfaces: %w", err)
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, ifc := range ifaces {
		if ifc.flags&net.FlagUp == 0 || ifc.flags&net.FlagLoopback != 0 || ifc.flags&net.FlagPointToPoint != 0 {
			continue
		}
		for _, addr := range ifc.addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			self := ipnet.IP.To4()
			if self == nil {
				continue
			}
			base := self.Mask(net.CIDRMask(24, 32))
			for host := 1; host <= 254; host++ {
				cand := net.IPv4(base[0], base[1], base[2], byte(host))
				if cand.Equal(self) {
					continue
				}
				key := cand.String()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				targets = append(targets, key)
			}
		}
	}
	return targets, nil
}

// probeHost: подключиться, отправить ping, дождаться pong — всё в бюджет
// одного таймаута. Закрытый порт — это норма, не ошибка скана.
func (s *Scanner) probeHost(ctx context.Context, address string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return nil, err
	}
	conn := wire.NewConn(nc)
	defer conn.Close()

	ping, err := wire.NewEnvelope(wire.TypeDiscoveryPing, s.senderID, "", nil)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ping); err != nil {
		return nil, err
	}

	env, err := conn.ReceiveTimeout(timeout)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Type != wire.TypeDiscoveryPong {
		return nil, fmt.Errorf("discovery: unexpected reply from %s", address)
	}
	var pong wire.DiscoveryPong
	if err := env.DecodePayload(&pong); err != nil {
		return nil, fmt.Errorf("discovery: decode pong: %w", err)
	}
	return &Result{
		Address:     address,
		Port:        s.cfg.Port,
		RoomID:      pong.RoomID,
		RoomCode:    pong.RoomCode,
		RoomName:    pong.RoomName,
		OwnerID:     pong.OwnerID,
		MemberCount: pong.MemberCount,
		MaxMembers:  pong.MaxMembers,
		Latency:     time.Since(start),
	}, nil
}

// ScanRooms — один полный проход по всем кандидатам. timeoutPerHost <= 0
// берёт значение из конфигурации.
func (s *Scanner) ScanRooms(ctx context.Context, timeoutPerHost time.Duration) ([]Result, error) {
	if timeoutPerHost <= 0 {
		timeoutPerHost = s.cfg.ProbeTimeout
	}
	targets, err := s.localTargets()
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PoolSize)
	for _, address := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.probeHost(gctx, address, timeoutPerHost)
			if err != nil {
				// молчаливые отказы: почти все адреса /24 не слушают
				return nil
			}
			mu.Lock()
			found = append(found, *res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return dedupeSort(found), ctx.Err()
}

// dedupeSort: по одному результату на address:port (берём меньшую задержку),
// порядок стабильный — имя, затем адрес, чтобы UI мог диффить снапшоты.
func dedupeSort(found []Result) []Result {
	best := make(map[string]Result, len(found))
	for _, r := range found {
		key := net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
		cur, ok := best[key]
		if !ok || r.Latency < cur.Latency {
			best[key] = r
		}
	}
	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomName != out[j].RoomName {
			return out[i].RoomName < out[j].RoomName
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Run повторяет скан по тикеру и на каждом проходе публикует полный
// снапшот; потребители заменяют своё представление целиком, дельт нет.
func (s *Scanner) Run(ctx context.Context, publish func([]Result)) {
	ticker := time.NewTicker(s.cfg.ScanEvery)
	defer ticker.Stop()

	for {
		results, err := s.ScanRooms(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("discovery scan failed", "err", err)
		} else {
			publish(results)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
