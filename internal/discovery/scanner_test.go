package discovery

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/wire"
)

func fakeInterfaces(flags net.Flags, cidr string) func() ([]ifaceAddrs, error) {
	ip, ipnet, _ := net.ParseCIDR(cidr)
	ipnet.IP = ip
	return func() ([]ifaceAddrs, error) {
		return []ifaceAddrs{{flags: flags, addrs: []net.Addr{ipnet}}}, nil
	}
}

func TestLocalTargetsSweepsSlash24(t *testing.T) {
	s := NewScanner(Config{Port: 47820}, "u1")
	s.listInterfaces = fakeInterfaces(net.FlagUp|net.FlagBroadcast, "192.168.1.42/24")

	targets, err := s.localTargets()
	if err != nil {
		t.Fatalf("localTargets: %v", err)
	}
	if len(targets) != 253 {
		t.Fatalf("target count = %d, want 253 (/24 minus self)", len(targets))
	}
	for _, addr := range targets {
		if addr == "192.168.1.42" {
			t.Fatalf("self address must be excluded from the sweep")
		}
	}
	if targets[0] != "192.168.1.1" || targets[len(targets)-1] != "192.168.1.254" {
		t.Fatalf("sweep bounds = %s..%s, want 192.168.1.1..192.168.1.254", targets[0], targets[len(targets)-1])
	}
}

func TestLocalTargetsSkipsDownLoopbackTunnel(t *testing.T) {
	cases := []net.Flags{
		0, // down
		net.FlagUp | net.FlagLoopback,
		net.FlagUp | net.FlagPointToPoint,
	}
	for _, flags := range cases {
		s := NewScanner(Config{Port: 47820}, "u1")
		s.listInterfaces = fakeInterfaces(flags, "10.0.0.7/24")
		targets, err := s.localTargets()
		if err != nil {
			t.Fatalf("localTargets: %v", err)
		}
		if len(targets) != 0 {
			t.Fatalf("flags %v produced %d targets, want none", flags, len(targets))
		}
	}
}

// pongListener отвечает на discovery_ping как настоящий хост комнаты.
func pongListener(t *testing.T, pong wire.DiscoveryPong) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func(nc net.Conn) {
				conn := wire.NewConn(nc)
				defer conn.Close()
				env, err := conn.ReceiveTimeout(time.Second)
				if err != nil || env == nil || env.Type != wire.TypeDiscoveryPing {
					return
				}
				reply, err := wire.NewEnvelope(wire.TypeDiscoveryPong, pong.OwnerID, env.SenderID, pong)
				if err != nil {
					return
				}
				_ = conn.Send(reply)
			}(nc)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestProbeHost(t *testing.T) {
	pong := wire.DiscoveryPong{
		RoomID:      "room-1",
		RoomCode:    "AB23CD",
		RoomName:    "quiet room",
		OwnerID:     "owner-1",
		MemberCount: 3,
		MaxMembers:  10,
	}
	host, port := pongListener(t, pong)

	s := NewScanner(Config{Port: port}, "scanner-1")
	res, err := s.probeHost(context.Background(), host, time.Second)
	if err != nil {
		t.Fatalf("probeHost: %v", err)
	}
	if res.RoomID != pong.RoomID || res.RoomCode != pong.RoomCode || res.RoomName != pong.RoomName {
		t.Fatalf("probe result = %+v, want metadata from pong %+v", res, pong)
	}
	if res.OwnerID != "owner-1" || res.MemberCount != 3 || res.MaxMembers != 10 {
		t.Fatalf("probe result = %+v, want owner/count fields from pong", res)
	}
	if res.Address != host || res.Port != port {
		t.Fatalf("probe endpoint = %s:%d, want %s:%d", res.Address, res.Port, host, port)
	}
	if res.Latency <= 0 {
		t.Fatalf("latency must be measured, got %v", res.Latency)
	}
}

func TestProbeHostClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close() // порт гарантированно свободен

	s := NewScanner(Config{Port: port}, "scanner-1")
	if _, err := s.probeHost(context.Background(), "127.0.0.1", 200*time.Millisecond); err == nil {
		t.Fatalf("probe of a closed port must fail")
	}
}

func TestScanRoomsFindsLoopbackHost(t *testing.T) {
	pong := wire.DiscoveryPong{RoomID: "room-1", RoomName: "loop", OwnerID: "owner-1", MemberCount: 1, MaxMembers: 10}
	host, port := pongListener(t, pong)
	if host != "127.0.0.1" {
		t.Fatalf("listener host = %s", host)
	}

	s := NewScanner(Config{Port: port, ProbeTimeout: 250 * time.Millisecond}, "scanner-1")
	// Подставной интерфейс превращает скан в проход по 127.0.0.0/24.
	s.listInterfaces = fakeInterfaces(net.FlagUp|net.FlagBroadcast, "127.0.0.9/24")

	results, err := s.ScanRooms(context.Background(), 0)
	if err != nil {
		t.Fatalf("ScanRooms: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("found %d rooms, want exactly 1", len(results))
	}
	if results[0].RoomID != "room-1" || results[0].Address != "127.0.0.1" {
		t.Fatalf("scan result = %+v", results[0])
	}
}

func TestDedupeSortStableOrder(t *testing.T) {
	in := []Result{
		{Address: "10.0.0.9", Port: 1, RoomName: "beta", Latency: 5 * time.Millisecond},
		{Address: "10.0.0.2", Port: 1, RoomName: "alpha", Latency: 9 * time.Millisecond},
		{Address: "10.0.0.9", Port: 1, RoomName: "beta", Latency: 2 * time.Millisecond}, // дубль, быстрее
		{Address: "10.0.0.1", Port: 1, RoomName: "beta", Latency: 7 * time.Millisecond},
	}
	out := dedupeSort(in)
	if len(out) != 3 {
		t.Fatalf("dedupe kept %d entries, want 3", len(out))
	}
	if out[0].RoomName != "alpha" {
		t.Fatalf("order[0] = %+v, want alpha first", out[0])
	}
	if out[1].Address != "10.0.0.1" || out[2].Address != "10.0.0.9" {
		t.Fatalf("equal names must fall back to address order: %+v", out[1:])
	}
	if out[2].Latency != 2*time.Millisecond {
		t.Fatalf("duplicate must keep the lowest latency, got %v", out[2].Latency)
	}
}
