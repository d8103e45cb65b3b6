package permission

import "testing"

func TestEdgesGrantRevoke(t *testing.T) {
	e := NewRoomEdges()

	e.Grant("ctrl-1", "tgt-1", EdgeVoluntary)
	if !e.HasControl("ctrl-1", "tgt-1") {
		t.Fatalf("edge missing after grant")
	}
	if e.HasControl("tgt-1", "ctrl-1") {
		t.Fatalf("edge must be directional")
	}

	if !e.Revoke("ctrl-1", "tgt-1") {
		t.Fatalf("revoke of unlocked edge refused")
	}
	if e.HasControl("ctrl-1", "tgt-1") {
		t.Fatalf("edge survived revoke")
	}
}

func TestEdgesRevokeRefusedWhileLocked(t *testing.T) {
	e := NewRoomEdges()
	e.SetLock("mod-1", "tgt-1", true)

	if !e.HasControl("mod-1", "tgt-1") {
		t.Fatalf("lock must imply the forced edge")
	}
	if e.LockedBy("tgt-1") != "mod-1" {
		t.Fatalf("lock owner = %q, want mod-1", e.LockedBy("tgt-1"))
	}
	if e.Revoke("mod-1", "tgt-1") {
		t.Fatalf("revoke must be refused while the lock stands")
	}

	e.SetLock("mod-1", "tgt-1", false)
	if e.LockedBy("tgt-1") != "" {
		t.Fatalf("lock survived unlock")
	}
	if e.HasControl("mod-1", "tgt-1") {
		t.Fatalf("unlock must drop the forced edge")
	}
}

func TestEdgesForcedNotDowngraded(t *testing.T) {
	e := NewRoomEdges()
	e.Grant("ctrl-1", "tgt-1", EdgeForced)
	e.Grant("ctrl-1", "tgt-1", EdgeVoluntary)

	e.mu.RLock()
	kind := e.edges["ctrl-1"]["tgt-1"]
	e.mu.RUnlock()
	if kind != EdgeForced {
		t.Fatalf("voluntary grant downgraded a forced edge to %q", kind)
	}
}

func TestEdgesRemoveMemberBothSides(t *testing.T) {
	e := NewRoomEdges()
	e.Grant("gone", "tgt-1", EdgeVoluntary)
	e.Grant("ctrl-1", "gone", EdgeVoluntary)
	e.SetLock("gone", "tgt-2", true)

	e.RemoveMember("gone")

	if e.HasControl("gone", "tgt-1") {
		t.Fatalf("outbound edge of removed member survived")
	}
	if e.HasControl("ctrl-1", "gone") {
		t.Fatalf("inbound edge of removed member survived")
	}
	if e.LockedBy("tgt-2") != "" {
		t.Fatalf("lock held by removed member survived")
	}
}

func TestEdgesClear(t *testing.T) {
	e := NewRoomEdges()
	e.Grant("a", "b", EdgeVoluntary)
	e.SetLock("a", "c", true)

	e.Clear()

	if e.HasControl("a", "b") || e.HasControl("a", "c") || e.LockedBy("c") != "" {
		t.Fatalf("state survived Clear")
	}
}
