package main

import (
	"sync"
	"testing"
)

func TestClaimUnclaimedSlot(t *testing.T) {
	s := NewRoomStore()

	if !ClaimSlot(s, "R1", "p1", "client-a") {
		t.Fatalf("claiming an unclaimed slot must succeed")
	}

	v, ok := s.Get(claimPath("R1", "p1"))
	if !ok || v != "client-a" {
		t.Fatalf("claim not recorded, got %v", v)
	}
}

func TestClaimConflictExactlyOneWins(t *testing.T) {
	s := NewRoomStore()

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(2)
	results := make([]bool, 2)

	clients := []string{"client-a", "client-b"}
	for i, clientID := range clients {
		go func(i int, clientID string) {
			defer done.Done()
			start.Wait()
			results[i] = ClaimSlot(s, "R1", "p1", clientID)
		}(i, clientID)
	}

	start.Done()
	done.Wait()

	if results[0] == results[1] {
		t.Fatalf("expected exactly one winner, got %v", results)
	}

	holder, _ := s.Get(claimPath("R1", "p1"))
	winner := clients[0]
	if results[1] {
		winner = clients[1]
	}
	if holder != winner {
		t.Fatalf("claim held by %v but %v reported success", holder, winner)
	}
}

func TestReclaimIsIdempotent(t *testing.T) {
	s := NewRoomStore()

	if !ClaimSlot(s, "R1", "p1", "client-a") {
		t.Fatalf("initial claim failed")
	}
	if !ClaimSlot(s, "R1", "p1", "client-a") {
		t.Fatalf("re-claim by the holder must succeed")
	}
	if ClaimSlot(s, "R1", "p1", "client-b") {
		t.Fatalf("claim by a different client must fail")
	}

	holder, _ := s.Get(claimPath("R1", "p1"))
	if holder != "client-a" {
		t.Fatalf("failed claim mutated the slot: %v", holder)
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	s := NewRoomStore()
	ClaimSlot(s, "R1", "p1", "client-a")

	// A stale release from someone else must not evict the holder.
	ReleaseSlot(s, "R1", "p1", "client-b")
	if holder, _ := s.Get(claimPath("R1", "p1")); holder != "client-a" {
		t.Fatalf("non-holder release evicted the claim")
	}

	ReleaseSlot(s, "R1", "p1", "client-a")
	if _, ok := s.Get(claimPath("R1", "p1")); ok {
		t.Fatalf("holder release did not clear the claim")
	}

	// Releasing an already-free slot is a no-op.
	ReleaseSlot(s, "R1", "p1", "client-a")
}

func TestClaimMutatesOnlyClaims(t *testing.T) {
	s := NewRoomStore()
	s.Set("rooms/R1/players/p1", map[string]any{"id": "p1", "name": "Ada", "score": 7})

	ClaimSlot(s, "R1", "p1", "client-a")
	ReleaseSlot(s, "R1", "p1", "client-a")

	v, _ := s.Get("rooms/R1/players/p1")
	if v.(map[string]any)["score"] != 7 {
		t.Fatalf("claim/release touched the players subtree: %v", v)
	}
}

func TestDisconnectFreesSlot(t *testing.T) {
	s := NewRoomStore()

	if !ClaimSlot(s, "R1", "p1", "client-a") {
		t.Fatalf("initial claim failed")
	}
	registerClaimCleanup(s, "conn-1", "R1", "p1")

	// The connection drops with no explicit release.
	s.RunDisconnect("conn-1")

	if _, ok := s.Get(claimPath("R1", "p1")); ok {
		t.Fatalf("slot still claimed after disconnect")
	}
	if !ClaimSlot(s, "R1", "p1", "client-b") {
		t.Fatalf("a new client must be able to claim the freed slot")
	}
}
