package main

import (
	"sync"
	"testing"
)

func TestCreateRoomExactlyOneHost(t *testing.T) {
	cfg := newTestConfig()
	s := NewRoomStore()
	players := []PlayerInfo{{ID: "p1", Name: "Ana"}}

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(2)

	created := make([]bool, 2)
	hosts := []string{"client-a", "client-b"}
	for i, host := range hosts {
		go func(i int, host string) {
			defer done.Done()
			start.Wait()
			created[i] = CreateRoom(s, cfg, "R9", host, players)
		}(i, host)
	}

	start.Done()
	done.Wait()

	if created[0] == created[1] {
		t.Fatalf("expected exactly one creator, got %v", created)
	}
	winner := hosts[0]
	if created[1] {
		winner = hosts[1]
	}
	if doc := roomDoc(t, s, "R9"); doc.HostClientID != winner {
		t.Fatalf("host %q does not match the committed creator %q", doc.HostClientID, winner)
	}
}

func TestCreateRoomRefusesExisting(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	if CreateRoom(s, cfg, "R1", "late-client", []PlayerInfo{{ID: "q", Name: "Q"}}) {
		t.Fatalf("existing room must not be recreated")
	}

	doc := roomDoc(t, s, "R1")
	if doc.HostClientID != testHost {
		t.Fatalf("late create overwrote the host: %q", doc.HostClientID)
	}
	if _, stray := doc.Players["q"]; stray || len(doc.Players) != 3 {
		t.Fatalf("late create touched the roster: %+v", doc.Players)
	}
}
