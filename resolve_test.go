package main

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func newTestConfig() *Config {
	return &Config{
		levels:       5,
		levelTime:    30 * time.Second,
		scoringTable: []int{10, 8, 6, 5, 1, 3, 1},
	}
}

const testHost = "host-client"

// newTestRoom creates a three-player room with X, Y, Z and returns the store.
func newTestRoom(cfg *Config) *RoomStore {
	s := NewRoomStore()
	CreateRoom(s, cfg, "R1", testHost, []PlayerInfo{
		{ID: "x", Name: "X", Color: "#e74c3c"},
		{ID: "y", Name: "Y", Color: "#2ecc71"},
		{ID: "z", Name: "Z", Color: "#3498db"},
	})
	return s
}

func roomDoc(t *testing.T, s *RoomStore, roomID string) RoomDoc {
	t.Helper()

	snap, ok := s.Get(roomPath(roomID))
	if !ok {
		t.Fatalf("room %s missing", roomID)
	}
	doc, ok := decodeRoom(roomID, snap)
	if !ok {
		t.Fatalf("room %s snapshot did not decode", roomID)
	}
	return doc
}

func TestRankingTotalOrder(t *testing.T) {
	players := map[string]PlayerInfo{
		"a": {ID: "a", Name: "A"},
		"b": {ID: "b", Name: "B"},
		"c": {ID: "c", Name: "C"},
	}
	results := map[string]LevelResult{
		"a": {Found: true, Time: 10, SubmittedAt: 100},
		"b": {Found: false, Time: 5, SubmittedAt: 100},
		"c": {Found: true, Time: 8, SubmittedAt: 100},
	}

	ranked := rankResults(players, results, 30)

	got := []string{ranked[0].player.ID, ranked[1].player.ID, ranked[2].player.ID}
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestRankingTieBreaks(t *testing.T) {
	players := map[string]PlayerInfo{
		"a": {ID: "a"},
		"b": {ID: "b"},
		"c": {ID: "c"},
	}

	// Same found status and time: earlier submission wins.
	results := map[string]LevelResult{
		"a": {Found: true, Time: 10, SubmittedAt: 200},
		"b": {Found: true, Time: 10, SubmittedAt: 100},
		"c": {Found: true, Time: 10, SubmittedAt: 100},
	}

	ranked := rankResults(players, results, 30)
	if ranked[0].player.ID != "b" || ranked[1].player.ID != "c" || ranked[2].player.ID != "a" {
		t.Fatalf("tie-breaks wrong: %v %v %v",
			ranked[0].player.ID, ranked[1].player.ID, ranked[2].player.ID)
	}
}

func TestMissingResultRanksLast(t *testing.T) {
	players := map[string]PlayerInfo{
		"finder":  {ID: "finder"},
		"loser":   {ID: "loser"},
		"missing": {ID: "missing"},
	}
	results := map[string]LevelResult{
		"finder": {Found: true, Time: 12, SubmittedAt: 100},
		"loser":  {Found: false, Time: 30, SubmittedAt: 100},
	}

	ranked := rankResults(players, results, 30)

	last := ranked[2]
	if last.player.ID != "missing" {
		t.Fatalf("player with no result should rank last, got %s", last.player.ID)
	}
	if last.found || last.time != 30 || last.submittedAt != math.MaxInt64 {
		t.Fatalf("missing result defaults wrong: %+v", last)
	}
}

func TestRankingIsDeterministic(t *testing.T) {
	players := map[string]PlayerInfo{
		"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}, "d": {ID: "d"},
	}

	// No results at all: everyone identical, order must still be total and
	// reproducible across runs.
	first := rankResults(players, nil, 30)
	for i := 0; i < 10; i++ {
		again := rankResults(players, nil, 30)
		for j := range first {
			if first[j].player.ID != again[j].player.ID {
				t.Fatalf("ranking not deterministic: run %d differs at %d", i, j)
			}
		}
	}
}

func TestResolveEndToEnd(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, testHost); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	doc := roomDoc(t, s, "R1")

	if doc.Level != 2 {
		t.Fatalf("expected level 2, got %d", doc.Level)
	}
	if doc.Phase != phaseLevelIntro || doc.Status != statusPlaying {
		t.Fatalf("expected levelIntro/playing, got %s/%s", doc.Phase, doc.Status)
	}
	if _, processed := doc.ProcessedLevels[1]; !processed {
		t.Fatalf("processedLevels[1] not set")
	}

	placements := doc.LevelPlacements[1].Placements
	if len(placements) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(placements))
	}
	wantOrder := []struct {
		id     string
		points int
	}{{"y", 10}, {"x", 8}, {"z", 6}}
	for i, want := range wantOrder {
		p := placements[i]
		if p.PlayerID != want.id || p.Rank != i+1 || p.Points != want.points {
			t.Fatalf("placement %d = %+v, want %s rank %d +%d", i, p, want.id, i+1, want.points)
		}
	}

	if doc.Players["y"].Score != 10 || doc.Players["x"].Score != 8 || doc.Players["z"].Score != 6 {
		t.Fatalf("scores wrong: %+v", doc.Players)
	}
	if doc.TimeLeft != 30 {
		t.Fatalf("timer not reset, timeLeft = %v", doc.TimeLeft)
	}
}

func TestResolveQuorumWithMissingPlayer(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})

	// Two of three players reported: no quorum, resolver declines.
	if err := ResolveLevel(s, cfg, "R1", 1, testHost); !errors.Is(err, errNoQuorum) {
		t.Fatalf("expected errNoQuorum, got %v", err)
	}

	doc := roomDoc(t, s, "R1")
	if doc.Level != 1 {
		t.Fatalf("quorum failure must not advance the level")
	}
	if len(doc.ProcessedLevels) != 0 {
		t.Fatalf("quorum failure must not mark the level processed")
	}
}

func TestResolveTreatsSilentPlayerAsNotFound(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 45, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, testHost); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	placements := roomDoc(t, s, "R1").LevelPlacements[1].Placements
	z := placements[2]
	if z.PlayerID != "z" || z.Found || z.Time != 30 {
		t.Fatalf("not-found time should clamp to the budget: %+v", z)
	}
}

func TestResolveIdempotent(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, testHost); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	before, _ := s.Get(roomPath("R1"))

	// Subscription re-fire, or the second half of a dual-host race.
	if err := ResolveLevel(s, cfg, "R1", 1, testHost); !errors.Is(err, errAlreadyProcessed) {
		t.Fatalf("expected errAlreadyProcessed, got %v", err)
	}

	after, _ := s.Get(roomPath("R1"))
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("second resolve mutated the room document")
	}

	if got := roomDoc(t, s, "R1").Players["y"].Score; got != 10 {
		t.Fatalf("points double-awarded: y = %d", got)
	}
}

func TestResolveRefusesNonHost(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, "some-other-client"); !errors.Is(err, errNotHost) {
		t.Fatalf("expected errNotHost, got %v", err)
	}
	if len(roomDoc(t, s, "R1").ProcessedLevels) != 0 {
		t.Fatalf("non-host resolve mutated the room")
	}
}

func TestResolveFinalLevelEndsGame(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)
	s.Update(roomPath("R1"), map[string]any{"level": 5})

	SubmitResult(s, cfg, "R1", 5, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 5, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 5, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 5, testHost); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	doc := roomDoc(t, s, "R1")
	if doc.Phase != phaseGameEnd || doc.Status != statusCompleted {
		t.Fatalf("expected gameEnd/completed, got %s/%s", doc.Phase, doc.Status)
	}
	if doc.Level != 5 {
		t.Fatalf("final level must not increment, got %d", doc.Level)
	}
}

func TestResolveAddsToExistingScore(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)
	s.Update(roomPath("R1"), map[string]any{"players/x/score": 20})

	// X finishes second: 8 points on top of 20.
	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, testHost); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := roomDoc(t, s, "R1").Players["x"].Score; got != 28 {
		t.Fatalf("expected 20+8=28, got %d", got)
	}
}

func TestResolveClearsWinnerMarker(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)
	s.Update(roomPath("R1"), map[string]any{"winnerId": "y"})

	SubmitResult(s, cfg, "R1", 1, "x", LevelResult{Found: true, Time: 12, SubmittedAt: 1000})
	SubmitResult(s, cfg, "R1", 1, "y", LevelResult{Found: true, Time: 9, SubmittedAt: 1001})
	SubmitResult(s, cfg, "R1", 1, "z", LevelResult{Found: false, Time: 30, SubmittedAt: 1002})

	if err := ResolveLevel(s, cfg, "R1", 1, testHost); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := roomDoc(t, s, "R1").WinnerID; got != "" {
		t.Fatalf("winner marker not cleared on level advance: %q", got)
	}
}

func TestNonMonotonicScoringTablePreserved(t *testing.T) {
	cfg := newTestConfig()

	// Rank 5 scores below rank 6 in the source's table; the default keeps it.
	if cfg.pointsForRank(5) != 1 || cfg.pointsForRank(6) != 3 {
		t.Fatalf("default table altered: rank5=%d rank6=%d",
			cfg.pointsForRank(5), cfg.pointsForRank(6))
	}
	if cfg.pointsForRank(7) != 1 || cfg.pointsForRank(12) != 1 {
		t.Fatalf("ranks past the table must get the last entry")
	}
}

func TestStartLevelHostOnly(t *testing.T) {
	cfg := newTestConfig()
	s := newTestRoom(cfg)

	if err := StartLevel(s, cfg, "R1", "not-the-host"); !errors.Is(err, errNotHost) {
		t.Fatalf("expected errNotHost, got %v", err)
	}
	if doc := roomDoc(t, s, "R1"); doc.Phase != phaseLevelIntro {
		t.Fatalf("non-host start changed the phase")
	}

	if err := StartLevel(s, cfg, "R1", testHost); err != nil {
		t.Fatalf("host start failed: %v", err)
	}
	doc := roomDoc(t, s, "R1")
	if doc.Phase != phasePlaying || doc.Status != statusPlaying {
		t.Fatalf("expected playing/playing, got %s/%s", doc.Phase, doc.Status)
	}
}
