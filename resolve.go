package main

// Level resolution: the one piece of business logic that must run exactly
// once per level, on exactly one client. The host's connection calls
// ResolveLevel whenever the level's result set changes; gates make every
// extra call a silent no-op, so duplicate triggers and brief dual-host
// conditions are harmless.

import (
	"errors"
	"math"
	"slices"
	"time"
)

var (
	errRoomMissing      = errors.New("room does not exist")
	errNotHost          = errors.New("caller is not the room host")
	errNoQuorum         = errors.New("waiting for results from all players")
	errAlreadyProcessed = errors.New("level already processed")
)

// rankedResult is a player's effective outcome for ranking purposes. Players
// with no recorded result are treated as not-found at the full time budget,
// with a submission instant of +infinity so they sort last among non-finders.
type rankedResult struct {
	player      PlayerInfo
	found       bool
	time        float64
	submittedAt int64
}

// rankResults produces a deterministic total order over every current player:
// finders above non-finders, then lower elapsed time, then earlier
// submission, then player ID as the final reproducible tie-break.
func rankResults(players map[string]PlayerInfo, results map[string]LevelResult, budget float64) []rankedResult {
	ranked := make([]rankedResult, 0, len(players))
	for pid, p := range players {
		rr := rankedResult{
			player:      p,
			found:       false,
			time:        budget,
			submittedAt: math.MaxInt64,
		}
		if res, ok := results[pid]; ok {
			rr.found = res.Found
			rr.time = res.Time
			rr.submittedAt = res.SubmittedAt
		}
		ranked = append(ranked, rr)
	}

	slices.SortFunc(ranked, func(a, b rankedResult) int {
		if a.found != b.found {
			if a.found {
				return -1
			}
			return 1
		}
		if a.time != b.time {
			if a.time < b.time {
				return -1
			}
			return 1
		}
		if a.submittedAt != b.submittedAt {
			if a.submittedAt < b.submittedAt {
				return -1
			}
			return 1
		}
		if a.player.ID < b.player.ID {
			return -1
		}
		if a.player.ID > b.player.ID {
			return 1
		}
		return 0
	})

	return ranked
}

// ResolveLevel checks the host, quorum, and idempotency gates, then writes
// placements, score deltas, and the phase transition as one atomic patch on
// the room document. A gate failure returns its sentinel error with the
// document untouched; retrying after any failure is always safe.
func ResolveLevel(store *RoomStore, cfg *Config, roomID string, level int, clientID string) error {
	var gateErr error

	committed := store.Transaction(roomPath(roomID), func(cur any) (any, bool) {
		room := asMap(cur)
		doc, ok := decodeRoom(roomID, cur)
		if !ok {
			gateErr = errRoomMissing
			return nil, false
		}

		// Host gate: one canonical election rule, the client identifier
		// recorded at room creation.
		if doc.HostClientID != clientID {
			gateErr = errNotHost
			return nil, false
		}

		// Quorum gate: never resolve on partial data.
		if len(doc.Players) == 0 || len(doc.LevelResults[level]) < len(doc.Players) {
			gateErr = errNoQuorum
			return nil, false
		}

		// Idempotency gate, re-checked against the live document inside the
		// transaction so a second resolver always aborts here.
		if _, done := doc.ProcessedLevels[level]; done {
			gateErr = errAlreadyProcessed
			return nil, false
		}

		now := time.Now().UnixMilli()
		ranked := rankResults(doc.Players, doc.LevelResults[level], cfg.levelTime.Seconds())

		placements := make([]any, 0, len(ranked))
		for i, rr := range ranked {
			rank := i + 1
			points := cfg.pointsForRank(rank)

			placements = append(placements, map[string]any{
				"playerId":   rr.player.ID,
				"playerName": rr.player.Name,
				"rank":       rank,
				"time":       rr.time,
				"found":      rr.found,
				"points":     points,
			})

			if pm := asMap(asMap(room["players"])[rr.player.ID]); pm != nil {
				pm["score"] = rr.player.Score + points
			}
		}

		lk := levelKey(level)

		processed, _ := room["processedLevels"].(map[string]any)
		if processed == nil {
			processed = make(map[string]any)
			room["processedLevels"] = processed
		}
		processed[lk] = now

		placementSets, _ := room["levelPlacements"].(map[string]any)
		if placementSets == nil {
			placementSets = make(map[string]any)
			room["levelPlacements"] = placementSets
		}
		placementSets[lk] = map[string]any{
			"processedAt": now,
			"placements":  placements,
		}

		if level >= cfg.levels {
			room["phase"] = phaseGameEnd
			room["status"] = statusCompleted
		} else {
			room["phase"] = phaseLevelIntro
			room["status"] = statusPlaying
			room["level"] = level + 1
			room["timeLeft"] = cfg.levelTime.Seconds()
			delete(room, "winnerId")
		}

		return room, true
	})

	if !committed {
		return gateErr
	}
	return nil
}

// StartLevel flips the room into play. Only the host may trigger it;
// non-hosts see a disabled waiting affordance instead.
func StartLevel(store *RoomStore, cfg *Config, roomID, clientID string) error {
	var gateErr error

	committed := store.Transaction(roomPath(roomID), func(cur any) (any, bool) {
		room := asMap(cur)
		doc, ok := decodeRoom(roomID, cur)
		if !ok {
			gateErr = errRoomMissing
			return nil, false
		}
		if doc.HostClientID != clientID {
			gateErr = errNotHost
			return nil, false
		}
		if doc.Phase != phaseLevelIntro {
			return nil, false
		}

		room["phase"] = phasePlaying
		room["status"] = statusPlaying
		room["timeLeft"] = cfg.levelTime.Seconds()
		return room, true
	})

	if !committed {
		return gateErr
	}
	return nil
}
