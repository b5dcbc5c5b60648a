package main

// Local pass-and-play: the same five-level game without claims, host
// election, or a shared store. One process, one mutex, immediate in-process
// ranking of the finish order per level.

import (
	"slices"
	"sync"
)

type LocalMatch struct {
	mu sync.Mutex

	cfg     *Config
	players []PlayerInfo
	level   int
	phase   string
	finders []string // player IDs in finish order for the current level
	found   map[int]bool
	results map[int][]Placement
}

func NewLocalMatch(cfg *Config, players []PlayerInfo) *LocalMatch {
	ps := make([]PlayerInfo, len(players))
	copy(ps, players)

	return &LocalMatch{
		cfg:     cfg,
		players: ps,
		level:   1,
		phase:   phaseLevelIntro,
		found:   make(map[int]bool),
		results: make(map[int][]Placement),
	}
}

func (m *LocalMatch) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *LocalMatch) Phase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *LocalMatch) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == phaseLevelIntro {
		m.phase = phasePlaying
	}
}

// RecordFind registers that a player uncovered a target. When both targets of
// the level are found the level completes immediately.
func (m *LocalMatch) RecordFind(playerID string, targetID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != phasePlaying || m.found[targetID] {
		return
	}
	if !m.hasPlayer(playerID) {
		return
	}

	m.found[targetID] = true
	if !slices.Contains(m.finders, playerID) {
		m.finders = append(m.finders, playerID)
	}

	if len(m.found) >= len(layoutForLevel(m.level).Targets) {
		m.completeLevelLocked()
	}
}

// TimeExpired force-completes the level; players who found nothing score
// nothing.
func (m *LocalMatch) TimeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != phasePlaying {
		return
	}
	m.completeLevelLocked()
}

func (m *LocalMatch) hasPlayer(playerID string) bool {
	for _, p := range m.players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// completeLevelLocked awards the finish order from the shared scoring table,
// stores the level's placements, and advances or ends the match.
func (m *LocalMatch) completeLevelLocked() {
	placements := make([]Placement, 0, len(m.finders))
	for i, pid := range m.finders {
		points := m.cfg.pointsForRank(i + 1)
		for j := range m.players {
			if m.players[j].ID != pid {
				continue
			}
			m.players[j].Score += points
			placements = append(placements, Placement{
				PlayerID:   pid,
				PlayerName: m.players[j].Name,
				Rank:       i + 1,
				Found:      true,
				Points:     points,
			})
		}
	}
	m.results[m.level] = placements

	m.finders = nil
	m.found = make(map[int]bool)

	if m.level >= m.cfg.levels {
		m.phase = phaseGameEnd
	} else {
		m.level++
		m.phase = phaseLevelIntro
	}
}

// Placements returns the recorded placements for a completed level.
func (m *LocalMatch) Placements(level int) []Placement {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Placement, len(m.results[level]))
	copy(out, m.results[level])
	return out
}

// Standings returns the players sorted by score descending, ties broken by
// name for a stable leaderboard.
func (m *LocalMatch) Standings() []PlayerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PlayerInfo, len(m.players))
	copy(out, m.players)

	slices.SortFunc(out, func(a, b PlayerInfo) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})

	return out
}
