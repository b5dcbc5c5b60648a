package main

import (
	"crypto/rand"
	"strconv"
	"time"
)

// Phase drives which screen every client shows; Status is the coarser
// lifecycle flag kept consistent with it.
const (
	phaseLevelIntro = "levelIntro"
	phasePlaying    = "playing"
	phaseGameEnd    = "gameEnd"

	statusWaiting   = "waiting"
	statusPlaying   = "playing"
	statusCompleted = "completed"
)

type PlayerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Score int    `json:"score"`
}

type LevelResult struct {
	Found       bool    `json:"found"`
	Time        float64 `json:"time"`
	SubmittedAt int64   `json:"submittedAt"`
}

type Placement struct {
	PlayerID   string  `json:"playerId"`
	PlayerName string  `json:"playerName"`
	Rank       int     `json:"rank"`
	Time       float64 `json:"time"`
	Found      bool    `json:"found"`
	Points     int     `json:"points"`
}

type PlacementSet struct {
	ProcessedAt int64       `json:"processedAt"`
	Placements  []Placement `json:"placements"`
}

type Cursor struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Ts int64   `json:"ts"`
}

// RoomDoc is the typed view of one rooms/{roomId} subtree. Clients must treat
// every decoded snapshot as authoritative-as-of-now and re-derive their local
// state from it rather than diffing.
type RoomDoc struct {
	RoomID          string                         `json:"roomId"`
	HostClientID    string                         `json:"hostClientId"`
	Level           int                            `json:"level"`
	Phase           string                         `json:"phase"`
	Status          string                         `json:"status"`
	CreatedAt       int64                          `json:"createdAt"`
	TimeLeft        float64                        `json:"timeLeft"`
	WinnerID        string                         `json:"winnerId,omitempty"`
	Players         map[string]PlayerInfo          `json:"players"`
	Claims          map[string]string              `json:"claims"`
	Cursors         map[string]Cursor              `json:"cursors"`
	LevelResults    map[int]map[string]LevelResult `json:"levelResults"`
	ProcessedLevels map[int]int64                  `json:"processedLevels"`
	LevelPlacements map[int]PlacementSet           `json:"levelPlacements"`
}

func roomPath(roomID string) string {
	return "rooms/" + roomID
}

func levelKey(level int) string {
	return strconv.Itoa(level)
}

// generateRoomID reproduces the original game's 9-character uppercase
// alphanumeric identifiers.
func generateRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf)
}

// CreateRoom seeds a fresh room document: level 1, intro phase, waiting
// status, and the creating client recorded as host. Creation is a single
// create-if-absent transaction, so two clients racing on the same room ID
// produce exactly one host and one roster.
func CreateRoom(store *RoomStore, cfg *Config, roomID, hostClientID string, players []PlayerInfo) bool {
	playerMap := make(map[string]any, len(players))
	for _, p := range players {
		playerMap[p.ID] = encodePlayer(p)
	}

	return store.Transaction(roomPath(roomID), func(cur any) (any, bool) {
		if cur != nil {
			return nil, false
		}
		return map[string]any{
			"hostClientId": hostClientID,
			"level":        1,
			"phase":        phaseLevelIntro,
			"status":       statusWaiting,
			"createdAt":    time.Now().UnixMilli(),
			"timeLeft":     cfg.levelTime.Seconds(),
			"players":      playerMap,
		}, true
	})
}

func encodePlayer(p PlayerInfo) map[string]any {
	return map[string]any{
		"id":    p.ID,
		"name":  p.Name,
		"color": p.Color,
		"score": p.Score,
	}
}

func encodeResult(r LevelResult) map[string]any {
	return map[string]any{
		"found":       r.Found,
		"time":        r.Time,
		"submittedAt": r.SubmittedAt,
	}
}

// ---- snapshot decoding ----
//
// Store snapshots are untyped trees; values written by this process are
// native Go ints and floats, while anything that round-tripped through client
// JSON arrives as float64. The numeric helpers accept both.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asInt64(v any) int64 {
	return int64(asFloat(v))
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func decodePlayer(v any) PlayerInfo {
	m := asMap(v)
	return PlayerInfo{
		ID:    asString(m["id"]),
		Name:  asString(m["name"]),
		Color: asString(m["color"]),
		Score: asInt(m["score"]),
	}
}

func decodeResult(v any) LevelResult {
	m := asMap(v)
	return LevelResult{
		Found:       asBool(m["found"]),
		Time:        asFloat(m["time"]),
		SubmittedAt: asInt64(m["submittedAt"]),
	}
}

func decodePlacementSet(v any) PlacementSet {
	m := asMap(v)
	set := PlacementSet{ProcessedAt: asInt64(m["processedAt"])}
	list, _ := m["placements"].([]any)
	for _, pv := range list {
		pm := asMap(pv)
		set.Placements = append(set.Placements, Placement{
			PlayerID:   asString(pm["playerId"]),
			PlayerName: asString(pm["playerName"]),
			Rank:       asInt(pm["rank"]),
			Time:       asFloat(pm["time"]),
			Found:      asBool(pm["found"]),
			Points:     asInt(pm["points"]),
		})
	}
	return set
}

// decodeRoom turns a rooms/{roomId} snapshot into a typed document. Returns
// false if the snapshot is absent or not a document.
func decodeRoom(roomID string, snap any) (RoomDoc, bool) {
	m, ok := snap.(map[string]any)
	if !ok {
		return RoomDoc{}, false
	}

	doc := RoomDoc{
		RoomID:          roomID,
		HostClientID:    asString(m["hostClientId"]),
		Level:           asInt(m["level"]),
		Phase:           asString(m["phase"]),
		Status:          asString(m["status"]),
		CreatedAt:       asInt64(m["createdAt"]),
		TimeLeft:        asFloat(m["timeLeft"]),
		WinnerID:        asString(m["winnerId"]),
		Players:         make(map[string]PlayerInfo),
		Claims:          make(map[string]string),
		Cursors:         make(map[string]Cursor),
		LevelResults:    make(map[int]map[string]LevelResult),
		ProcessedLevels: make(map[int]int64),
		LevelPlacements: make(map[int]PlacementSet),
	}

	for pid, pv := range asMap(m["players"]) {
		doc.Players[pid] = decodePlayer(pv)
	}
	for pid, cv := range asMap(m["claims"]) {
		doc.Claims[pid] = asString(cv)
	}
	for pid, cv := range asMap(m["cursors"]) {
		cm := asMap(cv)
		doc.Cursors[pid] = Cursor{X: asFloat(cm["x"]), Y: asFloat(cm["y"]), Ts: asInt64(cm["ts"])}
	}
	for lk, lv := range asMap(m["levelResults"]) {
		level, err := strconv.Atoi(lk)
		if err != nil {
			continue
		}
		results := make(map[string]LevelResult)
		for pid, rv := range asMap(lv) {
			results[pid] = decodeResult(rv)
		}
		doc.LevelResults[level] = results
	}
	for lk, tv := range asMap(m["processedLevels"]) {
		level, err := strconv.Atoi(lk)
		if err != nil {
			continue
		}
		doc.ProcessedLevels[level] = asInt64(tv)
	}
	for lk, pv := range asMap(m["levelPlacements"]) {
		level, err := strconv.Atoi(lk)
		if err != nil {
			continue
		}
		doc.LevelPlacements[level] = decodePlacementSet(pv)
	}

	return doc, true
}
