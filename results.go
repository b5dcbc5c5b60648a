package main

// Level result aggregation: one self-reported outcome per player per level.
// Resubmission before finalization is last-write-wins; once a level carries
// its processedLevels marker the result set is retired and further writes
// are refused.

func resultsPath(roomID string, level int) string {
	return roomPath(roomID) + "/levelResults/" + levelKey(level)
}

// SubmitResult records a player's outcome for the level. Time is clamped to
// the level budget when the player did not find both targets. Once the level
// carries its processed marker the result set is retired and the write is
// refused, keeping finalized entries immutable for later inspection.
func SubmitResult(store *RoomStore, cfg *Config, roomID string, level int, playerID string, result LevelResult) bool {
	budget := cfg.levelTime.Seconds()
	if !result.Found && result.Time > budget {
		result.Time = budget
	}

	lk := levelKey(level)
	return store.Transaction(roomPath(roomID), func(cur any) (any, bool) {
		room := asMap(cur)
		if room == nil {
			return nil, false
		}
		if _, done := asMap(room["processedLevels"])[lk]; done {
			return nil, false
		}

		results := asMap(room["levelResults"])
		if results == nil {
			results = make(map[string]any)
			room["levelResults"] = results
		}
		forLevel := asMap(results[lk])
		if forLevel == nil {
			forLevel = make(map[string]any)
			results[lk] = forLevel
		}
		forLevel[playerID] = encodeResult(result)

		return room, true
	})
}

// OnResultsChanged streams the full result set for a level on every change.
// The host's connection uses this to detect quorum.
func OnResultsChanged(store *RoomStore, roomID string, level int, fn func(results map[string]LevelResult)) (unsubscribe func()) {
	return store.Subscribe(resultsPath(roomID, level), func(snap any) {
		results := make(map[string]LevelResult)
		for pid, rv := range asMap(snap) {
			results[pid] = decodeResult(rv)
		}
		fn(results)
	})
}
