package main

// Client screen state machine:
//
//	cover → modeSelect → {localSetup | onlineCreateSetup | joinRoom} →
//	selectPlayerCharacter → levelIntro → playing → levelIntro | gameEnd
//
// Remote room phases feed a pure reducer together with the connection's own
// local flags. Nothing here is mutated in place, so transition logic stays
// testable without a live store.

const (
	screenCover           = "cover"
	screenModeSelect      = "modeSelect"
	screenLocalSetup      = "localSetup"
	screenOnlineSetup     = "onlineCreateSetup"
	screenJoinRoom        = "joinRoom"
	screenSelectCharacter = "selectPlayerCharacter"
	screenLevelIntro      = "levelIntro"
	screenPlaying         = "playing"
	screenGameEnd         = "gameEnd"
)

// localState is the per-participant side of screen derivation: which mode the
// user picked, which player slot they hold, and which levels they have
// already submitted (the optimistic flag set the moment a result is sent).
type localState struct {
	mode            string // "local", "create" or "join"
	playerID        string
	screen          string
	submittedLevels map[int]bool
}

func newLocalState() localState {
	return localState{
		screen:          screenCover,
		submittedLevels: make(map[int]bool),
	}
}

func (l localState) submitted(level int) bool {
	return l.submittedLevels[level]
}

// withSubmitted returns a copy with the optimistic submitted flag set;
// the receiver is left untouched.
func (l localState) withSubmitted(level int) localState {
	flags := make(map[int]bool, len(l.submittedLevels)+1)
	for k, v := range l.submittedLevels {
		flags[k] = v
	}
	flags[level] = true
	l.submittedLevels = flags
	return l
}

// showPlayScreen is the single derived source of truth for "should this
// client be on the play screen": the room must say playing AND this client
// must not have submitted the current level yet. Computing it fresh from both
// inputs avoids the flicker of toggling two flags imperatively.
func showPlayScreen(room RoomDoc, local localState) bool {
	return room.Phase == phasePlaying && !local.submitted(room.Level)
}

// deriveScreen folds an incoming room snapshot and the local flags into the
// screen to show. Remote phase changes are only honored once the client holds
// a player slot, so a participant mid mode-select, join entry, or character
// selection is never yanked off their own in-progress action.
func deriveScreen(room *RoomDoc, local localState) string {
	if room == nil || local.playerID == "" {
		return local.screen
	}

	switch room.Phase {
	case phaseGameEnd:
		return screenGameEnd
	case phasePlaying:
		if showPlayScreen(*room, local) {
			return screenPlaying
		}
		// Already submitted: hold the waiting screen until the host
		// resolves, even while the room still reports playing.
		return screenLevelIntro
	case phaseLevelIntro:
		return screenLevelIntro
	}

	return local.screen
}

// localTransition is the client-driven part of the machine: navigation events
// a participant performs before (or outside of) any room subscription.
func localTransition(screen, event string) (string, bool) {
	switch screen {
	case screenCover:
		if event == "continue" {
			return screenModeSelect, true
		}
	case screenModeSelect:
		switch event {
		case "local":
			return screenLocalSetup, true
		case "create":
			return screenOnlineSetup, true
		case "join":
			return screenJoinRoom, true
		case "back":
			return screenCover, true
		}
	case screenLocalSetup:
		switch event {
		case "start":
			return screenLevelIntro, true
		case "back":
			return screenModeSelect, true
		}
	case screenOnlineSetup:
		switch event {
		case "created":
			return screenSelectCharacter, true
		case "back":
			return screenModeSelect, true
		}
	case screenJoinRoom:
		switch event {
		case "joined":
			return screenSelectCharacter, true
		case "back":
			return screenModeSelect, true
		}
	case screenSelectCharacter:
		switch event {
		case "claimed":
			return screenLevelIntro, true
		case "back":
			return screenModeSelect, true
		}
	}

	return screen, false
}
