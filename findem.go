// Where The Andreas — find-the-hidden-target party game
//
// Players click on a photo to locate two hidden Andreas; the fastest finders
// earn points across five levels and a final leaderboard crowns a winner.
//
// Features:
// - WebSockets per room: /findem/:gameid and /findem/:gameid/ws
// - Local pass-and-play mode runs entirely against one connection
// - Online mode synchronizes through a shared room document store
// - The room creator becomes host; only the host starts levels and resolves them
// - Character slots claimed atomically, one browser per character
// - Claims released automatically when a connection drops
// - Per-level self-reported results, resolved once quorum is reached
// - Ephemeral cursor sharing between players
// - Rooms auto-reaped after a configurable idle timeout
// - Random 9-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	_ "embed"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string       `json:"type"`               // see dispatch in readPump
	Event    string       `json:"event,omitempty"`    // navigate
	Players  []PlayerInfo `json:"players,omitempty"`  // create_room / local_start
	PlayerID string       `json:"player_id,omitempty"`
	Level    int          `json:"level,omitempty"`
	Found    bool         `json:"found,omitempty"`
	Time     float64      `json:"time,omitempty"`
	TimeLeft float64      `json:"time_left,omitempty"`
	X        float64      `json:"x,omitempty"`
	Y        float64      `json:"y,omitempty"`
}

// RoomStateMessage carries the authoritative room snapshot plus this
// connection's derived screen.
type RoomStateMessage struct {
	Type   string   `json:"type"` // "room_state"
	Room   *RoomDoc `json:"room"`
	Screen string   `json:"screen"`
	IsHost bool     `json:"is_host"`
	Budget float64  `json:"budget"`
	Levels int      `json:"levels"`
}

type ClaimResultMessage struct {
	Type     string `json:"type"` // "claim_result"
	PlayerID string `json:"player_id"`
	Success  bool   `json:"success"`
}

type LocalStateMessage struct {
	Type       string       `json:"type"` // "local_state"
	Level      int          `json:"level"`
	Phase      string       `json:"phase"`
	Standings  []PlayerInfo `json:"standings"`
	Placements []Placement  `json:"placements,omitempty"`
}

type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type LayoutsMessage struct {
	Type    string        `json:"type"` // "layouts"
	Layouts []LevelLayout `json:"layouts"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	connID   string
	clientID string
	roomID   string

	sendMu     sync.Mutex
	sendClosed bool

	mu          sync.Mutex
	local       localState
	match       *LocalMatch
	unsubRoom   func()
	unsubResult func()
	watchLevel  int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RoomManager tracks per-room activity for the idle reaper; the documents
// themselves live in the store.
type RoomManager struct {
	mu          sync.Mutex
	store       *RoomStore
	lastActive  map[string]time.Time
	idleTimeout time.Duration
}

func newRoomManager(store *RoomStore, idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		store:      store,
		lastActive: make(map[string]time.Time),
	}
	rm.idleTimeout = idleTimeout
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *RoomManager) touch(roomID string) {
	rm.mu.Lock()
	rm.lastActive[roomID] = time.Now()
	rm.mu.Unlock()
}

// newRoomID generates a crypto-random room ID and ensures it doesn't collide
// with an existing room document.
func (rm *RoomManager) newRoomID() string {
	for {
		id := generateRoomID()
		if _, exists := rm.store.Get(roomPath(id)); !exists {
			return id
		}
	}
}

// reaperLoop periodically deletes room documents idle longer than the
// session timeout. Room deletion is cleanup policy, not protocol: a live
// game keeps touching its room on every message.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, last := range rm.lastActive {
			if last.Before(cutoff) {
				delete(rm.lastActive, id)
				rm.store.Delete(roomPath(id))
			}
		}
		rm.mu.Unlock()
	}
}

// WebSocket handler bound to :gameid; each connection serves one browser tab.
func serveWSForRooms(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("gameid")
		if roomID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		clientID := getOrSetClientID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			connID:   uuid.NewString(),
			clientID: clientID,
			roomID:   roomID,
			local:    newLocalState(),
		}

		client.send <- LayoutsMessage{Type: "layouts", Layouts: levelLayouts}

		go client.writePump()
		client.readPump(cfg, rm)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// deliver is a non-blocking send; a wedged consumer drops messages rather
// than stalling store notification callbacks. After closeSend it is a no-op,
// covering subscription callbacks still in flight during teardown.
func (c *Client) deliver(msg any) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend shuts the send channel so writePump drains and exits.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) readPump(cfg *Config, rm *RoomManager) {
	store := rm.store

	defer func() {
		c.mu.Lock()
		if c.unsubResult != nil {
			c.unsubResult()
		}
		if c.unsubRoom != nil {
			c.unsubRoom()
		}
		c.mu.Unlock()

		// Disconnect-triggered cleanup: frees this connection's claim and
		// cursor without any client action.
		store.RunDisconnect(c.connID)

		// Subscriptions are gone, so nothing delivers anymore; closing the
		// channel lets writePump drain and exit instead of leaking.
		c.closeSend()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		rm.touch(c.roomID)

		switch msg.Type {
		case "navigate":
			c.handleNavigate(msg)
		case "create_room":
			c.handleCreateRoom(cfg, store, msg)
		case "join_room":
			c.handleJoinRoom(cfg, store)
		case "claim":
			c.handleClaim(cfg, store, msg)
		case "release":
			c.handleRelease(store, msg)
		case "start_level":
			c.handleStartLevel(cfg, store)
		case "submit_result":
			c.handleSubmitResult(cfg, store, msg)
		case "cursor":
			c.handleCursor(store, msg)
		case "tick":
			c.handleTick(store, msg)
		case "local_start":
			c.handleLocalStart(cfg, msg)
		case "local_begin", "local_click", "local_expire":
			c.handleLocalPlay(msg)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) handleNavigate(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if next, ok := localTransition(c.local.screen, msg.Event); ok {
		c.local.screen = next
		switch msg.Event {
		case "local", "create", "join":
			c.local.mode = msg.Event
		}
	}
	c.deliver(SimpleMessage{Type: "screen", Message: c.local.screen})
}

func (c *Client) handleCreateRoom(cfg *Config, store *RoomStore, msg ClientMessage) {
	if len(msg.Players) == 0 {
		c.deliver(SimpleMessage{Type: "error", Message: "a room needs at least one player"})
		return
	}

	players := make([]PlayerInfo, 0, len(msg.Players))
	for _, p := range msg.Players {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.Score = 0
		players = append(players, p)
	}

	if !CreateRoom(store, cfg, c.roomID, c.clientID, players) {
		c.deliver(SimpleMessage{Type: "error", Message: "this room already exists; join it instead"})
		return
	}
	logf(cfg, "GAMES: Room %s created by %s with %d players", c.roomID, c.clientID, len(players))

	c.mu.Lock()
	c.local.mode = "create"
	if next, ok := localTransition(c.local.screen, "created"); ok {
		c.local.screen = next
	}
	c.mu.Unlock()

	c.subscribeRoom(cfg, store)
}

func (c *Client) handleJoinRoom(cfg *Config, store *RoomStore) {
	if _, exists := store.Get(roomPath(c.roomID)); !exists {
		c.deliver(SimpleMessage{Type: "error", Message: "no such room"})
		return
	}

	c.mu.Lock()
	c.local.mode = "join"
	if next, ok := localTransition(c.local.screen, "joined"); ok {
		c.local.screen = next
	}
	c.mu.Unlock()

	c.subscribeRoom(cfg, store)
}

// subscribeRoom attaches this connection to the room document. Every
// mutation re-derives the screen from the fresh snapshot plus local flags.
func (c *Client) subscribeRoom(cfg *Config, store *RoomStore) {
	c.mu.Lock()
	if c.unsubRoom != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	unsub := store.Subscribe(roomPath(c.roomID), func(snap any) {
		doc, ok := decodeRoom(c.roomID, snap)
		if !ok {
			c.deliver(SimpleMessage{Type: "room_closed", Message: "this room no longer exists"})
			return
		}

		c.mu.Lock()
		screen := deriveScreen(&doc, c.local)
		isHost := doc.HostClientID == c.clientID
		c.mu.Unlock()

		if isHost {
			c.watchResults(cfg, store, doc.Level)
		}

		c.deliver(RoomStateMessage{
			Type:   "room_state",
			Room:   &doc,
			Screen: screen,
			IsHost: isHost,
			Budget: cfg.levelTime.Seconds(),
			Levels: cfg.levels,
		})
	})

	c.mu.Lock()
	c.unsubRoom = unsub
	c.mu.Unlock()
}

// watchResults keeps the host's aggregator subscription pointed at the
// current level. The callback attempts resolution on every change; the
// engine's gates turn premature or duplicate attempts into silent no-ops,
// and errors are logged without ever tearing down the subscription.
func (c *Client) watchResults(cfg *Config, store *RoomStore, level int) {
	c.mu.Lock()
	if c.watchLevel == level && c.unsubResult != nil {
		c.mu.Unlock()
		return
	}
	if c.unsubResult != nil {
		c.unsubResult()
		c.unsubResult = nil
	}
	c.watchLevel = level
	c.mu.Unlock()

	unsub := OnResultsChanged(store, c.roomID, level, func(results map[string]LevelResult) {
		err := ResolveLevel(store, cfg, c.roomID, level, c.clientID)
		switch {
		case err == nil:
			logf(cfg, "GAMES: Room %s level %d resolved", c.roomID, level)
		case errors.Is(err, errNoQuorum), errors.Is(err, errAlreadyProcessed):
			// expected while waiting, or after a duplicate trigger
		default:
			logf(cfg, "GAMES: Room %s level %d resolution error: %v", c.roomID, level, err)
		}
	})

	c.mu.Lock()
	c.unsubResult = unsub
	c.mu.Unlock()
}

func (c *Client) handleClaim(cfg *Config, store *RoomStore, msg ClientMessage) {
	if msg.PlayerID == "" {
		return
	}

	ok := ClaimSlot(store, c.roomID, msg.PlayerID, c.clientID)
	if ok {
		registerClaimCleanup(store, c.connID, c.roomID, msg.PlayerID)

		c.mu.Lock()
		c.local.playerID = msg.PlayerID
		if next, transitioned := localTransition(c.local.screen, "claimed"); transitioned {
			c.local.screen = next
		}
		c.mu.Unlock()

		logf(cfg, "GAMES: Client %s claimed %s in room %s", c.clientID, msg.PlayerID, c.roomID)
	}

	// A failed claim keeps the user on the character screen.
	c.deliver(ClaimResultMessage{Type: "claim_result", PlayerID: msg.PlayerID, Success: ok})
}

func (c *Client) handleRelease(store *RoomStore, msg ClientMessage) {
	if msg.PlayerID == "" {
		return
	}

	ReleaseSlot(store, c.roomID, msg.PlayerID, c.clientID)
	store.CancelDisconnect(c.connID, claimPath(c.roomID, msg.PlayerID))

	c.mu.Lock()
	if c.local.playerID == msg.PlayerID {
		c.local.playerID = ""
		c.local.screen = screenModeSelect
	}
	c.mu.Unlock()
}

func (c *Client) handleStartLevel(cfg *Config, store *RoomStore) {
	if err := StartLevel(store, cfg, c.roomID, c.clientID); err != nil {
		logf(cfg, "GAMES: Room %s start refused for %s: %v", c.roomID, c.clientID, err)
	}
}

func (c *Client) handleSubmitResult(cfg *Config, store *RoomStore, msg ClientMessage) {
	c.mu.Lock()
	playerID := c.local.playerID
	c.mu.Unlock()

	if playerID == "" || msg.Level < 1 {
		return
	}

	accepted := SubmitResult(store, cfg, c.roomID, msg.Level, playerID, LevelResult{
		Found:       msg.Found,
		Time:        msg.Time,
		SubmittedAt: time.Now().UnixMilli(),
	})
	if !accepted {
		// Level already finalized (or the room is gone); nothing to record.
		return
	}

	// First finder of the level gets the win popup everywhere.
	if msg.Found {
		store.Transaction(roomPath(c.roomID)+"/winnerId", func(cur any) (any, bool) {
			if cur == nil {
				return playerID, true
			}
			return nil, false
		})
	}

	// Optimistic local flag: this client waits on the intro screen from now
	// on, even while the room still reports playing.
	c.mu.Lock()
	c.local = c.local.withSubmitted(msg.Level)
	c.mu.Unlock()
}

// Cursor positions are ephemeral, fire-and-forget state; losing one is fine.
func (c *Client) handleCursor(store *RoomStore, msg ClientMessage) {
	c.mu.Lock()
	playerID := c.local.playerID
	c.mu.Unlock()

	if playerID == "" {
		return
	}

	store.Set(roomPath(c.roomID)+"/cursors/"+playerID, map[string]any{
		"x":  msg.X,
		"y":  msg.Y,
		"ts": time.Now().UnixMilli(),
	})
}

// The host mirrors its countdown into the room so late joiners show a
// sensible timer. Non-hosts are ignored.
func (c *Client) handleTick(store *RoomStore, msg ClientMessage) {
	snap, ok := store.Get(roomPath(c.roomID))
	if !ok {
		return
	}
	doc, ok := decodeRoom(c.roomID, snap)
	if !ok || doc.HostClientID != c.clientID {
		return
	}

	store.Update(roomPath(c.roomID), map[string]any{"timeLeft": msg.TimeLeft})
}

func (c *Client) handleLocalStart(cfg *Config, msg ClientMessage) {
	if len(msg.Players) == 0 {
		c.deliver(SimpleMessage{Type: "error", Message: "a match needs at least one player"})
		return
	}

	players := make([]PlayerInfo, 0, len(msg.Players))
	for _, p := range msg.Players {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.Score = 0
		players = append(players, p)
	}

	c.mu.Lock()
	c.match = NewLocalMatch(cfg, players)
	c.local.mode = "local"
	c.local.screen = screenLevelIntro
	c.mu.Unlock()

	c.sendLocalState()
}

func (c *Client) handleLocalPlay(msg ClientMessage) {
	c.mu.Lock()
	match := c.match
	c.mu.Unlock()

	if match == nil {
		return
	}

	switch msg.Type {
	case "local_begin":
		match.Start()
	case "local_click":
		if id, hit := HitTarget(match.Level(), int(msg.X), int(msg.Y)); hit {
			match.RecordFind(msg.PlayerID, id)
		}
	case "local_expire":
		match.TimeExpired()
	}

	c.sendLocalState()
}

func (c *Client) sendLocalState() {
	c.mu.Lock()
	match := c.match
	c.mu.Unlock()

	if match == nil {
		return
	}

	level := match.Level()
	state := LocalStateMessage{
		Type:      "local_state",
		Level:     level,
		Phase:     match.Phase(),
		Standings: match.Standings(),
	}
	if level > 1 || state.Phase == phaseGameEnd {
		completed := level
		if state.Phase != phaseGameEnd {
			completed = level - 1
		}
		state.Placements = match.Placements(completed)
	}

	c.deliver(state)
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed findem/index.html
var indexHTML []byte

//go:embed findem/app.css
var findemCSS []byte

//go:embed findem/app.js
var findemJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetClientID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(findemCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(findemJS)
	}
}

// redirectNewGame handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "GAMES: Created game %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerFindemGame sets up routes so that:
//   - $path                  → redirects to new random room (9-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that room
//   - $path/:gameid/qr       → PNG QR code for that room URL
func registerFindemGame(cfg *Config, path string, mux *httprouter.Router) {
	store := NewRoomStore()
	rm := newRoomManager(store, cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, cfg.prefix+path, rm))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/findem/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/findem/app.js", getJsHandler(cfg))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForRooms(cfg, rm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
