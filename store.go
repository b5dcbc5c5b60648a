package main

// The shared room store: a path-addressed tree of JSON-like values
// (map[string]any, []any, scalars) holding one document per game room.
// Every connected client observes the same document through subscriptions,
// and all cross-client coordination (slot claims, level finalization) rests
// on Transaction and Update being atomic.
//
// Paths are slash-separated, e.g. "rooms/ABC123XYZ/claims/p1". Reads return
// deep copies; callers never share memory with the tree.

import (
	"strings"
	"sync"
)

type disconnectAction struct {
	path  string
	value any // nil means remove
}

type storeSub struct {
	id   int
	path []string
	ch   chan any
}

type RoomStore struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[int]*storeSub
	nextSub int
	disc    map[string][]disconnectAction
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		root: make(map[string]any),
		subs: make(map[int]*storeSub),
		disc: make(map[string][]disconnectAction),
	}
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = deepCopy(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = deepCopy(vv)
		}
		return s
	default:
		return v
	}
}

// lookup walks the tree; second return is false if any segment is missing.
func lookup(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ensureParent creates intermediate maps down to the parent of parts and
// returns it along with the final key.
func ensureParent(root map[string]any, parts []string) (map[string]any, string) {
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

// Get returns a deep-copied snapshot of the subtree at path.
func (s *RoomStore) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := lookup(s.root, splitPath(path))
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Set overwrites the subtree at path, creating parents as needed.
func (s *RoomStore) Set(path string, value any) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, key := ensureParent(s.root, parts)
	parent[key] = deepCopy(value)
	s.notifyLocked(parts)
}

// Delete removes the subtree at path. Missing paths are a no-op.
func (s *RoomStore) Delete(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(parts)
	s.notifyLocked(parts)
}

func (s *RoomStore) deleteLocked(parts []string) {
	parentVal, ok := lookup(s.root, parts[:len(parts)-1])
	if !ok {
		return
	}
	if parent, ok := parentVal.(map[string]any); ok {
		delete(parent, parts[len(parts)-1])
	}
}

// Update applies a multi-key merge under path as one atomic step. Field keys
// may themselves contain slashes for deep writes; a nil value removes the key.
// The level-finalize patch depends on all-or-nothing application here.
func (s *RoomStore) Update(path string, fields map[string]any) {
	base := splitPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range fields {
		parts := append(append([]string{}, base...), splitPath(k)...)
		if v == nil {
			s.deleteLocked(parts)
			continue
		}
		parent, key := ensureParent(s.root, parts)
		parent[key] = deepCopy(v)
	}
	s.notifyLocked(base)
}

// Transaction runs fn against the current value at path (nil if absent) and
// commits its result, or aborts if fn's second return is false. fn executes
// under the store lock, so the read-modify-write is a single atomic step and
// concurrent transactions on the same key serialize.
func (s *RoomStore) Transaction(path string, fn func(cur any) (any, bool)) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cur any
	if v, ok := lookup(s.root, parts); ok {
		cur = deepCopy(v)
	}

	next, commit := fn(cur)
	if !commit {
		return false
	}

	if next == nil {
		s.deleteLocked(parts)
	} else {
		parent, key := ensureParent(s.root, parts)
		parent[key] = deepCopy(next)
	}
	s.notifyLocked(parts)
	return true
}

// Subscribe registers fn for snapshots of the subtree at path. fn fires once
// immediately with the current value (nil if absent) and again after every
// overlapping mutation. Callbacks run on their own goroutine; a slow consumer
// coalesces to the latest snapshot instead of blocking writers.
func (s *RoomStore) Subscribe(path string, fn func(snapshot any)) (unsubscribe func()) {
	parts := splitPath(path)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &storeSub{
		id:   id,
		path: parts,
		ch:   make(chan any, 1),
	}
	s.subs[id] = sub

	if v, ok := lookup(s.root, parts); ok {
		sub.ch <- deepCopy(v)
	} else {
		sub.ch <- nil
	}
	s.mu.Unlock()

	go func() {
		for snap := range sub.ch {
			fn(snap)
		}
	}()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
}

// notifyLocked pushes fresh snapshots to every subscriber whose path overlaps
// the changed path, in either direction: a write below a subscription changes
// its subtree, and a write above it may replace it wholesale.
func (s *RoomStore) notifyLocked(changed []string) {
	for _, sub := range s.subs {
		if !pathsOverlap(sub.path, changed) {
			continue
		}

		var snap any
		if v, ok := lookup(s.root, sub.path); ok {
			snap = deepCopy(v)
		}

		// Keep-latest: drop the stale pending snapshot if the consumer
		// hasn't picked it up yet.
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

func pathsOverlap(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OnDisconnect registers a cleanup action, keyed by the owning connection,
// to run when that connection drops: remove the path (value == nil) or set it.
// This is what turns a closed tab into a freed slot claim.
func (s *RoomStore) OnDisconnect(ownerID, path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disc[ownerID] = append(s.disc[ownerID], disconnectAction{path: path, value: deepCopy(value)})
}

// CancelDisconnect drops a pending cleanup action, used after an explicit
// release already did the work.
func (s *RoomStore) CancelDisconnect(ownerID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := s.disc[ownerID]
	kept := actions[:0]
	for _, a := range actions {
		if a.path != path {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(s.disc, ownerID)
	} else {
		s.disc[ownerID] = kept
	}
}

// RunDisconnect applies and clears every cleanup action registered by ownerID.
func (s *RoomStore) RunDisconnect(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := s.disc[ownerID]
	delete(s.disc, ownerID)

	for _, a := range actions {
		parts := splitPath(a.path)
		if len(parts) == 0 {
			continue
		}
		if a.value == nil {
			s.deleteLocked(parts)
		} else {
			parent, key := ensureParent(s.root, parts)
			parent[key] = deepCopy(a.value)
		}
		s.notifyLocked(parts)
	}
}
