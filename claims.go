package main

import (
	"net/http"

	"github.com/google/uuid"
)

// Browser identity: a random 128-bit identifier persisted in a cookie, so the
// same tab/profile keeps its identity across reloads while two installations
// never collide in practice.

const clientCookieName = "wta_id"

func getOrSetClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func claimPath(roomID, playerID string) string {
	return roomPath(roomID) + "/claims/" + playerID
}

// ClaimSlot binds a player slot to clientID with a single atomic
// read-modify-write: unclaimed slots are taken, re-claims by the same client
// succeed as no-ops, and slots held by anyone else fail without side effects.
// Only the claims subtree is ever touched.
func ClaimSlot(store *RoomStore, roomID, playerID, clientID string) bool {
	return store.Transaction(claimPath(roomID, playerID), func(cur any) (any, bool) {
		switch holder := cur.(type) {
		case nil:
			return clientID, true
		case string:
			if holder == clientID {
				return clientID, true
			}
		}
		return nil, false
	})
}

// ReleaseSlot clears the claim only while still held by clientID; a stale or
// late release never evicts a different, later claimant.
func ReleaseSlot(store *RoomStore, roomID, playerID, clientID string) {
	store.Transaction(claimPath(roomID, playerID), func(cur any) (any, bool) {
		if holder, ok := cur.(string); ok && holder == clientID {
			return nil, true
		}
		return nil, false
	})
}

// registerClaimCleanup arms the store's disconnect hook so a closed tab or
// dropped connection frees the slot (and its cursor) without client action.
func registerClaimCleanup(store *RoomStore, connID, roomID, playerID string) {
	store.OnDisconnect(connID, claimPath(roomID, playerID), nil)
	store.OnDisconnect(connID, roomPath(roomID)+"/cursors/"+playerID, nil)
}
