package domain

import "time"

// PresenceSnapshot is the set of online users at a point in time, derived
// from the registry. Ephemeral, rebuilt from scratch on restart.
type PresenceSnapshot struct {
	Online  []UserID  `json:"online"`
	TakenAt time.Time `json:"taken_at"`
}

// Contains reports whether the snapshot includes the user.
func (s PresenceSnapshot) Contains(user UserID) bool {
	for _, u := range s.Online {
		if u == user {
			return true
		}
	}
	return false
}
