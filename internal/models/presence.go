package models

// PresenceEntry is the heartbeat document of one signed-in user.
type PresenceEntry struct {
	UID        string `json:"uid,omitempty"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	Online     bool   `json:"online"`
	LastSeenMs int64  `json:"lastSeenMs"`
}
