package domain

import "time"

// User identity as seen by the relay. The core only mutates presence
// fields (Online, LastSeen); account lifecycle belongs to collaborators.
type User struct {
	ID       string
	Username string
	Online   bool
	LastSeen time.Time
}
