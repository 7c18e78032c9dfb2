package event

import "github.com/jasona/mudforge-sub005/internal/world"

// PlayerEnteredWorld fires after authentication and binding complete.
type PlayerEnteredWorld struct {
	Player *world.Player
	Resume bool // true when the entry was a session resume
}

// PlayerLeftWorld fires on quit or disconnect.
type PlayerLeftWorld struct {
	Player *world.Player
	Reason string
	Clean  bool // true for quit, false for dropped links
}

// ObjectDestroyed fires when a script destructs a registered object.
type ObjectDestroyed struct {
	ID   world.ID
	Path string
}
