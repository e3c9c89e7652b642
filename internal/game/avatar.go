package game

import (
	"time"

	"github.com/kaikoh95/klaw-craft/internal/protocol"
)

// Avatar is the server's record of one player or bot. Transforms are taken
// from the owning client as reported; the server does not simulate them.
type Avatar struct {
	ID       string
	Name     string
	Bot      bool
	Position protocol.Vec3
	Rotation protocol.Rotation
	JoinedAt time.Time
}

// Wire returns the avatar as announced to peers.
func (a *Avatar) Wire() protocol.Player {
	return protocol.Player{
		ID:       a.ID,
		Name:     a.Name,
		Position: a.Position,
		Rotation: a.Rotation,
	}
}
