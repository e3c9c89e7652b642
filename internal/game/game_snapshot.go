package game

import (
	"time"

	"github.com/kaikoh95/klaw-craft/internal/protocol"
)

// AvatarSnapshot is an immutable copy of one avatar.
// Uses value types (not pointers) to ensure immutability
type AvatarSnapshot struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Bot      bool              `json:"bot"`
	Position protocol.Vec3     `json:"position"`
	Rotation protocol.Rotation `json:"rotation"`
}

// Snapshot is a read-only view of the relay published by the engine loop
// for HTTP handlers and metrics. Readers never block the loop.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Avatars     []AvatarSnapshot `json:"avatars"`
	Connections int              `json:"connections"`
	Players     int              `json:"players"`
	Bots        int              `json:"bots"`

	Voxels    int    `json:"voxels"`
	Digest    uint64 `json:"digest"`
	Generated bool   `json:"generated"`

	Mutations uint64            `json:"mutations"`
	Dropped   map[string]uint64 `json:"dropped"`
}

// produceSnapshot builds and publishes a new snapshot. Loop only.
func (e *Engine) produceSnapshot() {
	e.snapshotSeq++
	snap := &Snapshot{
		Sequence:    e.snapshotSeq,
		Timestamp:   time.Now(),
		Avatars:     make([]AvatarSnapshot, 0, e.avatars.Len()),
		Connections: len(e.sessions),
		Voxels:      e.world.Len(),
		Generated:   e.generated,
		Mutations:   e.mutations,
		Dropped:     make(map[string]uint64, len(e.dropped)),
	}

	for el := e.avatars.Front(); el != nil; el = el.Next() {
		a := el.Value
		snap.Avatars = append(snap.Avatars, AvatarSnapshot{
			ID:       a.ID,
			Name:     a.Name,
			Bot:      a.Bot,
			Position: a.Position,
			Rotation: a.Rotation,
		})
		if a.Bot {
			snap.Bots++
		} else {
			snap.Players++
		}
	}
	for reason, n := range e.dropped {
		snap.Dropped[reason] = n
	}

	if e.digestDirty {
		e.digest = e.world.Digest()
		e.digestDirty = false
	}
	snap.Digest = e.digest

	e.snapshot.Store(snap)
}

// GetSnapshot returns the latest published snapshot. Never nil after
// NewEngine.
func (e *Engine) GetSnapshot() *Snapshot {
	return e.snapshot.Load()
}
