package receiver

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facestream/internal/tracking"
)

// Session is the state of one receiving session. Nothing about a session
// is held in package variables, so independent sessions can coexist.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	Store     *tracking.Store
}

// NewSession starts a session with an empty store.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		StartedAt: now,
		Store:     tracking.NewStore(),
	}
}
