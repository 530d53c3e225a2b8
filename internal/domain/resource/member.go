package resource

import (
	"time"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Member is a point-in-time view of a cached member.
type Member struct {
	Ref        types.ResourceRef
	Content    string
	LastSynced string
	Loaded     bool
	Dirty      bool
	State      types.LoadState
	Err        error
	SyncedAt   time.Time
}

func (e *entry) snapshot() Member {
	return Member{
		Ref:        e.ref,
		Content:    e.content,
		LastSynced: e.lastSynced,
		Loaded:     e.loaded,
		Dirty:      e.loaded && e.content != e.lastSynced,
		State:      e.state,
		Err:        e.err,
		SyncedAt:   e.syncedAt,
	}
}
