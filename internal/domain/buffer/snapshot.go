package buffer

import (
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/GriffinCanCode/zcraft/internal/shared/id"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Buffer is a point-in-time view of an open buffer.
type Buffer struct {
	ID         id.BufferID       `json:"id"`
	Ref        types.ResourceRef `json:"ref"`
	Content    string            `json:"-"`
	Language   Language          `json:"language"`
	Dirty      bool              `json:"dirty"`
	SaveStatus types.SaveStatus  `json:"saveStatus"`
	// StatusDetail explains an error status.
	StatusDetail string            `json:"statusDetail,omitempty"`
	State        types.BufferState `json:"state"`
	Active       bool              `json:"active"`
	OpenedAt     time.Time         `json:"openedAt"`
}

func (m *Manager) snapshotLocked(b *buffer) Buffer {
	return Buffer{
		ID:           b.id,
		Ref:          b.ref,
		Content:      b.content,
		Language:     b.language,
		Dirty:        m.dirtyLocked(b),
		SaveStatus:   b.saveStatus,
		StatusDetail: b.detail,
		State:        b.state,
		Active:       m.active == b.id,
		OpenedAt:     b.openedAt,
	}
}

// Diff returns the pending edits of a buffer as patch text against the
// member's synced content. A clean buffer yields "".
func (m *Manager) Diff(bufferID id.BufferID) (string, error) {
	m.mu.Lock()
	b, err := m.openLocked(bufferID)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	synced, _ := m.lastSyncedLocked(b)
	content := b.content
	m.mu.Unlock()

	if synced == content {
		return "", nil
	}
	dmp := diffmatchpatch.New()
	a, bText, lines := dmp.DiffLinesToChars(synced, content)
	diffs := dmp.DiffMain(a, bText, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(synced, diffs)), nil
}
