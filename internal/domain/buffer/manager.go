// Package buffer manages the open editing tabs. Each buffer is bound to
// one cached member; saving writes through the resource cache so the
// cache's synced baseline stays authoritative.
package buffer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/domain/resource"
	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/id"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// DefaultStatusWindow is how long a save outcome stays displayed.
const DefaultStatusWindow = 3 * time.Second

// Cache is the resource cache as seen by buffers.
type Cache interface {
	ReadMember(ctx context.Context, ref types.ResourceRef) (resource.Member, error)
	WriteMember(ctx context.Context, ref types.ResourceRef, content string) error
	Stage(ref types.ResourceRef, content string) (bool, error)
	Member(ref types.ResourceRef) (resource.Member, bool)
}

// Options configures a Manager.
type Options struct {
	StatusWindow time.Duration
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
	Events       *events.Broadcaster
}

// Manager owns the set of open buffers and the active tab.
type Manager struct {
	cache   Cache
	window  time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics
	events  *events.Broadcaster

	mu      sync.Mutex
	buffers map[id.BufferID]*buffer // Protected by mu
	byRef   map[string]*buffer      // Protected by mu
	order   []id.BufferID           // tab order, protected by mu
	active  id.BufferID             // Protected by mu
}

type buffer struct {
	id         id.BufferID
	ref        types.ResourceRef
	content    string
	language   Language
	state      types.BufferState
	saveStatus types.SaveStatus
	detail     string
	openedAt   time.Time

	opened  chan struct{} // closed when opening finishes
	openErr error

	statusGen uint64
	reset     *time.Timer
}

// NewManager creates a manager over cache.
func NewManager(cache Cache, opts Options) *Manager {
	if opts.StatusWindow <= 0 {
		opts.StatusWindow = DefaultStatusWindow
	}
	return &Manager{
		cache:   cache,
		window:  opts.StatusWindow,
		logger:  logging.OrNop(opts.Logger).Named("buffer"),
		metrics: opts.Metrics,
		events:  opts.Events,
		buffers: make(map[id.BufferID]*buffer),
		byRef:   make(map[string]*buffer),
	}
}

// Open returns the buffer for ref, activating an existing one or creating
// it from the cached member. A failed open leaves no buffer behind.
func (m *Manager) Open(ctx context.Context, ref types.ResourceRef) (Buffer, error) {
	m.mu.Lock()
	if b, ok := m.byRef[ref.String()]; ok {
		m.mu.Unlock()
		return m.join(ctx, b)
	}

	b := &buffer{
		id:         id.NewBufferID(),
		ref:        ref,
		state:      types.BufferOpening,
		saveStatus: types.SaveIdle,
		openedAt:   time.Now(),
		opened:     make(chan struct{}),
	}
	m.buffers[b.id] = b
	m.byRef[ref.String()] = b
	m.mu.Unlock()

	member, err := m.cache.ReadMember(ctx, ref)

	m.mu.Lock()
	if err != nil {
		b.openErr = err
		b.state = types.BufferClosed
		delete(m.buffers, b.id)
		delete(m.byRef, ref.String())
		close(b.opened)
		m.mu.Unlock()

		m.logger.Warn("open failed", zap.Stringer("ref", ref), zap.Error(err))
		return Buffer{}, err
	}

	b.content = member.Content
	b.language = DetectLanguage(member.Content)
	b.state = types.BufferOpen
	m.order = append(m.order, b.id)
	m.active = b.id
	close(b.opened)
	snap := m.snapshotLocked(b)
	count := len(m.order)
	m.mu.Unlock()

	m.metrics.SetBuffersOpen(count)
	m.logger.Debug("buffer opened", zap.Stringer("ref", ref), zap.String("buffer", b.id.String()))
	m.publish(events.BufferOpened, b, "")
	return snap, nil
}

// join waits for an in-progress open of b, then activates it.
func (m *Manager) join(ctx context.Context, b *buffer) (Buffer, error) {
	select {
	case <-b.opened:
	case <-ctx.Done():
		return Buffer{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b.openErr != nil {
		return Buffer{}, b.openErr
	}
	if m.buffers[b.id] != b {
		return Buffer{}, errs.ErrBufferNotFound
	}
	m.active = b.id
	return m.snapshotLocked(b), nil
}

// Edit replaces a buffer's content. The buffer is dirty exactly when the
// new content differs from the member's synced content.
func (m *Manager) Edit(bufferID id.BufferID, content string) (Buffer, error) {
	m.mu.Lock()
	b, err := m.openLocked(bufferID)
	if err != nil {
		m.mu.Unlock()
		return Buffer{}, err
	}

	dirty, err := m.cache.Stage(b.ref, content)
	if err != nil {
		m.mu.Unlock()
		return Buffer{}, err
	}
	b.content = content

	if b.saveStatus != types.SaveSaving {
		switch {
		case dirty:
			m.setStatusLocked(b, types.SaveUnsaved, "")
		case b.saveStatus == types.SaveUnsaved:
			m.setStatusLocked(b, types.SaveIdle, "")
		}
	}
	snap := m.snapshotLocked(b)
	m.mu.Unlock()

	m.publish(events.BufferChanged, b, "")
	return snap, nil
}

// Insert replaces the buffer's content with text, as when a code block
// from the assistant is copied into the editor.
func (m *Manager) Insert(bufferID id.BufferID, text string) (Buffer, error) {
	return m.Edit(bufferID, text)
}

// Save writes a dirty buffer through the cache. The outcome is shown for
// the status window, then the status returns to idle. A failed save keeps
// the buffer dirty.
func (m *Manager) Save(ctx context.Context, bufferID id.BufferID) error {
	m.mu.Lock()
	b, err := m.openLocked(bufferID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.dirtyLocked(b) {
		m.mu.Unlock()
		return errs.ErrNotDirty
	}
	content := b.content
	m.setStatusLocked(b, types.SaveSaving, "")
	m.mu.Unlock()
	m.publish(events.BufferStatus, b, string(types.SaveSaving))

	err = m.cache.WriteMember(ctx, b.ref, content)

	m.mu.Lock()
	if m.buffers[b.id] != b {
		// Closed while saving; the cache has applied or rejected the
		// write on its own.
		m.mu.Unlock()
		m.logger.Debug("save finished after close", zap.Stringer("ref", b.ref), zap.Error(err))
		return err
	}

	status, detail := types.SaveSaved, ""
	switch {
	case err != nil:
		status, detail = types.SaveError, errs.DetailOf(err)
	case m.dirtyLocked(b):
		// Edited while the write was in flight.
		status = types.SaveUnsaved
	}
	m.setStatusLocked(b, status, detail)
	if status != types.SaveUnsaved {
		m.scheduleResetLocked(b)
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.RecordSave("error")
		m.logger.Warn("save failed", zap.Stringer("ref", b.ref), zap.Error(err))
	} else {
		m.metrics.RecordSave("saved")
		m.logger.Info("saved", zap.Stringer("ref", b.ref))
	}
	m.publish(events.BufferStatus, b, string(status))
	return err
}

// Close closes a clean buffer. A dirty buffer is rejected with
// ErrBufferDirty; use Discard to drop its edits.
func (m *Manager) Close(bufferID id.BufferID) error {
	return m.close(bufferID, false)
}

// Discard closes a buffer even if it has unsaved edits. The cached member
// is left as it is.
func (m *Manager) Discard(bufferID id.BufferID) error {
	return m.close(bufferID, true)
}

func (m *Manager) close(bufferID id.BufferID, discard bool) error {
	m.mu.Lock()
	b, err := m.openLocked(bufferID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.dirtyLocked(b) && !discard {
		m.mu.Unlock()
		return errs.ErrBufferDirty
	}

	b.state = types.BufferClosing
	if b.reset != nil {
		b.reset.Stop()
	}
	delete(m.buffers, b.id)
	delete(m.byRef, b.ref.String())
	idx := m.indexLocked(b.id)
	m.order = append(m.order[:idx], m.order[idx+1:]...)
	if m.active == b.id {
		m.active = ""
		if len(m.order) > 0 {
			if idx >= len(m.order) {
				idx = len(m.order) - 1
			}
			m.active = m.order[idx]
		}
	}
	b.state = types.BufferClosed
	count := len(m.order)
	m.mu.Unlock()

	m.metrics.SetBuffersOpen(count)
	detail := ""
	if discard {
		detail = "discarded"
	}
	m.logger.Debug("buffer closed", zap.Stringer("ref", b.ref), zap.Bool("discard", discard))
	m.publish(events.BufferClosed, b, detail)
	return nil
}

// Activate makes a buffer the active tab.
func (m *Manager) Activate(bufferID id.BufferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.openLocked(bufferID); err != nil {
		return err
	}
	m.active = bufferID
	return nil
}

// Active returns the active buffer.
func (m *Manager) Active() (Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[m.active]
	if !ok {
		return Buffer{}, false
	}
	return m.snapshotLocked(b), true
}

// Get returns a buffer by ID.
func (m *Manager) Get(bufferID id.BufferID) (Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[bufferID]
	if !ok {
		return Buffer{}, false
	}
	return m.snapshotLocked(b), true
}

// Find returns the buffer open for ref.
func (m *Manager) Find(ref types.ResourceRef) (Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byRef[ref.String()]
	if !ok || b.state != types.BufferOpen {
		return Buffer{}, false
	}
	return m.snapshotLocked(b), true
}

// List returns open buffers in tab order.
func (m *Manager) List() []Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Buffer, 0, len(m.order))
	for _, bid := range m.order {
		out = append(out, m.snapshotLocked(m.buffers[bid]))
	}
	return out
}

// Count returns the number of open buffers.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *Manager) openLocked(bufferID id.BufferID) (*buffer, error) {
	b, ok := m.buffers[bufferID]
	if !ok {
		return nil, errs.ErrBufferNotFound
	}
	if b.state != types.BufferOpen {
		return nil, errs.ErrBufferClosing
	}
	return b, nil
}

func (m *Manager) indexLocked(bufferID id.BufferID) int {
	for i, bid := range m.order {
		if bid == bufferID {
			return i
		}
	}
	return -1
}

// lastSyncedLocked reads the synced baseline from the cache.
func (m *Manager) lastSyncedLocked(b *buffer) (string, bool) {
	member, ok := m.cache.Member(b.ref)
	if !ok || !member.Loaded {
		return "", false
	}
	return member.LastSynced, true
}

func (m *Manager) dirtyLocked(b *buffer) bool {
	synced, ok := m.lastSyncedLocked(b)
	return !ok || b.content != synced
}

func (m *Manager) setStatusLocked(b *buffer, status types.SaveStatus, detail string) {
	b.statusGen++
	if b.reset != nil {
		b.reset.Stop()
		b.reset = nil
	}
	b.saveStatus = status
	b.detail = detail
}

// scheduleResetLocked returns the save status to idle after the window,
// unless a newer status replaced it first.
func (m *Manager) scheduleResetLocked(b *buffer) {
	gen := b.statusGen
	b.reset = time.AfterFunc(m.window, func() {
		m.mu.Lock()
		if m.buffers[b.id] != b || b.statusGen != gen {
			m.mu.Unlock()
			return
		}
		b.statusGen++
		b.reset = nil
		b.saveStatus = types.SaveIdle
		b.detail = ""
		m.mu.Unlock()
		m.publish(events.BufferStatus, b, string(types.SaveIdle))
	})
}

func (m *Manager) publish(kind events.Kind, b *buffer, detail string) {
	m.events.Publish(events.Event{
		Kind:      kind,
		Container: b.ref.Container,
		Member:    b.ref.Member,
		BufferID:  b.id.String(),
		Detail:    detail,
	})
}
