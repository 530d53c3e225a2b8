// Package resource is the client-side cache of the remote resource tree:
// containers, their members and per-member content with dirty tracking.
// All content reads and writes go through it.
package resource

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/shared/utils"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

// Backend is the subset of the backend the cache calls.
type Backend interface {
	ListDatasets(ctx context.Context, auth transport.Auth) ([]types.Container, error)
	ListMembers(ctx context.Context, auth transport.Auth, container string) ([]types.MemberInfo, error)
	ReadMember(ctx context.Context, auth transport.Auth, ref types.ResourceRef) (transport.MemberContent, error)
	WriteMember(ctx context.Context, auth transport.Auth, ref types.ResourceRef, content string) error
}

// AuthSource yields the credentials of the active session at call time.
type AuthSource interface {
	Auth(op string) (transport.Auth, error)
}

// Options configures a Cache.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Events  *events.Broadcaster
}

// Cache holds the resource tree and member contents.
type Cache struct {
	backend Backend
	auth    AuthSource
	logger  *logging.Logger
	metrics *monitoring.Metrics
	events  *events.Broadcaster

	flights singleflight.Group
	writes  *utils.KeyedQueue

	mu         sync.RWMutex
	containers listing[types.Container]
	members    map[string]*listing[types.MemberInfo]
	entries    map[string]*entry
}

// listing is a remotely loaded list with its load status.
type listing[T any] struct {
	items    []T
	state    types.LoadState
	err      error
	loadedAt time.Time
}

// entry is one member's cached content.
type entry struct {
	ref        types.ResourceRef
	content    string
	lastSynced string
	loaded     bool
	state      types.LoadState
	err        error
	syncedAt   time.Time
}

// New creates an empty cache.
func New(backend Backend, auth AuthSource, opts Options) *Cache {
	return &Cache{
		backend:    backend,
		auth:       auth,
		logger:     logging.OrNop(opts.Logger).Named("resource"),
		metrics:    opts.Metrics,
		events:     opts.Events,
		writes:     utils.NewKeyedQueue(),
		containers: listing[types.Container]{state: types.LoadIdle},
		members:    make(map[string]*listing[types.MemberInfo]),
		entries:    make(map[string]*entry),
	}
}

// share runs fn once per key among concurrent callers. The shared call is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (c *Cache) share(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListContainers fetches and replaces the container list. On failure the
// previous list is kept and returned alongside the error, and the listing
// is marked failed.
func (c *Cache) ListContainers(ctx context.Context) ([]types.Container, error) {
	const op = "resource.ListContainers"

	auth, err := c.auth.Auth(op)
	if err != nil {
		return c.Containers(""), err
	}

	c.mu.Lock()
	c.containers.state = types.LoadLoading
	c.mu.Unlock()

	_, err = c.share(ctx, "containers", func(ctx context.Context) (any, error) {
		items, err := c.backend.ListDatasets(ctx, auth)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.containers.state = types.LoadFailed
			c.containers.err = errs.E(errs.KindContentFetch, op, "", err)
			return nil, c.containers.err
		}
		c.containers.items = append([]types.Container(nil), items...)
		c.containers.state = types.LoadLoaded
		c.containers.err = nil
		c.containers.loadedAt = time.Now()
		return nil, nil
	})

	if err != nil {
		c.logger.Warn("container listing failed", zap.Error(err))
		c.events.Publish(events.Event{Kind: events.ContainersFailed, Detail: errs.DetailOf(err)})
	} else {
		c.logger.Debug("containers loaded", zap.Int("count", len(c.Containers(""))))
		c.events.Publish(events.Event{Kind: events.ContainersLoaded})
	}
	return c.Containers(""), err
}

// ListMembers fetches a container's member list. Concurrent calls for the
// same container share one request.
func (c *Cache) ListMembers(ctx context.Context, container string) ([]types.MemberInfo, error) {
	const op = "resource.ListMembers"

	if err := utils.ValidateDatasetName(container); err != nil {
		return nil, errs.E(errs.KindContentFetch, op, err.Error(), errs.ErrInvalidRef)
	}
	auth, err := c.auth.Auth(op)
	if err != nil {
		return c.Members(container), err
	}

	c.mu.Lock()
	l := c.members[container]
	if l == nil {
		l = &listing[types.MemberInfo]{}
		c.members[container] = l
	}
	l.state = types.LoadLoading
	c.mu.Unlock()

	_, err = c.share(ctx, "members:"+container, func(ctx context.Context) (any, error) {
		items, err := c.backend.ListMembers(ctx, auth, container)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			l.state = types.LoadFailed
			l.err = errs.E(errs.KindContentFetch, op, "", err)
			return nil, l.err
		}
		l.items = append([]types.MemberInfo(nil), items...)
		l.state = types.LoadLoaded
		l.err = nil
		l.loadedAt = time.Now()
		return nil, nil
	})

	if err != nil {
		c.logger.Warn("member listing failed", zap.String("container", container), zap.Error(err))
		c.events.Publish(events.Event{Kind: events.MembersFailed, Container: container, Detail: errs.DetailOf(err)})
	} else {
		c.events.Publish(events.Event{Kind: events.MembersLoaded, Container: container})
	}
	return c.Members(container), err
}

// ReadMember returns cached content when present, otherwise fetches it.
func (c *Cache) ReadMember(ctx context.Context, ref types.ResourceRef) (Member, error) {
	if m, ok := c.Member(ref); ok && m.Loaded {
		c.metrics.RecordCacheHit()
		return m, nil
	}
	return c.fetch(ctx, ref, false)
}

// RefreshMember fetches content even when cached.
func (c *Cache) RefreshMember(ctx context.Context, ref types.ResourceRef) (Member, error) {
	return c.fetch(ctx, ref, true)
}

func (c *Cache) fetch(ctx context.Context, ref types.ResourceRef, force bool) (Member, error) {
	const op = "resource.ReadMember"

	if !ref.Valid() {
		return Member{}, errs.E(errs.KindContentFetch, op, errs.ErrInvalidRef.Error(), errs.ErrInvalidRef)
	}
	auth, err := c.auth.Auth(op)
	if err != nil {
		return Member{}, err
	}
	c.metrics.RecordCacheMiss()

	key := "read:" + ref.String()
	if force {
		key = "refresh:" + ref.String()
	}

	c.mu.Lock()
	e := c.entryLocked(ref)
	e.state = types.LoadLoading
	c.mu.Unlock()

	_, err = c.share(ctx, key, func(ctx context.Context) (any, error) {
		resp, err := c.backend.ReadMember(ctx, auth, ref)
		if err == nil && resp.Content == nil {
			err = errors.New("response carried no content")
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			e.state = types.LoadFailed
			e.err = errs.E(errs.KindContentFetch, op, "", err)
			return nil, e.err
		}
		e.content = *resp.Content
		e.lastSynced = *resp.Content
		e.loaded = true
		e.state = types.LoadLoaded
		e.err = nil
		e.syncedAt = time.Now()
		return nil, nil
	})

	if err != nil {
		c.logger.Warn("member read failed", zap.Stringer("ref", ref), zap.Error(err))
		return Member{}, err
	}

	c.events.Publish(events.Event{Kind: events.MemberLoaded, Container: ref.Container, Member: ref.Member})
	m, _ := c.Member(ref)
	return m, nil
}

// WriteMember sends content to the backend. Writes to the same member are
// applied one at a time in call order. On success the content becomes the
// synced baseline; on failure the cached content and dirty flag stay as
// they were.
func (c *Cache) WriteMember(ctx context.Context, ref types.ResourceRef, content string) error {
	const op = "resource.WriteMember"

	if !ref.Valid() {
		return errs.E(errs.KindContentWrite, op, errs.ErrInvalidRef.Error(), errs.ErrInvalidRef)
	}

	release, err := c.writes.Acquire(ctx, ref.String())
	if err != nil {
		return errs.E(errs.KindContentWrite, op, "write cancelled while queued", err)
	}
	defer release()

	// Credentials are read once the write reaches the head of the queue.
	auth, err := c.auth.Auth(op)
	if err != nil {
		return err
	}

	c.logger.Debug("writing member", zap.Stringer("ref", ref), zap.Int("bytes", len(content)))
	if err := c.backend.WriteMember(ctx, auth, ref, content); err != nil {
		werr := errs.E(errs.KindContentWrite, op, "", err)
		c.logger.Warn("member write failed", zap.Stringer("ref", ref), zap.Error(err))
		c.events.Publish(events.Event{Kind: events.MemberWriteFailed, Container: ref.Container, Member: ref.Member, Detail: werr.Detail})
		return werr
	}

	c.mu.Lock()
	e := c.entryLocked(ref)
	// Content staged after this write was queued stays dirty.
	if !e.loaded || e.content == e.lastSynced {
		e.content = content
	}
	e.lastSynced = content
	e.loaded = true
	e.state = types.LoadLoaded
	e.err = nil
	e.syncedAt = time.Now()
	c.mu.Unlock()

	c.events.Publish(events.Event{Kind: events.MemberWritten, Container: ref.Container, Member: ref.Member})
	return nil
}

// Stage records an in-memory edit and reports whether the member is now
// dirty. The member must have been read first.
func (c *Cache) Stage(ref types.ResourceRef, content string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ref.String()]
	if !ok || !e.loaded {
		return false, errs.E(errs.KindContentWrite, "resource.Stage", "member is not loaded", errs.ErrInvalidRef)
	}
	e.content = content
	return e.content != e.lastSynced, nil
}

// Revert drops staged edits, restoring the synced content.
func (c *Cache) Revert(ref types.ResourceRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ref.String()]
	if !ok || !e.loaded || e.content == e.lastSynced {
		return false
	}
	e.content = e.lastSynced
	return true
}

// entryLocked returns the entry for ref, creating it. c.mu must be held.
func (c *Cache) entryLocked(ref types.ResourceRef) *entry {
	key := ref.String()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{ref: ref, state: types.LoadIdle}
		c.entries[key] = e
	}
	return e
}

// Member returns a snapshot of a cached member.
func (c *Cache) Member(ref types.ResourceRef) (Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ref.String()]
	if !ok {
		return Member{}, false
	}
	return e.snapshot(), true
}

// Dirty lists members whose content differs from the synced baseline.
func (c *Cache) Dirty() []types.ResourceRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var refs []types.ResourceRef
	for _, e := range c.entries {
		if e.loaded && e.content != e.lastSynced {
			refs = append(refs, e.ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// ContainersStatus reports the container listing's load state and the
// error of the last failed load.
func (c *Cache) ContainersStatus() (types.LoadState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containers.state, c.containers.err
}

// MembersStatus reports a member listing's load state.
func (c *Cache) MembersStatus(container string) (types.LoadState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.members[container]
	if !ok {
		return types.LoadIdle, nil
	}
	return l.state, l.err
}

// Members returns the cached member list of a container.
func (c *Cache) Members(container string) []types.MemberInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.members[container]
	if !ok {
		return nil
	}
	return append([]types.MemberInfo(nil), l.items...)
}

// Clear drops everything, as on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers = listing[types.Container]{state: types.LoadIdle}
	c.members = make(map[string]*listing[types.MemberInfo])
	c.entries = make(map[string]*entry)
}
