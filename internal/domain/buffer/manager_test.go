package buffer

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/backendtest"
	"github.com/GriffinCanCode/zcraft/internal/domain/credentials"
	"github.com/GriffinCanCode/zcraft/internal/domain/resource"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

var (
	testCreds = types.Credentials{Host: "h", Port: "1", Username: "u", Password: "p"}
	hello     = types.ResourceRef{Container: "USER.JCL", Member: "HELLO"}
	other     = types.ResourceRef{Container: "USER.JCL", Member: "OTHER"}
)

const helloJCL = "//HELLO JOB\n//STEP1 EXEC PGM=IEFBR14\n"

func newManager(t *testing.T, window time.Duration) (*Manager, *resource.Cache, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddDataset(types.Container{Name: "USER.JCL"}, map[string]string{
		"HELLO": helloJCL,
		"OTHER": "say hello\n",
	})

	token, err := srv.Token(testCreds)
	require.NoError(t, err)
	cc := credentials.NewContext(nil)
	cc.Set(credentials.Session{Credentials: testCreds, Token: token})

	cache := resource.New(transport.New(transport.Options{BaseURL: srv.URL}), cc, resource.Options{})
	return NewManager(cache, Options{StatusWindow: window}), cache, srv
}

func TestOpenSameResourceTwice(t *testing.T) {
	m, _, srv := newManager(t, time.Second)
	ctx := context.Background()

	first, err := m.Open(ctx, hello)
	require.NoError(t, err)
	_, err = m.Open(ctx, other)
	require.NoError(t, err)

	again, err := m.Open(ctx, hello)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Active)
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 2, srv.Calls(backendtest.RouteRead))
	assert.Equal(t, LanguageJCL, first.Language)
	assert.Equal(t, types.BufferOpen, first.State)
}

func TestConcurrentOpensShareBuffer(t *testing.T) {
	m, _, srv := newManager(t, time.Second)
	gate := srv.Block(backendtest.RouteRead)

	var wg sync.WaitGroup
	ids := make([]string, 3)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := m.Open(context.Background(), hello)
			assert.NoError(t, err)
			ids[i] = b.ID.String()
		}(i)
	}

	<-gate.Entered()
	time.Sleep(30 * time.Millisecond)
	gate.Release()
	wg.Wait()

	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[1], ids[2])
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, srv.Calls(backendtest.RouteRead))
}

func TestOpenFailureLeavesNoBuffer(t *testing.T) {
	m, _, srv := newManager(t, time.Second)
	srv.Fail(backendtest.RouteRead, http.StatusInternalServerError, "Error reading member")

	_, err := m.Open(context.Background(), hello)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindContentFetch))
	assert.Equal(t, 0, m.Count())
	_, ok := m.Find(hello)
	assert.False(t, ok)

	srv.Recover(backendtest.RouteRead)
	_, err = m.Open(context.Background(), hello)
	assert.NoError(t, err)
}

func TestEditDirtyTracking(t *testing.T) {
	m, cache, _ := newManager(t, time.Second)
	b, err := m.Open(context.Background(), hello)
	require.NoError(t, err)

	check := func(buf Buffer) {
		member, _ := cache.Member(hello)
		assert.Equal(t, buf.Content != member.LastSynced, buf.Dirty)
	}

	edited, err := m.Edit(b.ID, helloJCL+"//STEP2 EXEC PGM=IEFBR14\n")
	require.NoError(t, err)
	assert.True(t, edited.Dirty)
	assert.Equal(t, types.SaveUnsaved, edited.SaveStatus)
	check(edited)

	reverted, err := m.Edit(b.ID, helloJCL)
	require.NoError(t, err)
	assert.False(t, reverted.Dirty, "undo back to saved content is clean")
	assert.Equal(t, types.SaveIdle, reverted.SaveStatus)
	check(reverted)
}

func TestSaveSuccessAndStatusReset(t *testing.T) {
	m, cache, srv := newManager(t, 50*time.Millisecond)
	ctx := context.Background()
	b, err := m.Open(ctx, hello)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Save(ctx, b.ID), errs.ErrNotDirty)

	_, err = m.Edit(b.ID, "//HELLO JOB CLASS=A\n")
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, b.ID))

	saved, _ := m.Get(b.ID)
	assert.Equal(t, types.SaveSaved, saved.SaveStatus)
	assert.False(t, saved.Dirty)

	member, _ := cache.Member(hello)
	assert.Equal(t, "//HELLO JOB CLASS=A\n", member.LastSynced)
	stored, _ := srv.Content(hello)
	assert.Equal(t, "//HELLO JOB CLASS=A\n", stored)

	assert.Eventually(t, func() bool {
		cur, _ := m.Get(b.ID)
		return cur.SaveStatus == types.SaveIdle
	}, time.Second, 10*time.Millisecond)
}

func TestSaveFailureKeepsDirty(t *testing.T) {
	m, cache, srv := newManager(t, 50*time.Millisecond)
	ctx := context.Background()
	b, err := m.Open(ctx, hello)
	require.NoError(t, err)

	_, err = m.Edit(b.ID, "changed")
	require.NoError(t, err)

	srv.Fail(backendtest.RouteWrite, http.StatusBadRequest, "Dataset is enqueued")
	err = m.Save(ctx, b.ID)
	require.Error(t, err)

	failed, _ := m.Get(b.ID)
	assert.Equal(t, types.SaveError, failed.SaveStatus)
	assert.Equal(t, "Dataset is enqueued", failed.StatusDetail)
	assert.True(t, failed.Dirty)

	member, _ := cache.Member(hello)
	assert.Equal(t, helloJCL, member.LastSynced)

	assert.Eventually(t, func() bool {
		cur, _ := m.Get(b.ID)
		return cur.SaveStatus == types.SaveIdle && cur.Dirty
	}, time.Second, 10*time.Millisecond)
}

func TestEditDuringSaveStaysUnsaved(t *testing.T) {
	m, cache, srv := newManager(t, 30*time.Millisecond)
	ctx := context.Background()
	b, err := m.Open(ctx, hello)
	require.NoError(t, err)
	_, err = m.Edit(b.ID, "v1")
	require.NoError(t, err)

	gate := srv.Block(backendtest.RouteWrite)
	done := make(chan error, 1)
	go func() { done <- m.Save(ctx, b.ID) }()
	<-gate.Entered()

	_, err = m.Edit(b.ID, "v2")
	require.NoError(t, err)
	gate.Release()
	require.NoError(t, <-done)

	cur, _ := m.Get(b.ID)
	assert.Equal(t, "v2", cur.Content)
	assert.True(t, cur.Dirty)
	assert.Equal(t, types.SaveUnsaved, cur.SaveStatus)

	member, _ := cache.Member(hello)
	assert.Equal(t, "v1", member.LastSynced)

	time.Sleep(80 * time.Millisecond)
	cur, _ = m.Get(b.ID)
	assert.Equal(t, types.SaveUnsaved, cur.SaveStatus, "no reset to idle over pending edits")
}

func TestNewerStatusCancelsReset(t *testing.T) {
	m, _, srv := newManager(t, 80*time.Millisecond)
	ctx := context.Background()
	b, err := m.Open(ctx, hello)
	require.NoError(t, err)

	_, err = m.Edit(b.ID, "one")
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, b.ID))

	time.Sleep(50 * time.Millisecond)
	srv.Fail(backendtest.RouteWrite, http.StatusBadRequest, "nope")
	_, err = m.Edit(b.ID, "two")
	require.NoError(t, err)
	require.Error(t, m.Save(ctx, b.ID))

	// The first save's reset must not clear the newer error.
	time.Sleep(45 * time.Millisecond)
	cur, _ := m.Get(b.ID)
	assert.Equal(t, types.SaveError, cur.SaveStatus)
}

func TestCloseDirtyRequiresDiscard(t *testing.T) {
	m, cache, _ := newManager(t, time.Second)
	b, err := m.Open(context.Background(), hello)
	require.NoError(t, err)
	_, err = m.Edit(b.ID, "unsaved work")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Close(b.ID), errs.ErrBufferDirty)
	_, ok := m.Get(b.ID)
	assert.True(t, ok)

	before, _ := cache.Member(hello)
	require.NoError(t, m.Discard(b.ID))
	_, ok = m.Get(b.ID)
	assert.False(t, ok)

	after, _ := cache.Member(hello)
	assert.Equal(t, before, after, "closing must not touch the cache")
	assert.ErrorIs(t, m.Close(b.ID), errs.ErrBufferNotFound)
}

func TestCloseMovesActiveTab(t *testing.T) {
	m, _, _ := newManager(t, time.Second)
	ctx := context.Background()
	a, err := m.Open(ctx, hello)
	require.NoError(t, err)
	b, err := m.Open(ctx, other)
	require.NoError(t, err)

	require.NoError(t, m.Activate(a.ID))
	require.NoError(t, m.Close(a.ID))

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)

	require.NoError(t, m.Close(b.ID))
	_, ok = m.Active()
	assert.False(t, ok)
}

func TestCloseDuringSaveIgnoresResult(t *testing.T) {
	m, cache, srv := newManager(t, time.Second)
	ctx := context.Background()
	b, err := m.Open(ctx, hello)
	require.NoError(t, err)
	_, err = m.Edit(b.ID, "in flight")
	require.NoError(t, err)

	gate := srv.Block(backendtest.RouteWrite)
	done := make(chan error, 1)
	go func() { done <- m.Save(ctx, b.ID) }()
	<-gate.Entered()

	require.NoError(t, m.Discard(b.ID))
	gate.Release()
	require.NoError(t, <-done)

	member, _ := cache.Member(hello)
	assert.Equal(t, "in flight", member.LastSynced, "the cache still applies the write")
	_, ok := m.Get(b.ID)
	assert.False(t, ok)
}

func TestInsertAndDiff(t *testing.T) {
	m, _, _ := newManager(t, time.Second)
	b, err := m.Open(context.Background(), hello)
	require.NoError(t, err)

	patch, err := m.Diff(b.ID)
	require.NoError(t, err)
	assert.Empty(t, patch)

	_, err = m.Insert(b.ID, strings.Replace(helloJCL, "IEFBR14", "IEBGENER", 1))
	require.NoError(t, err)

	patch, err = m.Diff(b.ID)
	require.NoError(t, err)
	assert.Contains(t, patch, "@@")
	assert.Contains(t, patch, "IEBGENER")
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		content string
		want    Language
	}{
		{"\n//JOB1 JOB (ACCT)\n", LanguageJCL},
		{"/* REXX */\nsay 'hi'\n", LanguageREXX},
		{"       IDENTIFICATION DIVISION.\n       PROGRAM-ID. HELLO.\n", LanguageCOBOL},
		{"plain notes", LanguageText},
		{"", LanguageText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.content), tt.content)
	}
}
