package conversation

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/backendtest"
	"github.com/GriffinCanCode/zcraft/internal/domain/command"
	"github.com/GriffinCanCode/zcraft/internal/domain/credentials"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

var testCreds = types.Credentials{Host: "h", Port: "1", Username: "u", Password: "p"}

func newEngine(t *testing.T) (*Engine, *backendtest.Server, *credentials.Context) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	token, err := srv.Token(testCreds)
	require.NoError(t, err)
	cc := credentials.NewContext(nil)
	cc.Set(credentials.Session{Credentials: testCreds, Token: token})

	backend := transport.New(transport.Options{BaseURL: srv.URL})
	exec := command.NewExecutor(backend, command.Options{})
	return NewEngine(backend, cc, exec, Options{}), srv, cc
}

func TestPostMessageChat(t *testing.T) {
	e, srv, _ := newEngine(t)

	reply, err := e.PostMessage(context.Background(), types.ModeChat, "hello")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, reply.Role)
	assert.Equal(t, "You said: hello", reply.Content)
	assert.False(t, reply.Failed)
	assert.Equal(t, []Segment{text("You said: hello")}, reply.Segments)
	assert.Empty(t, reply.Proposals)

	thread := e.Thread(types.ModeChat)
	require.Len(t, thread, 2)
	assert.Equal(t, types.RoleUser, thread[0].Role)
	assert.Equal(t, "hello", thread[0].Content)
	assert.NotEqual(t, thread[0].ID, thread[1].ID)
	assert.Empty(t, e.Thread(types.ModeActions))
	assert.Equal(t, []string{"hello"}, srv.Prompts())
}

func TestPostMessageActionsProposals(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetReply(types.ModeActions, backendtest.Reply{
		Content:        "Check the **active** jobs.",
		UseResponseKey: true,
		Commands:       []types.CommandProposal{{Command: "D A,L", Description: "List"}},
	})

	reply, err := e.PostMessage(context.Background(), types.ModeActions, "what is running")
	require.NoError(t, err)
	assert.Equal(t, []types.CommandProposal{{Command: "D A,L", Description: "List"}}, reply.Proposals)
	assert.Equal(t, []Segment{text("Check the "), bold("active"), text(" jobs.")}, reply.Segments)

	p, ok := e.Proposal(0)
	require.True(t, ok)
	assert.Equal(t, "D A,L", p.Command)
	_, ok = e.Proposal(1)
	assert.False(t, ok)
}

func TestChatModeIgnoresProposals(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetReply(types.ModeChat, backendtest.Reply{Content: "```json\n[{\"command\":\"D T\"}]\n```"})

	reply, err := e.PostMessage(context.Background(), types.ModeChat, "show json")
	require.NoError(t, err)
	assert.Empty(t, reply.Proposals)
	assert.False(t, reply.Degraded)
}

func TestPostMessageMalformedCommandsDegrades(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetReply(types.ModeActions, backendtest.Reply{Raw: `{"content":"ok","commands":"D A"}`})

	reply, err := e.PostMessage(context.Background(), types.ModeActions, "go")
	require.NoError(t, err)
	assert.False(t, reply.Failed)
	assert.True(t, reply.Degraded)
	assert.Empty(t, reply.Proposals)
	assert.Equal(t, "ok", reply.Content)
}

func TestPostMessageFailureBecomesMessage(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.Fail(backendtest.RouteGenerate, http.StatusInternalServerError, "model offline")

	reply, err := e.PostMessage(context.Background(), types.ModeChat, "hello")
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.Equal(t, "Error: model offline", reply.Content)
	assert.Len(t, e.Thread(types.ModeChat), 2)
	assert.False(t, e.Busy(types.ModeChat))

	srv.Recover(backendtest.RouteGenerate)
	reply, err = e.PostMessage(context.Background(), types.ModeChat, "again")
	require.NoError(t, err)
	assert.False(t, reply.Failed)
}

func TestPostMessageWithoutTextFails(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetReply(types.ModeChat, backendtest.Reply{Raw: `{"commands":[]}`})

	reply, err := e.PostMessage(context.Background(), types.ModeChat, "hello")
	require.NoError(t, err)
	assert.True(t, reply.Failed)
}

func TestPostMessageRejected(t *testing.T) {
	e, srv, _ := newEngine(t)

	_, err := e.PostMessage(context.Background(), types.Mode("debug"), "hello")
	assert.ErrorIs(t, err, errs.ErrUnknownMode)

	_, err = e.PostMessage(context.Background(), types.ModeChat, "   ")
	assert.Error(t, err)

	assert.Zero(t, srv.Calls(backendtest.RouteGenerate))
	assert.Empty(t, e.Thread(types.ModeChat))
}

func TestThreadAcceptsOneRequestAtATime(t *testing.T) {
	e, srv, _ := newEngine(t)
	gate := srv.Block(backendtest.RouteGenerate)

	done := make(chan Message)
	go func() {
		reply, _ := e.PostMessage(context.Background(), types.ModeActions, "first")
		done <- reply
	}()
	<-gate.Entered()

	assert.True(t, e.Busy(types.ModeActions))
	assert.False(t, e.Busy(types.ModeChat))

	_, err := e.PostMessage(context.Background(), types.ModeActions, "second")
	assert.ErrorIs(t, err, errs.ErrThreadBusy)

	gate.Release()
	reply := <-done
	assert.Equal(t, "You said: first", reply.Content)
	assert.False(t, e.Busy(types.ModeActions))
	assert.Len(t, e.Thread(types.ModeActions), 2)
	assert.Equal(t, []string{"first"}, srv.Prompts())
}

func TestExecuteProposal(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetCommand("D T", backendtest.CommandResult{Output: "IEE136I TIME=10.00.00"})

	msg, err := e.ExecuteProposal(context.Background(), types.CommandProposal{Command: "D T"})
	require.NoError(t, err)
	assert.Equal(t, "IEE136I TIME=10.00.00", msg.Content)
	require.NotNil(t, msg.Execution)
	assert.Equal(t, "D T", msg.Execution.Command)
	assert.Equal(t, "****", msg.Execution.Credentials.Password)

	thread := e.Thread(types.ModeActions)
	require.Len(t, thread, 1)
	assert.Equal(t, msg.ID, thread[0].ID)
}

func TestExecuteProposalFailures(t *testing.T) {
	e, srv, cc := newEngine(t)
	srv.SetCommand("CANCEL X", backendtest.CommandResult{Status: http.StatusBadRequest, Detail: "X NOT ACTIVE"})

	msg, err := e.ExecuteProposal(context.Background(), types.CommandProposal{Command: "CANCEL X"})
	assert.True(t, errs.Is(err, errs.KindCommandExecution))
	assert.True(t, msg.Failed)
	assert.Equal(t, "Command failed: X NOT ACTIVE", msg.Content)

	cc.Clear()
	msg, err = e.ExecuteProposal(context.Background(), types.CommandProposal{Command: "D T"})
	assert.True(t, errs.Is(err, errs.KindMissingCredentials))
	assert.True(t, msg.Failed)
	assert.Nil(t, msg.Execution)
	assert.Equal(t, 1, srv.Calls(backendtest.RouteCommand))
	assert.Len(t, e.Thread(types.ModeActions), 2)
}

func TestAnalyzeIsCachedUntilRefreshed(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetAnalysis("healthy", []string{"compress SYS1.LINKLIB"})

	a, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", a.Analysis)
	assert.Equal(t, []string{"compress SYS1.LINKLIB"}, a.Recommendations)

	srv.SetAnalysis("degraded", nil)
	a, err = e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", a.Analysis)
	assert.Equal(t, 1, srv.Calls(backendtest.RouteAnalyze))

	a, err = e.RefreshAnalysis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", a.Analysis)
	assert.Equal(t, 2, srv.Calls(backendtest.RouteAnalyze))
}

func TestCancelledCallerDoesNotFailSharedAnalysis(t *testing.T) {
	e, srv, _ := newEngine(t)
	srv.SetAnalysis("healthy", nil)
	gate := srv.Block(backendtest.RouteAnalyze)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.RefreshAnalysis(first)
		firstErr <- err
	}()
	<-gate.Entered()

	second := make(chan string, 1)
	go func() {
		a, err := e.RefreshAnalysis(context.Background())
		assert.NoError(t, err)
		second <- a.Analysis
	}()
	time.Sleep(30 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	gate.Release()

	assert.Equal(t, "healthy", <-second)
	assert.Equal(t, 1, srv.Calls(backendtest.RouteAnalyze))
}

func TestAnalyzeRequiresSession(t *testing.T) {
	e, srv, cc := newEngine(t)
	cc.Clear()

	_, err := e.Analyze(context.Background())
	assert.True(t, errs.Is(err, errs.KindAuth))
	assert.Zero(t, srv.Calls(backendtest.RouteAnalyze))
}

func TestReset(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.PostMessage(context.Background(), types.ModeChat, "hello")
	require.NoError(t, err)

	e.Reset(types.ModeChat)
	assert.Empty(t, e.Thread(types.ModeChat))
	assert.Equal(t, map[types.Mode]int{types.ModeChat: 0, types.ModeActions: 0}, e.Lengths())
}
