package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/backendtest"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

var testCreds = types.Credentials{Host: "h", Port: "1", Username: "u", Password: "p"}

func newTestBackend(t *testing.T) (*Backend, *backendtest.Server, Auth) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	b := New(Options{
		BaseURL:      srv.URL,
		Timeout:      5 * time.Second,
		Retries:      2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})
	token, err := srv.Token(testCreds)
	require.NoError(t, err)
	return b, srv, Auth{Token: token, Credentials: testCreds}
}

func TestLogin(t *testing.T) {
	b, srv, _ := newTestBackend(t)
	srv.AddUser("u", "p")

	t.Run("success", func(t *testing.T) {
		token, err := b.Login(context.Background(), testCreds)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("rejected", func(t *testing.T) {
		bad := testCreds
		bad.Password = "wrong"
		_, err := b.Login(context.Background(), bad)
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "Invalid mainframe credentials", apiErr.Detail)
	})
}

func TestDatasetsAndMembers(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	srv.AddDataset(types.Container{Name: "USER.JCL", Dsorg: "PO"}, map[string]string{"HELLO": "//HELLO JOB\n"})
	ctx := context.Background()

	datasets, err := b.ListDatasets(ctx, auth)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "USER.JCL", datasets[0].Name)
	assert.Equal(t, testCreds, srv.LastCredentials())
	assert.Equal(t, auth.Token, srv.LastToken())

	members, err := b.ListMembers(ctx, auth, "USER.JCL")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "HELLO", members[0].Name)

	ref := types.ResourceRef{Container: "USER.JCL", Member: "HELLO"}
	content, err := b.ReadMember(ctx, auth, ref)
	require.NoError(t, err)
	require.NotNil(t, content.Content)
	assert.Equal(t, "//HELLO JOB\n", *content.Content)

	require.NoError(t, b.WriteMember(ctx, auth, ref, "updated"))
	stored, _ := srv.Content(ref)
	assert.Equal(t, "updated", stored)
}

func TestMissingTokenIsRejected(t *testing.T) {
	b, _, auth := newTestBackend(t)
	auth.Token = ""

	_, err := b.ListDatasets(context.Background(), auth)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsUnauthorized())
	assert.Equal(t, "Not authenticated", apiErr.DetailMessage())
}

func TestIdempotentCallsRetry(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	srv.Fail(backendtest.RouteDatasets, http.StatusServiceUnavailable, "host busy")

	_, err := b.ListDatasets(context.Background(), auth)
	require.Error(t, err)
	assert.Equal(t, 3, srv.Calls(backendtest.RouteDatasets))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "host busy", apiErr.Detail)
}

func TestSubmissionIsNotRetried(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	srv.AddDataset(types.Container{Name: "USER.JCL"}, map[string]string{"RUN": "//RUN JOB\n"})
	srv.Fail(backendtest.RouteSubmit, http.StatusInternalServerError, "Error executing member")

	_, err := b.SubmitMember(context.Background(), auth, types.ResourceRef{Container: "USER.JCL", Member: "RUN"}, "")
	require.Error(t, err)
	assert.Equal(t, 1, srv.Calls(backendtest.RouteSubmit))
}

func TestJobs(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	srv.AddDataset(types.Container{Name: "USER.JCL"}, map[string]string{"RUN": "//NIGHTLY JOB (ACCT)\n"})
	ctx := context.Background()

	sub, err := b.SubmitMember(ctx, auth, types.ResourceRef{Container: "USER.JCL", Member: "RUN"}, "")
	require.NoError(t, err)
	assert.Equal(t, "JOB00001", sub.JobID)
	assert.Equal(t, "NIGHTLY", sub.JobName)

	srv.SetJobStatus(sub.JobID, "OUTPUT")
	srv.SetJobOutput(sub.JobID, "JOBLOG", "IEF142I NIGHTLY - STEP WAS EXECUTED")

	jobs, err := b.ListJobs(ctx, auth)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "OUTPUT", jobs[0].Status)

	out, err := b.JobOutput(ctx, auth, sub.JobID, types.StreamJobLog)
	require.NoError(t, err)
	assert.Contains(t, out, "IEF142I")

	_, err = b.JobOutput(ctx, auth, "JOB99999", types.StreamJobLog)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestGenerate(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	ctx := context.Background()

	t.Run("content key", func(t *testing.T) {
		c, err := b.Generate(ctx, auth.Token, "hello", types.ModeChat)
		require.NoError(t, err)
		assert.True(t, c.HasText)
		assert.Equal(t, "You said: hello", c.Text)
		assert.Empty(t, c.Commands)
	})

	t.Run("response key with commands", func(t *testing.T) {
		srv.SetReply(types.ModeActions, backendtest.Reply{
			Content:        "Listing",
			UseResponseKey: true,
			Commands:       []types.CommandProposal{{Command: "D A,L", Description: "List active"}},
		})
		c, err := b.Generate(ctx, auth.Token, "what runs", types.ModeActions)
		require.NoError(t, err)
		assert.Equal(t, "Listing", c.Text)
		assert.Contains(t, string(c.Commands), "D A,L")
	})
}

func TestExecuteCommandAndAnalyze(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	ctx := context.Background()
	srv.SetCommand("BAD", backendtest.CommandResult{Status: http.StatusBadRequest, Detail: "Command rejected: BAD"})

	out, err := b.ExecuteCommand(ctx, auth, "D T")
	require.NoError(t, err)
	assert.Equal(t, "executed: D T", out)

	_, err = b.ExecuteCommand(ctx, auth, "BAD")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Command rejected: BAD", apiErr.Detail)

	analysis, err := b.Analyze(ctx, auth.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, analysis.Analysis)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	b, srv, auth := newTestBackend(t)
	for i := 0; i < 10; i++ {
		_, err := b.ListMembers(context.Background(), auth, "MISSING.DS")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateClosed, b.BreakerState())
	assert.Equal(t, 10, srv.Calls(backendtest.RouteMembers))
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"string detail", 404, `{"detail":"Member not found"}`, "Member not found"},
		{"validation list", 422, `{"detail":[{"msg":"field required"},{"msg":"bad port"}]}`, "field required; bad port"},
		{"plain body", 502, `bad gateway`, "bad gateway"},
		{"empty body", 503, ``, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeError("members.read", tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, err.Detail)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}
