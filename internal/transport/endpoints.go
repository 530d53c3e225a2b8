package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Auth is what an authenticated call carries: the bearer token proves the
// web session and the credentials authorize the host-side operation.
type Auth struct {
	Token       string
	Credentials types.Credentials
}

// MemberContent is a member read result. Content is nil when the backend
// answered without a content field.
type MemberContent struct {
	Content *string `json:"content"`
}

// Submission is the backend's acknowledgement of a job submission.
type Submission struct {
	JobID   string `json:"jobId"`
	JobName string `json:"jobName"`
}

// JobSummary is one entry of the job listing.
type JobSummary struct {
	JobID   string
	JobName string
	Status  string
	Owner   string
}

// Completion is an assistant reply. Commands is kept raw so a malformed
// list does not fail the whole reply.
type Completion struct {
	Text     string
	HasText  bool
	Commands json.RawMessage
}

// Analysis is the system analysis report.
type Analysis struct {
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
}

// ErrNoToken is returned when login succeeds without an access token.
var ErrNoToken = errors.New("login response carried no access token")

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for a bearer token.
func (b *Backend) Login(ctx context.Context, creds types.Credentials) (string, error) {
	var resp loginResponse
	err := b.do(ctx, "", call{
		endpoint: "auth.login",
		method:   http.MethodPost,
		path:     "/auth/login",
		body:     creds,
		result:   &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", ErrNoToken
	}
	return resp.AccessToken, nil
}

// ListDatasets returns the containers visible to the credentials.
func (b *Backend) ListDatasets(ctx context.Context, auth Auth) ([]types.Container, error) {
	var resp struct {
		Datasets []types.Container `json:"datasets"`
	}
	err := b.do(ctx, auth.Token, call{
		endpoint: "datasets.list",
		method:   http.MethodPost,
		path:     "/api/datasets/",
		body:     auth.Credentials,
		result:   &resp,
		retry:    true,
	})
	return resp.Datasets, err
}

// ListMembers returns the members of a container.
func (b *Backend) ListMembers(ctx context.Context, auth Auth, container string) ([]types.MemberInfo, error) {
	var resp struct {
		Members []types.MemberInfo `json:"members"`
	}
	err := b.do(ctx, auth.Token, call{
		endpoint: "members.list",
		method:   http.MethodPost,
		path:     "/api/datasets/{name}/members",
		params:   map[string]string{"name": container},
		body:     auth.Credentials,
		result:   &resp,
		retry:    true,
	})
	return resp.Members, err
}

// ReadMember fetches member content.
func (b *Backend) ReadMember(ctx context.Context, auth Auth, ref types.ResourceRef) (MemberContent, error) {
	var resp MemberContent
	err := b.do(ctx, auth.Token, call{
		endpoint: "members.read",
		method:   http.MethodPost,
		path:     "/api/datasets/{name}/members/{member}",
		params:   memberParams(ref),
		body:     auth.Credentials,
		result:   &resp,
		retry:    true,
	})
	return resp, err
}

type writeRequest struct {
	Content     string            `json:"content"`
	Credentials types.Credentials `json:"credentials"`
}

// WriteMember replaces member content. PUT is idempotent and retried.
func (b *Backend) WriteMember(ctx context.Context, auth Auth, ref types.ResourceRef, content string) error {
	return b.do(ctx, auth.Token, call{
		endpoint: "members.write",
		method:   http.MethodPut,
		path:     "/api/datasets/{name}/members/{member}",
		params:   memberParams(ref),
		body:     writeRequest{Content: content, Credentials: auth.Credentials},
		retry:    true,
	})
}

type submitRequest struct {
	types.Credentials
	Content string `json:"content,omitempty"`
}

// SubmitMember submits a member for execution. Content, when given, is
// the text the caller holds for that member.
func (b *Backend) SubmitMember(ctx context.Context, auth Auth, ref types.ResourceRef, content string) (Submission, error) {
	var resp Submission
	err := b.do(ctx, auth.Token, call{
		endpoint: "members.execute",
		method:   http.MethodPost,
		path:     "/api/datasets/{name}/members/{member}/execute",
		params:   memberParams(ref),
		body:     submitRequest{Credentials: auth.Credentials, Content: content},
		result:   &resp,
	})
	return resp, err
}

type jobWire struct {
	JobID      string `json:"jobId"`
	LegacyID   string `json:"job_id"`
	JobName    string `json:"jobName"`
	LegacyName string `json:"job_name"`
	Status     string `json:"status"`
	Owner      string `json:"owner"`
}

// ListJobs returns the jobs known to the host.
func (b *Backend) ListJobs(ctx context.Context, auth Auth) ([]JobSummary, error) {
	var resp struct {
		Jobs []jobWire `json:"jobs"`
	}
	err := b.do(ctx, auth.Token, call{
		endpoint: "jobs.list",
		method:   http.MethodPost,
		path:     "/api/jobs/",
		body:     auth.Credentials,
		result:   &resp,
		retry:    true,
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]JobSummary, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		s := JobSummary{JobID: j.JobID, JobName: j.JobName, Status: j.Status, Owner: j.Owner}
		if s.JobID == "" {
			s.JobID = j.LegacyID
		}
		if s.JobName == "" {
			s.JobName = j.LegacyName
		}
		jobs = append(jobs, s)
	}
	return jobs, nil
}

type outputRequest struct {
	types.Credentials
	Stream types.OutputStream `json:"stream"`
}

// JobOutput fetches one output stream of a job.
func (b *Backend) JobOutput(ctx context.Context, auth Auth, jobID string, stream types.OutputStream) (string, error) {
	var resp struct {
		Output string `json:"output"`
	}
	err := b.do(ctx, auth.Token, call{
		endpoint: "jobs.output",
		method:   http.MethodPost,
		path:     "/api/jobs/{id}/output",
		params:   map[string]string{"id": jobID},
		body:     outputRequest{Credentials: auth.Credentials, Stream: stream},
		result:   &resp,
		retry:    true,
	})
	return resp.Output, err
}

type generateRequest struct {
	Prompt string     `json:"prompt"`
	Mode   types.Mode `json:"mode"`
}

type generateResponse struct {
	Content  *string         `json:"content"`
	Response *string         `json:"response"`
	Commands json.RawMessage `json:"commands"`
}

// Generate asks the assistant for a reply.
func (b *Backend) Generate(ctx context.Context, token, prompt string, mode types.Mode) (Completion, error) {
	var resp generateResponse
	err := b.do(ctx, token, call{
		endpoint: "ai.generate",
		method:   http.MethodPost,
		path:     "/api/ai/generate",
		body:     generateRequest{Prompt: prompt, Mode: mode},
		result:   &resp,
	})
	if err != nil {
		return Completion{}, err
	}

	c := Completion{Commands: resp.Commands}
	switch {
	case resp.Content != nil:
		c.Text, c.HasText = *resp.Content, true
	case resp.Response != nil:
		c.Text, c.HasText = *resp.Response, true
	}
	return c, nil
}

type commandRequest struct {
	Command     string            `json:"command"`
	Credentials types.Credentials `json:"credentials"`
}

// ExecuteCommand runs an operator command on the host.
func (b *Backend) ExecuteCommand(ctx context.Context, auth Auth, command string) (string, error) {
	var resp struct {
		Output string `json:"output"`
	}
	err := b.do(ctx, auth.Token, call{
		endpoint: "ai.execute",
		method:   http.MethodPost,
		path:     "/api/ai/execute",
		body:     commandRequest{Command: command, Credentials: auth.Credentials},
		result:   &resp,
	})
	return resp.Output, err
}

// Analyze fetches the system analysis report.
func (b *Backend) Analyze(ctx context.Context, token string) (Analysis, error) {
	var resp Analysis
	err := b.do(ctx, token, call{
		endpoint: "ai.analyze",
		method:   http.MethodGet,
		path:     "/api/ai/analyze",
		result:   &resp,
		retry:    true,
	})
	return resp, err
}

func memberParams(ref types.ResourceRef) map[string]string {
	return map[string]string{"name": ref.Container, "member": ref.Member}
}
