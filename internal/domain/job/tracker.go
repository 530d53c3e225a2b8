// Package job tracks submitted jobs, their status and their output
// streams. Status changes only when a poll result arrives.
package job

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
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

// UnknownJobName is used when neither the backend nor a job card names the job.
const UnknownJobName = "UNKNOWN"

// Backend is the subset of the backend the tracker calls.
type Backend interface {
	SubmitMember(ctx context.Context, auth transport.Auth, ref types.ResourceRef, content string) (transport.Submission, error)
	ListJobs(ctx context.Context, auth transport.Auth) ([]transport.JobSummary, error)
	JobOutput(ctx context.Context, auth transport.Auth, jobID string, stream types.OutputStream) (string, error)
}

// AuthSource yields the credentials of the active session at call time.
type AuthSource interface {
	Auth(op string) (transport.Auth, error)
}

// Options configures a Tracker.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Events  *events.Broadcaster
}

// Tracker owns the jobs submitted in this session.
type Tracker struct {
	backend Backend
	auth    AuthSource
	logger  *logging.Logger
	metrics *monitoring.Metrics
	events  *events.Broadcaster

	polls   *utils.KeyedQueue
	outputs singleflight.Group

	mu    sync.RWMutex
	jobs  map[string]*job // Protected by mu
	order []string        // submission order, protected by mu
}

type job struct {
	id           string
	name         string
	ref          types.ResourceRef
	submittedAt  time.Time
	status       types.JobStatus
	remoteStatus string
	updatedAt    time.Time
	outputs      map[types.OutputStream]string
}

// NewTracker creates an empty tracker.
func NewTracker(backend Backend, auth AuthSource, opts Options) *Tracker {
	return &Tracker{
		backend: backend,
		auth:    auth,
		logger:  logging.OrNop(opts.Logger).Named("job"),
		metrics: opts.Metrics,
		events:  opts.Events,
		polls:   utils.NewKeyedQueue(),
		jobs:    make(map[string]*job),
	}
}

// Submit submits content held for ref. Empty content is rejected without
// a network call. No job is tracked unless the backend accepts it.
func (t *Tracker) Submit(ctx context.Context, ref types.ResourceRef, content string) (Job, error) {
	const op = "job.Submit"

	if strings.TrimSpace(content) == "" {
		return Job{}, errs.E(errs.KindJobSubmission, op, "nothing to submit: content is empty", errs.ErrEmptyContent)
	}
	if !ref.Valid() {
		return Job{}, errs.E(errs.KindJobSubmission, op, errs.ErrInvalidRef.Error(), errs.ErrInvalidRef)
	}
	auth, err := t.auth.Auth(op)
	if err != nil {
		return Job{}, err
	}

	t.logger.Info("submitting", zap.Stringer("ref", ref))
	sub, err := t.backend.SubmitMember(ctx, auth, ref, content)
	if err == nil && sub.JobID == "" {
		err = errors.New("backend returned no job id")
	}
	if err != nil {
		t.metrics.RecordJobSubmission("error")
		t.logger.Warn("submission failed", zap.Stringer("ref", ref), zap.Error(err))
		return Job{}, errs.E(errs.KindJobSubmission, op, "", err)
	}

	name := sub.JobName
	if name == "" {
		name = DeriveJobName(content)
	}
	now := time.Now()
	j := &job{
		id:          sub.JobID,
		name:        name,
		ref:         ref,
		submittedAt: now,
		status:      types.JobQueued,
		updatedAt:   now,
		outputs:     make(map[types.OutputStream]string),
	}

	t.mu.Lock()
	if _, exists := t.jobs[j.id]; !exists {
		t.order = append(t.order, j.id)
	}
	t.jobs[j.id] = j
	snap := j.snapshot()
	t.mu.Unlock()

	t.metrics.RecordJobSubmission("submitted")
	t.logger.Info("job submitted", zap.String("job", j.id), zap.String("name", j.name))
	t.events.Publish(events.Event{Kind: events.JobSubmitted, JobID: j.id, Container: ref.Container, Member: ref.Member, Detail: j.name})
	return snap, nil
}

// RefreshStatus polls the host for a job's status. Polls for one job run
// one at a time; the status changes only on a received result.
func (t *Tracker) RefreshStatus(ctx context.Context, jobID string) (Job, error) {
	const op = "job.RefreshStatus"

	if _, ok := t.Get(jobID); !ok {
		return Job{}, errs.E(errs.KindJobNotFound, op, "unknown job "+jobID, nil)
	}
	auth, err := t.auth.Auth(op)
	if err != nil {
		return Job{}, err
	}

	release, err := t.polls.Acquire(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	defer release()

	remote, err := t.backend.ListJobs(ctx, auth)
	if err != nil {
		t.logger.Warn("status poll failed", zap.String("job", jobID), zap.Error(err))
		return Job{}, errs.E(errs.KindJobStatus, op, "status poll failed: "+errs.DetailOf(err), err)
	}

	for _, s := range remote {
		if s.JobID == jobID {
			snap, _ := t.apply(s)
			return snap, nil
		}
	}
	return Job{}, errs.E(errs.KindJobNotFound, op, "job "+jobID+" is no longer known to the host", nil)
}

// List returns the host's job list, updating tracked jobs along the way.
// Jobs not submitted in this session are returned but not tracked.
func (t *Tracker) List(ctx context.Context) ([]Job, error) {
	const op = "job.List"

	auth, err := t.auth.Auth(op)
	if err != nil {
		return nil, err
	}
	remote, err := t.backend.ListJobs(ctx, auth)
	if err != nil {
		return nil, errs.E(errs.KindJobStatus, op, "job list failed: "+errs.DetailOf(err), err)
	}

	out := make([]Job, 0, len(remote))
	for _, s := range remote {
		if snap, tracked := t.apply(s); tracked {
			out = append(out, snap)
			continue
		}
		status, _ := types.ParseJobStatus(s.Status)
		out = append(out, Job{ID: s.JobID, Name: s.JobName, Status: status, RemoteStatus: s.Status})
	}
	return out, nil
}

// apply records a received status for a tracked job.
func (t *Tracker) apply(s transport.JobSummary) (Job, bool) {
	t.mu.Lock()
	j, ok := t.jobs[s.JobID]
	if !ok {
		t.mu.Unlock()
		return Job{}, false
	}
	prev := j.status
	if status, known := types.ParseJobStatus(s.Status); known {
		j.status = status
	}
	j.remoteStatus = s.Status
	if j.name == UnknownJobName && s.JobName != "" {
		j.name = s.JobName
	}
	j.updatedAt = time.Now()
	snap := j.snapshot()
	t.mu.Unlock()

	if prev != snap.Status {
		t.logger.Debug("job status changed", zap.String("job", s.JobID),
			zap.String("from", string(prev)), zap.String("to", string(snap.Status)))
	}
	t.events.Publish(events.Event{Kind: events.JobUpdated, JobID: s.JobID, Detail: string(snap.Status)})
	return snap, true
}

// FetchOutput returns one output stream, fetching it on first use.
func (t *Tracker) FetchOutput(ctx context.Context, jobID string, stream types.OutputStream) (string, error) {
	return t.output(ctx, jobID, stream, false)
}

// RefreshOutput fetches an output stream even when cached.
func (t *Tracker) RefreshOutput(ctx context.Context, jobID string, stream types.OutputStream) (string, error) {
	return t.output(ctx, jobID, stream, true)
}

func (t *Tracker) output(ctx context.Context, jobID string, stream types.OutputStream, refresh bool) (string, error) {
	const op = "job.FetchOutput"

	if !stream.Valid() {
		return "", errs.E(errs.KindContentFetch, op, "unknown stream "+string(stream), errs.ErrUnknownStream)
	}

	t.mu.RLock()
	j, ok := t.jobs[jobID]
	var cached string
	var have bool
	if ok {
		cached, have = j.outputs[stream]
	}
	t.mu.RUnlock()

	if !ok {
		return "", errs.E(errs.KindJobNotFound, op, "unknown job "+jobID, nil)
	}
	if have && !refresh {
		return cached, nil
	}

	auth, err := t.auth.Auth(op)
	if err != nil {
		return "", err
	}

	v, err := t.share(ctx, jobID+"/"+string(stream), func(ctx context.Context) (any, error) {
		return t.backend.JobOutput(ctx, auth, jobID, stream)
	})
	if err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return "", errs.E(errs.KindJobNotFound, op, "", err)
		}
		return "", errs.E(errs.KindContentFetch, op, "", err)
	}
	text := v.(string)

	t.mu.Lock()
	j.outputs[stream] = text
	t.mu.Unlock()

	t.events.Publish(events.Event{Kind: events.JobOutput, JobID: jobID, Detail: string(stream)})
	return text, nil
}

// share runs fn once per key among concurrent callers. The shared fetch
// outlives any one caller's cancellation.
func (t *Tracker) share(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := t.outputs.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a tracked job.
func (t *Tracker) Get(jobID string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs returns tracked jobs in submission order.
func (t *Tracker) Jobs() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Job, 0, len(t.order))
	for _, jid := range t.order {
		out = append(out, t.jobs[jid].snapshot())
	}
	return out
}

// Clear forgets every job, as on logout.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = make(map[string]*job)
	t.order = nil
}

var jobCard = regexp.MustCompile(`(?m)^//([A-Z@#$][A-Z0-9@#$]{0,7})\s+JOB(\s|$)`)

// DeriveJobName reads the job name from the first JCL job card.
func DeriveJobName(content string) string {
	if m := jobCard.FindStringSubmatch(strings.ToUpper(content)); m != nil {
		return m[1]
	}
	return UnknownJobName
}
