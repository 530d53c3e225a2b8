// Package conversation manages the assistant threads: one per mode, each
// accepting a single outstanding request at a time.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/zcraft/internal/domain/command"
	"github.com/GriffinCanCode/zcraft/internal/domain/credentials"
	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/shared/utils"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

// Backend is the subset of the backend the engine calls.
type Backend interface {
	Generate(ctx context.Context, token, prompt string, mode types.Mode) (transport.Completion, error)
	Analyze(ctx context.Context, token string) (transport.Analysis, error)
}

// Session exposes the active session at call time.
type Session interface {
	Snapshot() (credentials.Session, bool)
	Token(op string) (string, error)
}

// Executor runs a command proposal.
type Executor interface {
	Execute(ctx context.Context, proposal types.CommandProposal, creds types.Credentials, token string) (command.Result, error)
}

// Options configures an Engine.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Events  *events.Broadcaster
}

// Message is one entry in a thread.
type Message struct {
	ID        string                  `json:"id"`
	Role      types.Role              `json:"role"`
	Content   string                  `json:"content"`
	Segments  []Segment               `json:"segments,omitempty"`
	Proposals []types.CommandProposal `json:"proposals,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	// Failed marks a synthetic message standing in for a failed request.
	Failed bool `json:"failed,omitempty"`
	// Degraded is set when proposals could not be fully decoded.
	Degraded  bool            `json:"degraded,omitempty"`
	Execution *command.Result `json:"execution,omitempty"`
}

type thread struct {
	messages []Message
	busy     bool
}

// Engine owns the chat and actions threads.
type Engine struct {
	backend  Backend
	session  Session
	executor Executor
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	events   *events.Broadcaster

	analyses singleflight.Group

	mu       sync.Mutex
	threads  map[types.Mode]*thread // Protected by mu
	analysis *transport.Analysis    // Protected by mu
	now      func() time.Time
}

// NewEngine creates an engine with empty threads.
func NewEngine(backend Backend, session Session, executor Executor, opts Options) *Engine {
	return &Engine{
		backend:  backend,
		session:  session,
		executor: executor,
		logger:   logging.OrNop(opts.Logger).Named("conversation"),
		metrics:  opts.Metrics,
		events:   opts.Events,
		threads: map[types.Mode]*thread{
			types.ModeChat:    {},
			types.ModeActions: {},
		},
		now: time.Now,
	}
}

// PostMessage appends the user's message to the mode's thread and waits
// for the reply. Request failures do not return an error: they become a
// failed assistant message in the thread. Errors are returned only when
// the message is not accepted (unknown mode, invalid prompt, busy thread).
func (e *Engine) PostMessage(ctx context.Context, mode types.Mode, text string) (Message, error) {
	const op = "postMessage"
	if !mode.Valid() {
		return Message{}, errs.E(errs.KindAssistant, op, "", errs.ErrUnknownMode)
	}
	if err := utils.ValidatePrompt(text); err != nil {
		return Message{}, errs.E(errs.KindAssistant, op, "", err)
	}

	e.mu.Lock()
	th := e.threads[mode]
	if th.busy {
		e.mu.Unlock()
		return Message{}, errs.E(errs.KindAssistant, op, "", errs.ErrThreadBusy)
	}
	th.busy = true
	th.messages = append(th.messages, e.message(types.RoleUser, text))
	e.mu.Unlock()
	e.publish(mode, "user")

	var token string
	if s, ok := e.session.Snapshot(); ok {
		token = s.Token
	}

	started := e.now()
	completion, err := e.backend.Generate(ctx, token, text, mode)
	reply := e.reply(mode, completion, err)
	e.logger.Debug("assistant replied", zap.String("mode", string(mode)),
		zap.Bool("failed", reply.Failed), zap.Int("proposals", len(reply.Proposals)),
		zap.Duration("duration", e.now().Sub(started)))

	e.mu.Lock()
	th.messages = append(th.messages, reply)
	th.busy = false
	e.mu.Unlock()
	e.publish(mode, "assistant")
	return reply, nil
}

func (e *Engine) reply(mode types.Mode, c transport.Completion, err error) Message {
	if err == nil && !c.HasText {
		err = errors.New("assistant returned no content")
	}
	if err != nil {
		detail := errs.DetailOf(err)
		e.metrics.RecordAssistantRequest(string(mode), "error")
		e.logger.Warn("assistant request failed", zap.String("mode", string(mode)), zap.Error(err))
		msg := e.message(types.RoleAssistant, "Error: "+detail)
		msg.Failed = true
		return msg
	}

	msg := e.message(types.RoleAssistant, c.Text)
	msg.Segments = ParseReply(c.Text)
	if mode == types.ModeActions {
		proposals, degradation := ExtractCommandProposals(c.Text, c.Commands)
		msg.Proposals = proposals
		if degradation != nil {
			msg.Degraded = true
			e.metrics.RecordParseDegradation()
			e.logger.Warn("command proposals degraded", zap.String("detail", errs.DetailOf(degradation)))
		}
	}
	e.metrics.RecordAssistantRequest(string(mode), "success")
	return msg
}

// ExecuteProposal runs a proposal with the credentials active at call
// time and appends the outcome to the actions thread. The executor's
// error is returned as well so callers can surface it.
func (e *Engine) ExecuteProposal(ctx context.Context, proposal types.CommandProposal) (Message, error) {
	var creds types.Credentials
	var token string
	if s, ok := e.session.Snapshot(); ok {
		creds, token = s.Credentials, s.Token
	}

	res, err := e.executor.Execute(ctx, proposal, creds, token)
	var msg Message
	if err != nil {
		msg = e.message(types.RoleAssistant, "Command failed: "+errs.DetailOf(err))
		msg.Failed = true
	} else {
		msg = e.message(types.RoleAssistant, res.Output)
		msg.Segments = []Segment{{Kind: SegmentCode, Payload: res.Output}}
	}
	if res.ID != "" {
		msg.Execution = &res
	}

	e.mu.Lock()
	th := e.threads[types.ModeActions]
	th.messages = append(th.messages, msg)
	e.mu.Unlock()
	e.publish(types.ModeActions, "execution")
	return msg, err
}

// Analyze returns the system analysis, fetching it on first use.
func (e *Engine) Analyze(ctx context.Context) (transport.Analysis, error) {
	e.mu.Lock()
	cached := e.analysis
	e.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return e.RefreshAnalysis(ctx)
}

// RefreshAnalysis fetches the system analysis and replaces the cached one.
// Concurrent refreshes share one request.
func (e *Engine) RefreshAnalysis(ctx context.Context) (transport.Analysis, error) {
	const op = "analyze"
	token, err := e.session.Token(op)
	if err != nil {
		return transport.Analysis{}, err
	}

	detached := context.WithoutCancel(ctx)
	ch := e.analyses.DoChan("analysis", func() (any, error) {
		return e.backend.Analyze(detached, token)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return transport.Analysis{}, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		e.metrics.RecordAssistantRequest("analyze", "error")
		return transport.Analysis{}, errs.E(errs.KindAssistant, op, "", err)
	}
	a := v.(transport.Analysis)

	e.mu.Lock()
	e.analysis = &a
	e.mu.Unlock()
	e.metrics.RecordAssistantRequest("analyze", "success")
	return a, nil
}

// Thread returns a copy of the mode's messages.
func (e *Engine) Thread(mode types.Mode) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	th, ok := e.threads[mode]
	if !ok {
		return nil
	}
	return append([]Message(nil), th.messages...)
}

// Busy reports whether the mode's thread is awaiting a reply.
func (e *Engine) Busy(mode types.Mode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	th, ok := e.threads[mode]
	return ok && th.busy
}

// Proposal returns the n-th proposal (zero-based) of the latest actions
// reply that carried any.
func (e *Engine) Proposal(n int) (types.CommandProposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := e.threads[types.ModeActions].messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs[i].Proposals) == 0 {
			continue
		}
		if n < 0 || n >= len(msgs[i].Proposals) {
			return types.CommandProposal{}, false
		}
		return msgs[i].Proposals[n], true
	}
	return types.CommandProposal{}, false
}

// Reset clears a thread. A pending reply still lands in the cleared thread.
func (e *Engine) Reset(mode types.Mode) {
	e.mu.Lock()
	if th, ok := e.threads[mode]; ok {
		th.messages = nil
	}
	e.mu.Unlock()
	e.publish(mode, "reset")
}

// Lengths returns the number of messages per mode.
func (e *Engine) Lengths() map[types.Mode]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Mode]int, len(e.threads))
	for mode, th := range e.threads {
		out[mode] = len(th.messages)
	}
	return out
}

func (e *Engine) message(role types.Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: e.now(),
	}
}

func (e *Engine) publish(mode types.Mode, detail string) {
	e.events.Publish(events.Event{Kind: events.ThreadUpdated, Mode: string(mode), Detail: detail})
}
