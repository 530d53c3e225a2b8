// Package workspace wires one session's components around a single
// credential context and backend client.
package workspace

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/domain/buffer"
	"github.com/GriffinCanCode/zcraft/internal/domain/command"
	"github.com/GriffinCanCode/zcraft/internal/domain/conversation"
	"github.com/GriffinCanCode/zcraft/internal/domain/credentials"
	"github.com/GriffinCanCode/zcraft/internal/domain/job"
	"github.com/GriffinCanCode/zcraft/internal/domain/resource"
	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/config"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
	"github.com/GriffinCanCode/zcraft/internal/transport/terminal"
)

// Workspace is one user session.
type Workspace struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	events  *events.Broadcaster
	backend *transport.Backend

	session   *credentials.Context
	auth      *credentials.Authenticator
	resources *resource.Cache
	buffers   *buffer.Manager
	jobs      *job.Tracker
	assistant *conversation.Engine
	commands  *command.Executor
	status    *monitoring.StatusServer
}

// New builds a workspace from cfg. A nil logger discards logs.
func New(cfg *config.Config, logger *logging.Logger) *Workspace {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrNop(logger)

	logger.Info("Initializing workspace",
		zap.String("backend", cfg.Backend.URL),
		zap.Duration("save_status_window", cfg.Workspace.SaveStatusWindow),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("workspace", logger.Named("trace").Logger)
	bus := events.NewBroadcaster(256)

	opts := transport.OptionsFromConfig(cfg.Backend)
	opts.Logger = logger
	opts.Metrics = metrics
	backend := transport.New(opts)

	session := credentials.NewContext(bus)
	commands := command.NewExecutor(backend, command.Options{Logger: logger, Metrics: metrics})
	resources := resource.New(backend, session, resource.Options{Logger: logger, Metrics: metrics, Events: bus})

	w := &Workspace{
		config:    cfg,
		logger:    logger.Named("workspace"),
		metrics:   metrics,
		tracer:    tracer,
		events:    bus,
		backend:   backend,
		session:   session,
		auth:      credentials.NewAuthenticator(backend, session, logger),
		resources: resources,
		buffers: buffer.NewManager(resources, buffer.Options{
			StatusWindow: cfg.Workspace.SaveStatusWindow,
			Logger:       logger,
			Metrics:      metrics,
			Events:       bus,
		}),
		jobs:      job.NewTracker(backend, session, job.Options{Logger: logger, Metrics: metrics, Events: bus}),
		assistant: conversation.NewEngine(backend, session, commands, conversation.Options{Logger: logger, Metrics: metrics, Events: bus}),
		commands:  commands,
	}

	if cfg.Status.Addr != "" {
		w.status = monitoring.NewStatusServer(cfg.Status.Addr, metrics, w, logger, tracing.HTTPMiddleware(tracer))
	}
	return w
}

// Start starts the status server when one is configured.
func (w *Workspace) Start() {
	if w.status != nil {
		w.status.Start()
	}
}

// Close stops the status server and flushes pending spans.
func (w *Workspace) Close(ctx context.Context) error {
	var err error
	if w.status != nil {
		err = w.status.Shutdown(ctx)
	}
	w.tracer.Close()
	return err
}

// Session returns the credential context.
func (w *Workspace) Session() *credentials.Context { return w.session }

// Resources returns the resource cache.
func (w *Workspace) Resources() *resource.Cache { return w.resources }

// Buffers returns the buffer manager.
func (w *Workspace) Buffers() *buffer.Manager { return w.buffers }

// Jobs returns the job tracker.
func (w *Workspace) Jobs() *job.Tracker { return w.jobs }

// Assistant returns the conversation engine.
func (w *Workspace) Assistant() *conversation.Engine { return w.assistant }

// Metrics returns the workspace metrics.
func (w *Workspace) Metrics() *monitoring.Metrics { return w.metrics }

// Subscribe returns a channel receiving every component's notifications.
// Callers must Unsubscribe.
func (w *Workspace) Subscribe() <-chan events.Event { return w.events.Subscribe() }

// Unsubscribe releases a subscription.
func (w *Workspace) Unsubscribe(ch <-chan events.Event) { w.events.Unsubscribe(ch) }

// Trace runs fn as a named operation. The trace ID travels with every
// backend call fn makes.
func (w *Workspace) Trace(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return w.tracer.Trace(ctx, name, fn)
}

// Login authenticates and activates the session.
func (w *Workspace) Login(ctx context.Context, creds types.Credentials) (credentials.Session, error) {
	var s credentials.Session
	err := w.Trace(ctx, "login", func(ctx context.Context) error {
		var err error
		s, err = w.auth.Login(ctx, creds)
		return err
	})
	return s, err
}

// Logout ends the session. Open buffers with unsaved changes block the
// logout unless force is set; otherwise every buffer is discarded and
// cached content, jobs and threads are dropped.
func (w *Workspace) Logout(force bool) error {
	open := w.buffers.List()
	if !force {
		for _, b := range open {
			if b.Dirty {
				return fmt.Errorf("logout: %s: %w", b.Ref, errs.ErrBufferDirty)
			}
		}
	}
	for _, b := range open {
		_ = w.buffers.Discard(b.ID)
	}

	w.auth.Logout()
	w.resources.Clear()
	w.jobs.Clear()
	w.assistant.Reset(types.ModeChat)
	w.assistant.Reset(types.ModeActions)
	w.logger.Info("session ended", zap.Int("buffers_discarded", len(open)))
	return nil
}

// SubmitActive submits the active buffer's current content.
func (w *Workspace) SubmitActive(ctx context.Context) (job.Job, error) {
	b, ok := w.buffers.Active()
	if !ok {
		return job.Job{}, errs.E(errs.KindJobSubmission, "submit", "no active buffer", errs.ErrBufferNotFound)
	}
	var j job.Job
	err := w.Trace(ctx, "submit", func(ctx context.Context) error {
		var err error
		j, err = w.jobs.Submit(ctx, b.Ref, b.Content)
		return err
	})
	return j, err
}

// OpenTerminal dials the interactive shell with the session's token.
func (w *Workspace) OpenTerminal(ctx context.Context) (*terminal.Channel, error) {
	token, err := w.session.Token("terminal")
	if err != nil {
		return nil, err
	}
	return terminal.Dial(ctx, w.config.Backend.TerminalURL, terminal.Options{
		Token:   token,
		Logger:  w.logger,
		Metrics: w.metrics,
		Events:  w.events,
	})
}

// WaitJob polls a job until it finishes, ctx ends or a poll fails.
func (w *Workspace) WaitJob(ctx context.Context, jobID string, interval time.Duration) (job.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j, err := w.jobs.RefreshStatus(ctx, jobID)
		if err != nil || j.Terminal() {
			return j, err
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}
