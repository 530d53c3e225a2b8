// Package command runs operator commands proposed by the assistant.
package command

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/id"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/shared/utils"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

const op = "executeCommand"

// Backend is the subset of the backend the executor calls.
type Backend interface {
	ExecuteCommand(ctx context.Context, auth transport.Auth, command string) (string, error)
}

// Options configures an Executor.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Result is the outcome of one execution. Credentials are redacted.
type Result struct {
	ID          id.ExecutionID    `json:"id"`
	Command     string            `json:"command"`
	Credentials types.Credentials `json:"credentials"`
	Output      string            `json:"output"`
	StartedAt   time.Time         `json:"startedAt"`
	Duration    time.Duration     `json:"duration"`
}

// Executor sends proposals to the backend for execution.
type Executor struct {
	backend Backend
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewExecutor creates an executor.
func NewExecutor(backend Backend, opts Options) *Executor {
	return &Executor{
		backend: backend,
		logger:  logging.OrNop(opts.Logger).Named("command"),
		metrics: opts.Metrics,
	}
}

// Execute runs the proposal with the given credentials. It fails before
// any network call when a credential field is absent or the command is
// not a single non-empty line.
func (e *Executor) Execute(ctx context.Context, proposal types.CommandProposal, creds types.Credentials, token string) (Result, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		e.metrics.RecordCommandExecution("missing_credentials")
		return Result{}, errs.E(errs.KindMissingCredentials, op, "missing "+strings.Join(missing, ", "), nil)
	}

	command := strings.TrimSpace(proposal.Command)
	if err := utils.ValidateCommand(command); err != nil {
		e.metrics.RecordCommandExecution("invalid")
		return Result{}, errs.E(errs.KindCommandExecution, op, "", err)
	}

	res := Result{
		ID:          id.NewExecutionID(),
		Command:     command,
		Credentials: creds.Redacted(),
		StartedAt:   time.Now(),
	}
	e.logger.Info("executing command", zap.String("id", res.ID.String()),
		zap.String("command", command), zap.String("host", creds.Host))

	output, err := e.backend.ExecuteCommand(ctx, transport.Auth{Token: token, Credentials: creds}, command)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		e.metrics.RecordCommandExecution("error")
		e.logger.Warn("command failed", zap.String("id", res.ID.String()), zap.Error(err))
		return res, errs.E(errs.KindCommandExecution, op, "", err)
	}

	res.Output = output
	e.metrics.RecordCommandExecution("success")
	e.logger.Debug("command executed", zap.String("id", res.ID.String()), zap.Duration("duration", res.Duration))
	return res, nil
}
