package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// waitDelay bounds how long Wait keeps draining pipes after the interpreter
// exits or is killed, e.g. when a grandchild still holds stdout open.
const waitDelay = time.Second

// LocalSandbox runs the interpreter directly on the host inside a throwaway
// directory. It is not a security boundary: there is no network, memory, CPU or
// syscall isolation, only a fresh working directory and a wall-clock timeout.
type LocalSandbox struct {
	Policy   Policy
	logger   *zap.Logger
	observer Observer
}

// Option configures a LocalSandbox.
type Option func(*LocalSandbox)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *LocalSandbox) {
		s.logger = logger.With(zap.String("component", "sandbox"))
	}
}

// WithObserver registers lifecycle callbacks, typically a metrics collector.
func WithObserver(o Observer) Option {
	return func(s *LocalSandbox) { s.observer = o }
}

// NewLocalSandbox creates a sandbox with the given policy.
func NewLocalSandbox(policy Policy, opts ...Option) *LocalSandbox {
	s := &LocalSandbox{
		Policy:   policy,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes req and returns its captured output, or a classified *Error.
// The workspace is removed before Run returns, whatever the outcome.
func (s *LocalSandbox) Run(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	start := time.Now()

	res, err := s.run(ctx, id, req)
	elapsed := time.Since(start)
	if res != nil {
		res.ID = id
		res.Duration = elapsed
	}

	outcome := OutcomeOf(res, err)
	s.observer.ExecutionFinished(outcome, elapsed)

	fields := []zap.Field{
		zap.String("execution_id", id),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", elapsed),
		zap.Int("code_bytes", len(req.Code)),
	}
	if res != nil {
		fields = append(fields, zap.Int("exit_code", res.ExitCode))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Debug("execution finished", fields...)

	return res, err
}

func (s *LocalSandbox) run(ctx context.Context, id string, req Request) (res *Result, err error) {
	ws, err := acquireWorkspace(s.Policy.WorkDir, id, s.Policy.ScriptName)
	if err != nil {
		return nil, internalError("provisioning workspace", err)
	}
	s.observer.WorkspaceAcquired()
	// A workspace that cannot be removed fails the run, even after a clean exit.
	defer func() {
		if relErr := ws.Release(); relErr != nil {
			s.logger.Error("removing workspace", zap.String("dir", ws.Dir), zap.Error(relErr))
			if err == nil {
				res, err = nil, internalError("removing workspace", relErr)
			}
		}
		s.observer.WorkspaceReleased()
	}()

	if err := ws.WriteScript(req.Program()); err != nil {
		return nil, internalError("provisioning workspace", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Policy.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.Policy.Interpreter, ws.ScriptPath)
	cmd.Dir = ws.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Runs before the workspace release above: anything the script left
	// running in its process group must not keep writing into the directory.
	defer killProcessGroup(cmd)

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, &Error{
				Kind: KindTimeout,
				Msg:  fmt.Sprintf("execution exceeded %s", s.Policy.Timeout),
				Err:  runCtx.Err(),
			}
		case runCtx.Err() != nil:
			return nil, internalError("running interpreter", runCtx.Err())
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
			// The interpreter exited cleanly but left a child holding its pipes.
			exitCode = cmd.ProcessState.ExitCode()
		default:
			return nil, internalError("running interpreter", err)
		}
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
	if exitCode != 0 {
		result.Error = result.Stderr
	}
	return result, nil
}
