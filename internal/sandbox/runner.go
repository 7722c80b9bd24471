package sandbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"prologd-judge/internal/config"
	"prologd-judge/internal/monitor"
	"prologd-judge/internal/runtime"
)

// waitDelay bounds how long Wait keeps reading pipes held open by
// grandchildren after the interpreter itself is gone.
const waitDelay = config.ProcessWaitDelay

// sandboxEnv is the complete environment of the interpreter process.
var sandboxEnv = []string{
	"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	"HOME=/tmp",
	"LANG=C.UTF-8",
	"SANDBOX=true",
}

// Identity is the unprivileged account a run is switched to.
type Identity struct {
	UID uint32
	GID uint32
}

// Outcome is the normalized result of one run. Empty Output or Error means
// the stream produced nothing.
type Outcome struct {
	ID       string        `json:"id"`
	Output   string        `json:"output"`
	Error    string        `json:"error"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
	CodeHash string        `json:"code_hash"`
}

// Status classifies the outcome for metrics and the audit log.
func (o *Outcome) Status() string {
	switch {
	case o.TimedOut:
		return "timeout"
	case o.Error != "":
		return "failed"
	default:
		return "success"
	}
}

// Options configures a Runner. Everything here is fixed at startup.
type Options struct {
	Runtime        runtime.Runtime
	WorkDir        string
	Timeout        time.Duration
	Identity       *Identity // nil keeps the server's own identity
	MaxConcurrent  int
	MaxOutputBytes int
}

// Runner executes programs through the interpreter as short-lived child
// processes, one process per call.
type Runner struct {
	rt        runtime.Runtime
	workDir   string
	timeout   time.Duration
	identity  *Identity
	maxOutput int

	sem    *semaphore.Weighted
	tracer *monitor.Tracer
	active atomic.Int64
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner creates a runner from explicit options.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("runner requires a runtime")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("runner timeout must be positive, got %s", opts.Timeout)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxOutputBytes < 1 {
		opts.MaxOutputBytes = 1 << 20
	}

	return &Runner{
		rt:        opts.Runtime,
		workDir:   opts.WorkDir,
		timeout:   opts.Timeout,
		identity:  opts.Identity,
		maxOutput: opts.MaxOutputBytes,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		tracer:    monitor.NewTracer(),
	}, nil
}

// NewRunnerFromConfig builds the prologd runner described by cfg.
func NewRunnerFromConfig(cfg *config.Config) (*Runner, error) {
	sb := cfg.Sandbox
	opts := Options{
		Runtime:        runtime.NewPrologd(sb.Interpreter, sb.ImportDir, sb.MaxCodeBytes),
		WorkDir:        sb.WorkDir,
		Timeout:        sb.Timeout,
		MaxConcurrent:  sb.MaxConcurrent,
		MaxOutputBytes: sb.MaxOutputBytes,
	}
	if sb.DropPrivileges {
		opts.Identity = &Identity{UID: uint32(sb.UID), GID: uint32(sb.GID)} // #nosec G115 -- validated positive in config
	} else {
		log.Warn().Msg("sandbox.drop_privileges is false, interpreter runs with the server's own identity")
	}
	return NewRunner(opts)
}

// Run encodes (code, input), feeds it to a fresh interpreter process and
// returns the normalized outcome.
//
// A timeout is an outcome, not an error: Error holds TimeLimitMessage and
// Output is empty. A returned error always means the run could not happen
// and wraps either ErrInvalidRequest or ErrInfrastructure.
//
// Waiting for a free slot honours ctx. Once started, the child is detached
// from ctx and always runs to completion or to its own timeout.
func (r *Runner) Run(ctx context.Context, code, input string) (*Outcome, error) {
	execID := uuid.New().String()
	codeHash := HashCode(code)

	logger := log.With().
		Str("exec_id", execID).
		Str("runtime", r.rt.Name()).
		Str("code_hash", codeHash[:16]).
		Logger()

	if err := r.rt.Validate(code); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: %w", ErrInvalidRequest, err)}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, infraError(execID, "run", errors.New("runner is closed"))
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	ctx, span := r.tracer.StartSpan(ctx, "sandbox.run",
		monitor.AttrExecID.String(execID),
		monitor.AttrCodeHash.String(codeHash[:16]),
		monitor.AttrRuntime.String(r.rt.Name()),
	)
	defer span.End()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, "acquire_slot")
		return nil, infraError(execID, "acquire_slot", err)
	}
	defer r.sem.Release(1)

	r.active.Add(1)
	defer r.active.Add(-1)

	outcome, err := r.execute(context.WithoutCancel(ctx), execID, Encode(code, input), logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "infrastructure")
		logger.Error().Err(err).Msg("sandboxed run failed")
		return nil, err
	}

	outcome.CodeHash = codeHash
	span.SetAttributes(
		monitor.AttrExitCode.Int(outcome.ExitCode),
		monitor.AttrDurationMS.Int64(outcome.Duration.Milliseconds()),
		monitor.AttrStatus.String(outcome.Status()),
	)
	return outcome, nil
}

// HashCode returns the hex SHA-256 of a program text.
func HashCode(code string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
}

func (r *Runner) execute(ctx context.Context, execID, stream string, logger zerolog.Logger) (*Outcome, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	path, args := r.rt.Command()
	cmd := exec.CommandContext(execCtx, path, args...) // #nosec G204 -- path and args come from startup config
	cmd.Dir = r.workDir
	cmd.Env = sandboxEnv
	if err := configureProcess(cmd, r.identity); err != nil {
		return nil, infraError(execID, "configure_process", err)
	}

	// execCtx is detached from the request, so it can only end by deadline.
	var timedOut atomic.Bool
	cmd.Cancel = func() error {
		timedOut.Store(true)
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay

	stdout := newCappedBuffer(r.maxOutput)
	stderr := newCappedBuffer(r.maxOutput)
	cmd.Stdin = strings.NewReader(stream)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug().Str("interpreter", path).Int("stream_bytes", len(stream)).Msg("starting interpreter")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	// Reap anything the interpreter left behind in its group.
	if cmd.Process != nil {
		if kerr := killProcessGroup(cmd.Process.Pid); kerr != nil {
			logger.Warn().Err(kerr).Msg("process group kill failed")
		}
	}

	if timedOut.Load() {
		logger.Warn().Dur("timeout", r.timeout).Msg("execution timed out, process group killed")
		return &Outcome{
			ID:       execID,
			Error:    TimeLimitMessage,
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
		}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			logger.Warn().Msg("interpreter left its output pipes open, output may be incomplete")
		case cmd.Process == nil:
			return nil, infraError(execID, "start", err)
		default:
			return nil, infraError(execID, "wait", err)
		}
	}

	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("execution completed")

	return &Outcome{
		ID:       execID,
		Output:   Normalize(stdout.String()),
		Error:    Normalize(stderr.String()),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// Timeout returns the configured per-run wall-clock bound.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// ActiveCount returns the number of currently running children.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Interpreter returns the absolute path of the interpreter binary.
func (r *Runner) Interpreter() (string, error) {
	return r.rt.Resolve()
}

// Healthy reports whether the interpreter binary can be located.
func (r *Runner) Healthy() bool {
	_, err := r.rt.Resolve()
	return err == nil
}

// Close stops accepting runs and waits for in-flight ones, or for ctx.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d active runs: %w", r.active.Load(), ctx.Err())
	}
}
