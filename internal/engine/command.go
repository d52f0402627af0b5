package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// UnitTOF is the unit GSAS files are exported in.
const UnitTOF = "TOF"

// Command runs the engine as an external executable. Each call is
// "<path> <verb>" with a JSON request on stdin and a JSON reply on stdout.
// Stderr of a failed call becomes the error message unchanged.
type Command struct {
	path    string
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewCommand creates a Command from the engine configuration.
func NewCommand(cfg config.EngineConfig) *Command {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	rc := resilience.FromEngineConfig(cfg)
	rc.OnRetry = resilience.RetryLogger("engine", cfg.Path)
	return &Command{path: cfg.Path, timeout: timeout, retry: rc}
}

// Probe implements Engine.
func (c *Command) Probe(ctx context.Context, eventFile string) (*RunInfo, error) {
	var info RunInfo
	if err := c.call(ctx, "probe", map[string]string{"event_file": eventFile}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Reduce implements Engine.
func (c *Command) Reduce(ctx context.Context, req Request) (*Focused, error) {
	var out Focused
	if err := c.call(ctx, "reduce", req, &out); err != nil {
		return nil, err
	}
	if out.Handle == "" {
		return nil, fault.New(fault.KindEngine, "engine: reduce", "engine returned no workspace handle")
	}
	return &out, nil
}

// ExportGSAS implements Engine.
func (c *Command) ExportGSAS(ctx context.Context, req ExportRequest) error {
	if req.Unit == "" {
		req.Unit = UnitTOF
	}
	return c.call(ctx, "export-gsas", req, nil)
}

func (c *Command) call(ctx context.Context, verb string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fault.Wrap(fault.KindEngine, "engine: "+verb, eris.Wrap(err, "encode request"))
	}

	stdout, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.run(ctx, verb, payload)
	})
	if err != nil {
		return fault.Wrap(fault.KindEngine, "engine: "+verb, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return fault.Wrap(fault.KindEngine, "engine: "+verb, eris.Wrap(err, "decode reply"))
	}
	return nil
}

func (c *Command) run(ctx context.Context, verb string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.path, verb)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	zap.L().Debug("engine: call finished",
		zap.String("verb", verb),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, eris.Errorf("%s timed out after %s", verb, c.timeout)
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the engine was killed by a signal.
		if code := exitErr.ExitCode(); code < 0 || resilience.IsTransientExitCode(code) {
			return nil, resilience.NewTransientError(eris.New(msg), code)
		}
	}
	return nil, eris.New(msg)
}
