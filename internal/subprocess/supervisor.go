// Package subprocess runs the pre-existing external media-generation
// programs off the event loop, with timeouts, bounded structured
// capture, and classification (spec.md §4.4). The caller must never
// hold a database handle across Run.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrorKind classifies why a subprocess invocation failed.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTimeout
	ErrorNonZeroExit
	ErrorSpawnFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTimeout:
		return "Timeout"
	case ErrorNonZeroExit:
		return "NonZeroExit"
	case ErrorSpawnFailed:
		return "SpawnFailed"
	default:
		return "None"
	}
}

// Result is the outcome of one Run call. The supervisor never
// interprets ExitCode beyond recording it — classifying retriable vs
// fatal is the pipeline engine's job.
type Result struct {
	Program  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Kind     ErrorKind
}

// Error implements error so a Result can be returned directly as the
// failure from Run when Kind != ErrorNone.
func (r *Result) Error() string {
	switch r.Kind {
	case ErrorTimeout:
		return fmt.Sprintf("%s %v: timed out after %s", r.Program, r.Args, r.Duration)
	case ErrorNonZeroExit:
		return fmt.Sprintf("%s %v: exit code %d: %s", r.Program, r.Args, r.ExitCode, truncateForError(r.Stderr))
	case ErrorSpawnFailed:
		return fmt.Sprintf("%s %v: failed to start", r.Program, r.Args)
	default:
		return ""
	}
}

func truncateForError(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}

// Supervisor runs external programs located under a fixed scripts
// directory.
type Supervisor struct {
	ScriptsDir      string
	DefaultTimeout  time.Duration
	MaxCaptureBytes int
	tracer          trace.Tracer
}

// New constructs a Supervisor. maxCaptureBytes <= 0 defaults to 1 MiB.
func New(scriptsDir string, defaultTimeout time.Duration, maxCaptureBytes int) *Supervisor {
	if maxCaptureBytes <= 0 {
		maxCaptureBytes = 1 << 20
	}
	return &Supervisor{
		ScriptsDir:      scriptsDir,
		DefaultTimeout:  defaultTimeout,
		MaxCaptureBytes: maxCaptureBytes,
		tracer:          otel.Tracer("subprocess"),
	}
}

// Run invokes program (located under ScriptsDir) with args and a
// wall-clock timeout, via the platform's shellless process API. args
// may contain file paths but must never contain secrets — callers are
// responsible for keeping credentials off argv.
func (s *Supervisor) Run(ctx context.Context, program string, args []string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}

	ctx, span := s.tracer.Start(ctx, "subprocess.Run", trace.WithAttributes(
		attribute.String("program", program),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := filepath.Join(s.ScriptsDir, program)
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.SysProcAttr = processGroupAttr()
	// On timeout or cancellation kill the whole process group, so a
	// grandchild still holding the output pipes cannot keep Wait blocked.
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	var stdout, stderr boundedBuffer
	stdout.limit = s.MaxCaptureBytes
	stderr.limit = s.MaxCaptureBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		res := &Result{Program: program, Args: args, Kind: ErrorSpawnFailed, Duration: time.Since(start)}
		span.RecordError(res)
		return res, res
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	res := &Result{
		Program:  program,
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		res.Kind = ErrorTimeout
		span.RecordError(res)
		return res, res
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			res.Kind = ErrorNonZeroExit
			span.RecordError(res)
			return res, res
		}
		res.Kind = ErrorSpawnFailed
		span.RecordError(res)
		return res, res
	}

	res.Kind = ErrorNone
	return res, nil
}

// boundedBuffer caps how much of a stream is retained, appending a
// clear truncation marker once the limit is hit, per spec.md §4.4.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
	trunc bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len() >= b.limit {
		b.trunc = true
		return len(p), nil
	}
	remaining := b.limit - b.buf.Len()
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.trunc = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	if b.trunc {
		return b.buf.String() + "\n...[truncated, output exceeded capture limit]..."
	}
	return b.buf.String()
}

// processGroupAttr and killProcessGroup are defined in the
// platform-specific files (supervisor_unix.go / supervisor_other.go)
// so the process-group kill on timeout works on the deployment target
// (Linux) without breaking compilation elsewhere.
