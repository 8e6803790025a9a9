package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/env"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// CommandName is the registry name of the command executor.
const CommandName = "command"

// Markers a driver prints on its own line to report progress.
const (
	StepMarker     = "STEP:"
	ArtifactMarker = "ARTIFACT:"
	FailMarker     = "FAIL:"
)

// exitNotFound is what sh returns when the driver binary is missing.
const exitNotFound = 127

const traceTailLines = 50

type commandSpec struct {
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Browser string            `yaml:"browser"`
}

// CommandExecutor runs an external driver through the shell. It is how
// browser-level units are bridged in: the driver performs the UI steps and
// reports them on stdout.
type CommandExecutor struct {
	shell    string
	resolver *env.Resolver
	now      func() time.Time
}

type CommandOption func(*CommandExecutor)

// WithShell sets the shell used to run commands (default "sh").
func WithShell(shell string) CommandOption {
	return func(e *CommandExecutor) {
		e.shell = shell
	}
}

// WithCommandResolver sets the resolver used for {{variable}} placeholders.
func WithCommandResolver(r *env.Resolver) CommandOption {
	return func(e *CommandExecutor) {
		e.resolver = r
	}
}

// NewCommandExecutor fails when the shell cannot be found, which the worker
// session reports as a setup fault.
func NewCommandExecutor(opts ...CommandOption) (*CommandExecutor, error) {
	e := &CommandExecutor{shell: "sh", now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = env.NewResolver()
	}
	if _, err := exec.LookPath(e.shell); err != nil {
		return nil, fmt.Errorf("shell %q not found: %w", e.shell, err)
	}
	return e, nil
}

func (e *CommandExecutor) Run(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
	var spec commandSpec
	if err := decodeSpec(unit.Spec, &spec); err != nil {
		return nil, &model.SetupError{Executor: CommandName, Err: fmt.Errorf("unit %s: %w", unit.ID, err)}
	}
	command := strings.TrimSpace(e.resolver.Resolve(spec.Command))
	if command == "" {
		return nil, &model.SetupError{Executor: CommandName, Err: fmt.Errorf("unit %s: command is required", unit.ID)}
	}

	a := &model.Attempt{Number: attempt, StartedAt: e.now()}
	defer func() { a.EndedAt = e.now() }()

	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	cmd.Dir = e.workDir(unit, spec.Dir)
	cmd.Env = append(os.Environ(),
		"QARUN_UNIT_ID="+unit.ID,
		"QARUN_ATTEMPT="+strconv.Itoa(attempt),
		"QARUN_CATEGORY="+string(unit.Category),
	)
	if spec.Browser != "" {
		cmd.Env = append(cmd.Env, "QARUN_BROWSER="+e.resolver.Resolve(spec.Browser))
	}
	for k, v := range e.resolver.ResolveAll(spec.Env) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	report := parseDriverOutput(out.Bytes())
	a.Steps = report.steps
	for _, path := range report.artifacts {
		if !filepath.IsAbs(path) {
			path = filepath.Join(cmd.Dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			a.Steps = append(a.Steps, fmt.Sprintf("artifact %s unreadable: %v", filepath.Base(path), err))
			continue
		}
		a.Captures = append(a.Captures, model.Blob{Name: filepath.Base(path), Data: data})
	}

	if runErr == nil {
		a.Status = model.StatusPass
		return a, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		a.Status = model.StatusTimeout
		a.Failure = &model.Failure{Message: "driver command timed out", Trace: report.tail}
		a.Captures = append(a.Captures, model.Blob{Name: "output.log", Data: out.Bytes()})
		return a, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return nil, &model.SetupError{Executor: CommandName, Err: runErr}
	}
	if exitErr.ExitCode() == exitNotFound {
		return nil, &model.SetupError{Executor: CommandName, Err: fmt.Errorf("driver not found: %s", report.lastLine)}
	}

	a.Status = model.StatusFail
	msg := report.failure
	if msg == "" {
		msg = report.lastLine
	}
	if msg == "" {
		msg = runErr.Error()
	}
	a.Failure = &model.Failure{Message: msg, Trace: report.tail}
	a.Captures = append(a.Captures, model.Blob{Name: "output.log", Data: out.Bytes()})
	return a, nil
}

func (e *CommandExecutor) workDir(unit *model.TestUnit, dir string) string {
	dir = e.resolver.Resolve(dir)
	base := baseDir(unit)
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}

type driverReport struct {
	steps     []string
	artifacts []string
	failure   string
	lastLine  string
	tail      string
}

// parseDriverOutput extracts STEP:, ARTIFACT: and FAIL: lines. Everything
// else is plain output; its last non-empty line and a bounded tail are kept
// for failure messages.
func parseDriverOutput(out []byte) driverReport {
	var r driverReport
	var lines []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		lines = append(lines, line)

		switch {
		case strings.HasPrefix(trimmed, StepMarker):
			r.steps = append(r.steps, strings.TrimSpace(strings.TrimPrefix(trimmed, StepMarker)))
		case strings.HasPrefix(trimmed, ArtifactMarker):
			if p := strings.TrimSpace(strings.TrimPrefix(trimmed, ArtifactMarker)); p != "" {
				r.artifacts = append(r.artifacts, p)
			}
		case strings.HasPrefix(trimmed, FailMarker):
			r.failure = strings.TrimSpace(strings.TrimPrefix(trimmed, FailMarker))
		case trimmed != "":
			r.lastLine = trimmed
		}
	}

	if len(lines) > traceTailLines {
		lines = lines[len(lines)-traceTailLines:]
	}
	r.tail = strings.Join(lines, "\n")
	return r
}
