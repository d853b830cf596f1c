package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/logger"
)

const (
	// DefaultProgram is run when no program is configured
	DefaultProgram = "comx"
	// KeyFileEnv carries the scratch copy path to the program
	KeyFileEnv = "KEYGUARD_KEY_FILE"
	// PasswordEnv may hold the vault password. It is never passed on to
	// the program.
	PasswordEnv = "KEYGUARD_PASSWORD"
)

// Result is what the program produced
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError reports a program that ran but exited non-zero
type ExitError struct {
	Program string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Program, e.Code)
}

func (e *ExitError) Unwrap() error {
	return kgerrors.ErrExternal
}

// Exec runs Program with the key file path in its environment
type Exec struct {
	Program string
	Dir     string

	Stdin  io.Reader
	Stdout io.Writer // passthrough, nil discards
	Stderr io.Writer

	log *logger.Logger
}

// New returns an Exec for program that passes the caller's terminal
// through. An empty program means DefaultProgram.
func New(program string, log *logger.Logger) *Exec {
	if program == "" {
		program = DefaultProgram
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Exec{
		Program: program,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		log:     log,
	}
}

// Run executes the program synchronously with args. Cancelling ctx kills
// the program. The Result is returned whenever the program started, even
// when it failed.
func (e *Exec) Run(ctx context.Context, keyFile string, args []string) (*Result, error) {
	path, err := exec.LookPath(e.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find %s: %w", kgerrors.ErrExternal, e.Program, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = e.Dir
	cmd.Env = childEnv(os.Environ(), keyFile)
	cmd.Stdin = e.Stdin
	cmd.Stdout = tee(&stdout, e.Stdout)
	cmd.Stderr = tee(&stderr, e.Stderr)

	e.log.Debug().
		Str("program", path).
		Str("args", strings.Join(args, " ")).
		Msg("running external program")

	runErr := cmd.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%w: %s interrupted: %w", kgerrors.ErrExternal, e.Program, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, &ExitError{Program: e.Program, Code: exitErr.ExitCode()}
		}
		return result, fmt.Errorf("%w: failed to run %s: %w", kgerrors.ErrExternal, e.Program, runErr)
	}

	e.log.Debug().Int("exit_code", result.ExitCode).Msg("external program finished")
	return result, nil
}

// childEnv is environ without the vault password, with KeyFileEnv set to
// keyFile
func childEnv(environ []string, keyFile string) []string {
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, PasswordEnv+"=") || strings.HasPrefix(kv, KeyFileEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, KeyFileEnv+"="+keyFile)
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
