// Package connector defines the remote session used to drive a ledger node's
// administrative shell.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Result holds the output from command execution.
// A nonzero ExitCode is reported here and is not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the remote command exited with status zero.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Connector is a single authenticated session to a node host.
// A session handles one in-flight command at a time.
type Connector interface {
	// Connect establishes the session. Failures are *ConnectionError.
	Connect(ctx context.Context) error

	// Execute runs a command and returns its result. Only channel faults and
	// expired deadlines are returned as errors (*ExecutionError).
	Execute(ctx context.Context, cmd string) (*Result, error)

	// Upload streams src into the remote file dst, replacing any existing file.
	Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error

	// Close terminates the session. It is safe to call more than once.
	Close() error

	// String returns a human-readable description of the session.
	String() string
}

// Dialer creates and connects a fresh session for one logical operation.
type Dialer func(ctx context.Context) (Connector, error)

// ErrNotConnected is returned when a session is used before Connect or after Close.
var ErrNotConnected = errors.New("session is not connected")

// ConnectionError reports that a session could not be established.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError reports a channel-level fault while running a command.
type ExecutionError struct {
	Target string
	Cmd    string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to execute %q on %s: %v", e.Cmd, e.Target, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CommandError represents a remote command that ran but exited nonzero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Cmd)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		msg += fmt.Sprintf("\nstdout: %s", out)
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf("\nstderr: %s", strings.TrimSpace(e.Stderr))
	}
	return msg
}

// NewCommandError builds a CommandError from a failed result.
func NewCommandError(cmd string, res *Result) *CommandError {
	return &CommandError{
		Cmd:      cmd,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// WithSession dials a session, runs fn and closes the session on every exit path.
func WithSession(ctx context.Context, dial Dialer, fn func(Connector) error) (err error) {
	conn, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close session %s: %w", conn.String(), cerr)
		}
	}()
	return fn(conn)
}

// Dial connects conn and returns it, closing it again if Connect fails.
func Dial(ctx context.Context, conn Connector) (Connector, error) {
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &ConnectionError{Target: conn.String(), Err: err}
	}
	return conn, nil
}

// ShellQuote quotes a string for safe use in POSIX shell commands.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}

// UploadCommand returns the shell command that writes stdin to dst with mode.
func UploadCommand(dst string, mode uint32) string {
	q := ShellQuote(dst)
	return fmt.Sprintf("cat > %s && chmod %o %s", q, mode, q)
}
