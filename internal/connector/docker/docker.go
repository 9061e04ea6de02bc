// Package docker provides a session that drives a ledger node running in a
// local Docker container through `docker exec`.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
)

// Connector executes commands inside a Docker container.
type Connector struct {
	container string
	user      string
	workdir   string
	env       map[string]string
	binary    string

	mu        sync.Mutex
	connected bool
}

// Option configures the Docker connector.
type Option func(*Connector)

// WithUser sets the user for command execution.
func WithUser(user string) Option {
	return func(c *Connector) {
		c.user = user
	}
}

// WithWorkdir sets the working directory for command execution.
func WithWorkdir(dir string) Option {
	return func(c *Connector) {
		c.workdir = dir
	}
}

// WithEnv adds an environment variable for command execution.
func WithEnv(key, value string) Option {
	return func(c *Connector) {
		c.env[key] = value
	}
}

// WithBinary overrides the docker CLI binary.
func WithBinary(path string) Option {
	return func(c *Connector) {
		c.binary = path
	}
}

// New creates a new Docker connector for the specified container.
func New(container string, opts ...Option) *Connector {
	c := &Connector{
		container: container,
		env:       make(map[string]string),
		binary:    "docker",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect verifies the container exists and is running.
func (c *Connector) Connect(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return &connector.ConnectionError{Target: c.String(), Err: fmt.Errorf("docker command not found: %w", err)}
	}

	cmd := exec.CommandContext(ctx, c.binary, "inspect", "-f", "{{.State.Running}}", c.container)
	output, err := cmd.Output()
	if err != nil {
		return &connector.ConnectionError{Target: c.String(), Err: fmt.Errorf("container not found or not accessible: %w", err)}
	}

	if strings.TrimSpace(string(output)) != "true" {
		return &connector.ConnectionError{Target: c.String(), Err: errors.New("container is not running")}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Execute runs a command inside the container.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	return c.run(ctx, cmd, nil)
}

// Upload streams src into dst inside the container.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	cmd := connector.UploadCommand(dst, mode)
	res, err := c.run(ctx, cmd, src)
	if err != nil {
		return err
	}
	if !res.Success() {
		return connector.NewCommandError(cmd, res)
	}
	return nil
}

func (c *Connector) run(ctx context.Context, cmd string, stdin io.Reader) (*connector.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: connector.ErrNotConnected}
	}

	execCmd := exec.CommandContext(ctx, c.binary, c.ExecArgs(cmd)...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	if stdin != nil {
		execCmd.Stdin = stdin
	}
	// do not wait on grandchildren holding the pipes after a kill
	execCmd.WaitDelay = time.Second

	err := execCmd.Run()
	if ctx.Err() != nil {
		return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: ctx.Err()}
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

// ExecArgs returns the docker CLI arguments that run cmd in the container.
func (c *Connector) ExecArgs(cmd string) []string {
	// -i keeps stdin attached for uploads
	args := []string{"exec", "-i"}

	if c.user != "" {
		args = append(args, "-u", c.user)
	}

	if c.workdir != "" {
		args = append(args, "-w", c.workdir)
	}

	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, c.env[k]))
	}

	return append(args, c.container, "/bin/sh", "-c", cmd)
}

// Close marks the session closed.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	if c.user != "" {
		return fmt.Sprintf("docker://%s@%s", c.user, c.container)
	}
	return fmt.Sprintf("docker://%s", c.container)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
