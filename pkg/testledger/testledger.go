// Package testledger starts a disposable all-in-one Corda ledger container
// with two parties for integration tests.
package testledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eugenetaranov/ledgerlink/internal/config"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
)

// DefaultImage is the all-in-one ledger image.
const DefaultImage = "hyperledger/corda-all-in-one:latest"

// Container ports.
const (
	PortSSH        = 22
	PortPartyASSH  = 20013
	PortPartyBSSH  = 20014
	PortJolokiaA   = 7005
	PortJolokiaB   = 7006
	PortHawtIO     = 8080
	PortBraidA     = 8081
	PortBraidB     = 8082
	PortBraidHTTPS = 8083
	PortRPCPartyA  = 10013
	PortRPCPartyB  = 10014
)

// DefaultTimeout bounds the wait for a healthy container; the image starts
// two nodes.
const DefaultTimeout = 10 * time.Minute

// Contract directories inside the container.
const (
	CorDappsDirPartyA = "/opt/corda/partyA/cordapps"
	CorDappsDirPartyB = "/opt/corda/partyB/cordapps"
)

// Node restart commands; the image runs its nodes under supervisord.
const (
	StartCmdPartyA = "supervisorctl start partyA"
	StopCmdPartyA  = "supervisorctl stop partyA"
)

// ErrNotStarted is returned when the container was never created.
var ErrNotStarted = errors.New("ledger container was never created")

var exposedPorts = []int{
	PortSSH, PortPartyASSH, PortPartyBSSH, PortJolokiaA, PortJolokiaB,
	PortHawtIO, PortBraidA, PortBraidB, PortBraidHTTPS, PortRPCPartyA, PortRPCPartyB,
}

// Ledger is one ledger container.
type Ledger struct {
	image          string
	startupTimeout time.Duration
	log            *logrus.Entry

	mu        sync.Mutex
	container testcontainers.Container
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithImage overrides the container image.
func WithImage(image string) Option {
	return func(l *Ledger) {
		l.image = image
	}
}

// WithStartupTimeout bounds the wait for the container health check.
func WithStartupTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.startupTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// New creates a ledger; nothing runs until Start.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		image:          DefaultImage,
		startupTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logging.Component(l.log, "testledger")
	return l
}

// Image returns the container image.
func (l *Ledger) Image() string {
	return l.image
}

// Start runs the container and waits until it reports healthy. A container
// from an earlier Start is removed first.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.container != nil {
		if err := l.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to remove previous ledger container: %w", err)
		}
		l.container = nil
	}

	ports := make([]string, 0, len(exposedPorts))
	for _, p := range exposedPorts {
		ports = append(ports, fmt.Sprintf("%d/tcp", p))
	}

	req := testcontainers.ContainerRequest{
		Image:        l.image,
		ExposedPorts: ports,
		ConfigModifier: func(c *container.Config) {
			// the nodes need root inside the image
			c.User = "root"
		},
		WaitingFor: wait.ForHealthCheck().WithStartupTimeout(l.startupTimeout),
	}

	l.log.Infof("Starting ledger container from %s", l.image)
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if c != nil {
			_ = c.Terminate(context.WithoutCancel(ctx))
		}
		return fmt.Errorf("failed to start ledger container: %w", err)
	}
	l.container = c
	l.log.Infof("Ledger container %s is healthy", c.GetContainerID())
	return nil
}

// Stop stops the container without removing it.
func (l *Ledger) Stop(ctx context.Context) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	if err := c.Stop(ctx, nil); err != nil {
		return fmt.Errorf("failed to stop ledger container: %w", err)
	}
	return nil
}

// Destroy removes the container. It fails when the container was never
// created.
func (l *Ledger) Destroy(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.container == nil {
		return fmt.Errorf("nothing to destroy: %w", ErrNotStarted)
	}
	if err := l.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to remove ledger container: %w", err)
	}
	l.container = nil
	return nil
}

// Host returns the host on which mapped ports are reachable.
func (l *Ledger) Host(ctx context.Context) (string, error) {
	c, err := l.current()
	if err != nil {
		return "", err
	}
	return c.Host(ctx)
}

// MappedPort returns the host port for a container port.
func (l *Ledger) MappedPort(ctx context.Context, port int) (int, error) {
	c, err := l.current()
	if err != nil {
		return 0, err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(fmt.Sprintf("%d/tcp", port)))
	if err != nil {
		return 0, fmt.Errorf("failed to look up mapped port %d: %w", port, err)
	}
	return strconv.Atoi(mapped.Port())
}

// SSHConfig returns the administrative shell of the host running the nodes.
func (l *Ledger) SSHConfig(ctx context.Context) (config.Remote, error) {
	return l.remote(ctx, PortSSH, "root", "root")
}

// PartyASSHConfig returns party A's node shell.
func (l *Ledger) PartyASSHConfig(ctx context.Context) (config.Remote, error) {
	return l.remote(ctx, PortPartyASSH, "user1", "test")
}

// PartyBSSHConfig returns party B's node shell.
func (l *Ledger) PartyBSSHConfig(ctx context.Context) (config.Remote, error) {
	return l.remote(ctx, PortPartyBSSH, "user1", "test")
}

func (l *Ledger) remote(ctx context.Context, port int, user, password string) (config.Remote, error) {
	host, err := l.Host(ctx)
	if err != nil {
		return config.Remote{}, err
	}
	mapped, err := l.MappedPort(ctx, port)
	if err != nil {
		return config.Remote{}, err
	}
	r := config.Remote{
		Transport: config.TransportSSH,
		Host:      host,
		Port:      mapped,
		User:      user,
		Password:  password,
	}
	return r, nil
}

// ExecResult is the output of a command run inside the container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs cmd inside the container.
func (l *Ledger) Exec(ctx context.Context, cmd ...string) (*ExecResult, error) {
	c, err := l.current()
	if err != nil {
		return nil, err
	}

	exitCode, reader, err := c.Exec(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to exec %v: %w", cmd, err)
	}

	// stdout and stderr arrive multiplexed
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to read output of %v: %w", cmd, err)
	}
	return &ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (l *Ledger) current() (testcontainers.Container, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.container == nil {
		return nil, ErrNotStarted
	}
	return l.container, nil
}
