// Package ssh provides a session to a node host over an authenticated SSH
// connection. Every command runs on its own SSH channel of one connection.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
)

// Config holds the SSH connection parameters.
type Config struct {
	Host string
	Port int
	User string

	// Password enables password authentication when non-empty.
	Password string

	// PrivateKey enables public key authentication when non-empty (PEM).
	PrivateKey []byte

	// Passphrase decrypts PrivateKey when it is encrypted.
	Passphrase []byte

	// KnownHostsFile verifies the host key. Empty accepts any host key.
	KnownHostsFile string

	// ConnectTimeout bounds dialing and the SSH handshake.
	ConnectTimeout time.Duration

	// CommandTimeout bounds every Execute and Upload. Zero means no limit.
	CommandTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connector is an SSH session.
type Connector struct {
	cfg Config
	log *logrus.Entry

	// cmdMu serializes commands; stateMu guards client.
	cmdMu   sync.Mutex
	stateMu sync.Mutex
	client  *gossh.Client
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithLogger sets the logger used for command tracing.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Connector) {
		c.log = log
	}
}

// New creates an unconnected SSH connector.
func New(cfg Config, opts ...Option) *Connector {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	c := &Connector{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Component(c.log, "ssh").WithField("target", c.String())
	return c
}

// Connect dials the host and performs the SSH handshake.
func (c *Connector) Connect(ctx context.Context) error {
	clientCfg, err := c.clientConfig()
	if err != nil {
		return &connector.ConnectionError{Target: c.String(), Err: err}
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	addr := c.cfg.Addr()
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &connector.ConnectionError{Target: c.String(), Err: err}
	}

	// The handshake does not take a context, so bound it with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = netConn.SetDeadline(time.Now()) })
	sshConn, chans, reqs, err := gossh.NewClientConn(netConn, addr, clientCfg)
	stop()
	if err != nil {
		_ = netConn.Close()
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return &connector.ConnectionError{Target: c.String(), Err: err}
	}
	_ = netConn.SetDeadline(time.Time{})

	c.stateMu.Lock()
	c.client = gossh.NewClient(sshConn, chans, reqs)
	c.stateMu.Unlock()

	c.log.Debug("SSH session established")
	return nil
}

func (c *Connector) clientConfig() (*gossh.ClientConfig, error) {
	var auth []gossh.AuthMethod
	if len(c.cfg.PrivateKey) > 0 {
		var (
			signer gossh.Signer
			err    error
		)
		if len(c.cfg.Passphrase) > 0 {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(c.cfg.PrivateKey, c.cfg.Passphrase)
		} else {
			signer, err = gossh.ParsePrivateKey(c.cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, gossh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		auth = append(auth, gossh.Password(c.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no authentication method configured")
	}

	hostKeyCallback := gossh.InsecureIgnoreHostKey()
	if c.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", c.cfg.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	} else {
		c.log.Warn("No known_hosts file configured, host key is not verified")
	}

	return &gossh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.ConnectTimeout,
	}, nil
}

// Execute runs a command on a new channel and returns the result.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	return c.run(ctx, cmd, nil)
}

// Upload pipes src into dst on the remote host.
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
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.stateMu.Lock()
	client := c.client
	c.stateMu.Unlock()
	if client == nil {
		return nil, c.execErr(cmd, connector.ErrNotConnected)
	}

	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, c.execErr(cmd, fmt.Errorf("failed to open channel: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	c.log.Debugf("Executing: %s", cmd)
	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Best effort: the remote process may keep running.
		_ = session.Signal(gossh.SIGKILL)
		_ = session.Close()
		return nil, c.execErr(cmd, ctx.Err())
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *gossh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, c.execErr(cmd, err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	c.log.WithFields(logrus.Fields{
		"exit":     result.ExitCode,
		"duration": time.Since(started).String(),
	}).Debugf("STDOUT: %s", result.Stdout)
	if result.Stderr != "" {
		c.log.Debugf("STDERR: %s", result.Stderr)
	}
	return result, nil
}

func (c *Connector) execErr(cmd string, err error) error {
	return &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: err}
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Connector) Close() error {
	c.stateMu.Lock()
	client := c.client
	c.client = nil
	c.stateMu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	c.log.Debug("SSH session closed")
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.cfg.User, c.cfg.Addr())
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
